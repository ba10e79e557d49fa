// Package unsafehelpers holds the pointer-arithmetic helpers (alignment
// rounding, power-of-two checks) shared by memtier's allocators. It does
// not itself import `unsafe`; internal/accountant imports it directly for
// its shard hash.  Every helper is documented with clear pre‑/post‑
// conditions.
//
// © 2025 memtier authors. MIT License.

package unsafehelpers

/* -------------------------------------------------------------------------
   Alignment helpers
   ------------------------------------------------------------------------- */

// AlignUp rounds x up to the nearest multiple of align (which must be a power
// of two).  Fast bit‑twiddling alternative to math.Ceil for sizes.
func AlignUp(x, align uintptr) uintptr {
    return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uintptr) bool {
    return x != 0 && (x&(x-1)) == 0
}
