// Package kinddram implements a fast, in-process Kind (§6) backed by plain
// Go memory: a bump allocator over byte slabs, rotated through fixed-size
// generations so that whole slabs are released in O(1) when their
// generation rotates out of the ring, rather than freeing block-by-block.
//
// This replaces the teacher's internal/arena package (a thin wrapper over
// Go's build-tagged goexperiment.arenas package) with a plain []byte bump
// allocator: goexperiment.arenas is not a stable, generally-available
// feature, and a tiered allocator front-end should not require an
// experimental toolchain flag just to exercise its fastest tier. The
// rotation/TTL structure is adapted from the teacher's internal/genring.
//
// © 2025 memtier authors. MIT License.
package kinddram

import (
	"fmt"

	"github.com/PatKamin/memtier/internal/unsafehelpers"
)

// slab is a single bump-allocated byte arena. Allocation is append-only;
// individual blocks are never reclaimed — the whole slab is released at
// once when its generation rotates out, exactly like the teacher's
// arena.Free() contract.
type slab struct {
	buf    []byte
	offset int
}

func newSlab(capacity int) *slab {
	return &slab{buf: make([]byte, capacity)}
}

// alloc bump-allocates n bytes, returning the offset it starts at, or
// ok=false if the slab has insufficient room.
func (s *slab) alloc(n int) (offset int, ok bool) {
	if s.offset+n > len(s.buf) {
		return 0, false
	}
	offset = s.offset
	s.offset += n
	return offset, true
}

// allocAligned bump-allocates n bytes at an address whose offset from the
// slab's start is a multiple of align (a power of two), using
// unsafehelpers.AlignUp for the rounding. padded reports the total bytes
// consumed from the bump pointer, including alignment filler, for the
// ring's capacity accounting.
func (s *slab) allocAligned(n, align int) (offset, padded int, ok bool) {
	start := int(unsafehelpers.AlignUp(uintptr(s.offset), uintptr(align)))
	if start+n > len(s.buf) {
		return 0, 0, false
	}
	padded = (start - s.offset) + n
	s.offset = start + n
	return start, padded, true
}

func (s *slab) bytes(offset, n int) []byte {
	if offset < 0 || n < 0 || offset+n > len(s.buf) {
		panic(fmt.Sprintf("kinddram: slab range [%d:%d) out of bounds (cap %d)", offset, offset+n, len(s.buf)))
	}
	return s.buf[offset : offset+n]
}

func (s *slab) used() int { return s.offset }
func (s *slab) cap() int  { return len(s.buf) }
