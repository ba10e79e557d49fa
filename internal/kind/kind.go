// Package kind defines the Kind collaborator (§6 of the spec): an opaque
// handle naming a backing memory region. The tiering core treats Kind
// implementations as external collaborators — "the underlying
// page-granular kind implementations (mapping pages to NUMA nodes or
// devices)" are explicitly out of scope for the core decision engine — but
// this module ships a small set of concrete Kinds (internal/kinddram,
// internal/kindbadger, internal/kindvalkey) so the engine has something
// real to place allocations onto, and so the domain dependencies those
// packages exercise (badger, zstd, valkey) have a caller.
//
// The interface shape is cross-checked against a second, independently
// designed store interface (codeGROOVE-dev/sfcache's persist.Store[K,V]:
// ValidateKey/Get/Set/Delete/Len/Close) so it is not accidentally shaped
// around badger alone.
//
// © 2025 memtier authors. MIT License.
package kind

import "errors"

// Addr is a synthetic address: an opaque, monotonically-issued handle a
// Kind hands back from an allocating call. It plays the role of a real
// pointer without requiring unsafe memory tricks for kinds that are not
// in-process (kindbadger, kindvalkey).
type Addr uintptr

// ErrNotFound reports an unknown address. Free and UsableSize have no
// error result (an unknown addr is a no-op and 0 respectively), and the
// Kinds in this module treat Realloc of an unknown addr as a fresh Malloc;
// kinddram's Malloc also returns ErrNotFound for a negative size.
var ErrNotFound = errors.New("kind: address not found")

// Kind is the external collaborator the core's allocation façade and
// placement policies drive. Implementations must be safe for concurrent
// use by multiple goroutines.
type Kind interface {
	// Name is a human-readable label (used by telemetry labels and the
	// CLI inspector).
	Name() string

	// Partition is a stable small integer identifying this Kind, used as
	// an index into the accountant's per-kind counter arrays.
	Partition() uint16

	// Malloc allocates size bytes and returns a handle to them.
	Malloc(size int) (Addr, error)
	// Calloc allocates n*size zero-initialised bytes.
	Calloc(n, size int) (Addr, error)
	// Realloc resizes the block at addr to size bytes, possibly
	// returning a new Addr (the old one becomes invalid either way).
	Realloc(addr Addr, size int) (Addr, error)
	// PosixMemalign allocates size bytes aligned to align (a power of
	// two); implementations that cannot honour alignment exactly may
	// over-allocate and return an interior-aligned Addr.
	PosixMemalign(align, size int) (Addr, error)
	// Free releases the block at addr. Freeing an unknown or
	// already-freed addr is a no-op.
	Free(addr Addr)
	// UsableSize returns the real allocated size backing addr, which may
	// be larger than what was requested (e.g. due to alignment or
	// bucket rounding). Returns 0 for an unknown addr.
	UsableSize(addr Addr) int
	// DetectKind reports whether addr was allocated by this Kind.
	DetectKind(addr Addr) bool
}

// Registry resolves an Addr back to the Kind that owns it by asking each
// registered Kind in turn. It backs the façade's free()/realloc() "detect
// kind from pointer" step described in spec §4.9.
type Registry struct {
	kinds []Kind
}

// NewRegistry constructs a Registry over the given kinds, indexed by tier
// order (tier i's partition need not equal i, but Kinds returned later in
// kinds shadow none of the earlier ones — DetectKind is expected to be
// mutually exclusive across Kinds for any given Addr).
func NewRegistry(kinds []Kind) *Registry {
	return &Registry{kinds: append([]Kind(nil), kinds...)}
}

// Detect returns the Kind owning addr, or nil if none of the registered
// Kinds recognise it.
func (r *Registry) Detect(addr Addr) Kind {
	for _, k := range r.kinds {
		if k.DetectKind(addr) {
			return k
		}
	}
	return nil
}

// Kinds returns the registered kinds in registration order.
func (r *Registry) Kinds() []Kind { return r.kinds }
