package kinddram

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/PatKamin/memtier/internal/kind"
	"github.com/PatKamin/memtier/internal/unsafehelpers"
)

// block records where a live allocation's bytes live: which generation's
// slab, at what offset, and how large. Freeing a block only removes this
// record — the underlying slab bytes are reclaimed in bulk when the owning
// generation rotates out, matching the teacher's arena-reclaim-by-whole
// bump-allocator-release model.
type block struct {
	genID  uint32
	offset int
	size   int
}

// Kind is the fast in-process tier: a DefaultConfig().CapacityBytes budget
// split across a small ring of bump-allocator generations. It implements
// internal/kind.Kind.
type Kind struct {
	name      string
	partition uint16

	mu     sync.Mutex
	ring   *ring
	blocks map[kind.Addr]block

	nextAddr atomic.Uintptr
}

// Config tunes kinddram's capacity and generation TTL.
type Config struct {
	Name          string
	Partition     uint16
	CapacityBytes int64
	GenerationTTL time.Duration
}

// DefaultConfig is a modest 64MiB fast tier with a one-minute generation
// window — deliberately small so tests can exercise rotation quickly by
// overriding CapacityBytes.
func DefaultConfig() Config {
	return Config{
		Name:          "dram",
		Partition:     0,
		CapacityBytes: 64 << 20,
		GenerationTTL: time.Minute,
	}
}

// New constructs a kinddram.Kind.
func New(cfg Config) *Kind {
	if cfg.CapacityBytes <= 0 {
		cfg.CapacityBytes = DefaultConfig().CapacityBytes
	}
	slabCap := int(cfg.CapacityBytes / defaultGenerations)
	if slabCap <= 0 {
		slabCap = int(cfg.CapacityBytes)
	}
	k := &Kind{
		name:      cfg.Name,
		partition: cfg.Partition,
		ring:      newRing(cfg.CapacityBytes, slabCap, cfg.GenerationTTL),
		blocks:    make(map[kind.Addr]block),
	}
	k.nextAddr.Store(1)
	return k
}

func (k *Kind) Name() string      { return k.name }
func (k *Kind) Partition() uint16 { return k.partition }

func (k *Kind) Malloc(size int) (kind.Addr, error) {
	if size < 0 {
		return 0, kind.ErrNotFound
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	g := k.ring.active()
	offset, ok := g.sl.alloc(size)
	if !ok {
		k.ring.rotate()
		g = k.ring.active()
		offset, ok = g.sl.alloc(size)
		if !ok {
			// size exceeds a whole slab; give it its own oversized slab so
			// Malloc never fails purely on a large request.
			g.sl = newSlab(size)
			offset, _ = g.sl.alloc(size)
		}
	}
	if k.ring.needsRotation(int64(size)) {
		k.ring.rotate()
	}

	addr := kind.Addr(k.nextAddr.Add(1))
	k.blocks[addr] = block{genID: g.id, offset: offset, size: size}
	return addr, nil
}

func (k *Kind) Calloc(n, size int) (kind.Addr, error) {
	addr, err := k.Malloc(n * size)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	buf := k.bytesLocked(addr)
	for i := range buf {
		buf[i] = 0
	}
	k.mu.Unlock()
	return addr, nil
}

func (k *Kind) Realloc(addr kind.Addr, size int) (kind.Addr, error) {
	k.mu.Lock()
	old, ok := k.blocks[addr]
	k.mu.Unlock()
	if !ok {
		return k.Malloc(size)
	}
	newAddr, err := k.Malloc(size)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	dst := k.bytesLocked(newAddr)
	src := k.bytesLocked(addr)
	n := old.size
	if size < n {
		n = size
	}
	copy(dst[:n], src[:n])
	delete(k.blocks, addr)
	k.mu.Unlock()
	return newAddr, nil
}

func (k *Kind) PosixMemalign(align, size int) (kind.Addr, error) {
	if align <= 0 || !unsafehelpers.IsPowerOfTwo(uintptr(align)) {
		return k.Malloc(size)
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	g := k.ring.active()
	alignedOffset, padded, ok := g.sl.allocAligned(size, align)
	if !ok {
		k.ring.rotate()
		g = k.ring.active()
		alignedOffset, padded, ok = g.sl.allocAligned(size, align)
		if !ok {
			g.sl = newSlab(size + align)
			alignedOffset, padded, _ = g.sl.allocAligned(size, align)
		}
	}
	if k.ring.needsRotation(int64(padded)) {
		k.ring.rotate()
	}

	addr := kind.Addr(k.nextAddr.Add(1))
	k.blocks[addr] = block{genID: g.id, offset: alignedOffset, size: size}
	return addr, nil
}

func (k *Kind) Free(addr kind.Addr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.blocks[addr]
	if !ok {
		return
	}
	if g := k.ring.byID(b.genID); g != nil {
		g.subBytes(int64(b.size))
	}
	delete(k.blocks, addr)
}

func (k *Kind) UsableSize(addr kind.Addr) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.blocks[addr]
	if !ok {
		return 0
	}
	return b.size
}

func (k *Kind) DetectKind(addr kind.Addr) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.blocks[addr]
	return ok
}

// LiveBytes reports the ring's current total live-byte estimate, for
// telemetry gauges.
func (k *Kind) LiveBytes() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ring.liveBytes()
}

// bytesLocked returns the backing byte range for addr. Caller must hold
// k.mu and addr must be known.
func (k *Kind) bytesLocked(addr kind.Addr) []byte {
	b := k.blocks[addr]
	g := k.ring.byID(b.genID)
	if g == nil || g.sl == nil {
		return make([]byte, b.size) // generation rotated out: zero scratch
	}
	return g.sl.bytes(b.offset, b.size)
}

var _ kind.Kind = (*Kind)(nil)
