package kinddram

import (
	"sync/atomic"
	"time"
)

// generation owns one slab plus its liveness accounting. Adapted from the
// teacher's internal/genring.generation: same id/created/bytes shape, slab
// in place of an *arena.Arena.
type generation struct {
	id      uint32
	sl      *slab // nil once freed
	created time.Time
	bytes   atomic.Int64
}

func newGeneration(id uint32, slabCap int) *generation {
	return &generation{id: id, sl: newSlab(slabCap), created: time.Now()}
}

func (g *generation) addBytes(n int64) { g.bytes.Add(n) }
func (g *generation) subBytes(n int64) { g.bytes.Add(-n) }
func (g *generation) size() int64      { return g.bytes.Load() }

func (g *generation) free() { g.sl = nil }

// ring is a fixed-width circular buffer of generations, adapted from the
// teacher's internal/genring.Ring: same rotate-on-capacity-or-TTL shape,
// specialised to kinddram's Addr-keyed blocks instead of a generic cache
// key/value pair (kinddram has no notion of a cache value — only raw
// byte ranges — so the K,V type parameters the teacher needed for its
// eviction callback have no referent here and are dropped).
type ring struct {
	gens        []*generation
	activeIdx   int
	ttl         time.Duration
	perGenBytes int64
	slabCap     int

	idCtr atomic.Uint32
}

const defaultGenerations = 4

func newRing(totalCapBytes int64, slabCap int, ttl time.Duration) *ring {
	perGen := totalCapBytes / defaultGenerations
	if perGen <= 0 {
		perGen = totalCapBytes
	}
	r := &ring{
		ttl:         ttl,
		perGenBytes: perGen,
		slabCap:     slabCap,
		gens:        make([]*generation, defaultGenerations),
	}
	r.idCtr.Store(1)
	r.gens[0] = newGeneration(r.idCtr.Load(), slabCap)
	return r
}

func (r *ring) active() *generation { return r.gens[r.activeIdx] }

// needsRotation reports whether the active generation's byte budget is
// exhausted after accounting delta bytes, or whether the generation has
// outlived the ring's ttl (a non-positive ttl disables the age check).
func (r *ring) needsRotation(delta int64) bool {
	g := r.active()
	g.addBytes(delta)
	return g.size() > r.perGenBytes || (r.ttl > 0 && time.Since(g.created) > r.ttl)
}

// rotate advances to a fresh generation, freeing whichever generation
// falls out of the ring's fixed window. Returns the freed generation's id
// (0 if the slot was previously empty).
func (r *ring) rotate() uint32 {
	nextIdx := (r.activeIdx + 1) % len(r.gens)
	var freedID uint32
	if dead := r.gens[nextIdx]; dead != nil {
		freedID = dead.id
		dead.free()
	}
	newID := r.idCtr.Add(1)
	r.gens[nextIdx] = newGeneration(newID, r.slabCap)
	r.activeIdx = nextIdx
	return freedID
}

func (r *ring) liveBytes() int64 {
	var total int64
	for _, g := range r.gens {
		if g != nil {
			total += g.size()
		}
	}
	return total
}

// byID finds a still-live generation, or nil if it has rotated out.
func (r *ring) byID(id uint32) *generation {
	for _, g := range r.gens {
		if g != nil && g.id == id && g.sl != nil {
			return g
		}
	}
	return nil
}
