// Package accountant implements the sharded byte accountant (C1): a
// per-kind, approximately-exact live-byte counter designed to stay
// wait-free on the allocator fast path under heavy multi-threaded load.
//
// The design mirrors the teacher's shard-local atomic counters
// (pkg/shard.go's hits/misses/evictions atomic.Uint64 fields, one set per
// shard to avoid a single contended cache line) generalised from a fixed
// per-shard count to a 256-way, thread-hashed array of signed counters plus
// one global total per kind.
//
// © 2025 memtier authors. MIT License.
package accountant

import (
	"sync/atomic"
	"unsafe"
)

// numShards is fixed at 256: enough to keep contention near zero on
// typical CPU core counts while keeping per-kind memory overhead small
// (256 * 8 bytes = 2KiB per kind).
const numShards = 256

// flushThreshold is the absolute shard value (in bytes) past which a
// caller folds its shard into the global counter. ~50KiB, per spec.
const flushThreshold = 50 * 1024

// Accountant tracks live bytes allocated per kind. The zero value is not
// ready to use; construct with New.
type Accountant struct {
	kinds []kindCounters
}

type kindCounters struct {
	shards [numShards]atomic.Int64
	global atomic.Int64
}

// New constructs an Accountant tracking n kinds, addressed by partition
// index [0, n).
func New(n int) *Accountant {
	return &Accountant{kinds: make([]kindCounters, n)}
}

// shardIndex hashes the address of a stack-local byte via SplitMix64 to
// pick a shard. Go exposes no public goroutine-id API, so a stack address
// stands in for the "thread identifier" the spec calls for: it is cheap,
// requires no runtime introspection, and is reasonably well distributed
// across concurrent callers without needing to be stable across calls.
func shardIndex() uint8 {
	var local byte
	h := splitMix64(uint64(uintptr(unsafe.Pointer(&local))))
	return uint8(h & (numShards - 1))
}

func splitMix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Add accounts `n` newly allocated bytes for kind `partition`.
func (a *Accountant) Add(partition int, n int64) {
	a.update(partition, n)
}

// Sub accounts `n` freed bytes for kind `partition`.
func (a *Accountant) Sub(partition int, n int64) {
	a.update(partition, -n)
}

func (a *Accountant) update(partition int, delta int64) {
	k := &a.kinds[partition]
	shard := &k.shards[shardIndex()]
	v := shard.Add(delta)
	if v > flushThreshold || v < -flushThreshold {
		if shard.CompareAndSwap(v, 0) {
			k.global.Add(v)
		}
	}
}

// Snapshot sums every shard (folding each into the global counter as it
// goes) and returns kind `partition`'s current total live bytes. Exact at
// the instant it returns, modulo concurrent writers racing in underneath
// it (the accountant is only eventually consistent).
func (a *Accountant) Snapshot(partition int) int64 {
	k := &a.kinds[partition]
	for i := range k.shards {
		shard := &k.shards[i]
		v := shard.Load()
		if v == 0 {
			continue
		}
		if shard.CompareAndSwap(v, 0) {
			k.global.Add(v)
		}
	}
	return k.global.Load()
}

// Reset zeroes all counters for kind `partition`. Intended for tests and
// benchmark harness reuse, never called on a live handle.
func (a *Accountant) Reset(partition int) {
	k := &a.kinds[partition]
	for i := range k.shards {
		k.shards[i].Store(0)
	}
	k.global.Store(0)
}

// N returns the number of kinds this accountant was constructed for.
func (a *Accountant) N() int { return len(a.kinds) }
