// Package memtier's allocation façade (C9): the public Malloc/Calloc/
// Realloc/PosixMemalign/Free/UsableSize surface the core spec's §4.9
// describes, wired on top of Builder.Construct's collaborators.
//
// The ordering guarantees an allocating call makes are fixed:
//
//	(kind, data) = policy.SelectKind(size)
//	addr, err    = kind.<verb>(...)
//	accountant.Add(tierIndex[kind], kind.UsableSize(addr))
//	policy.PostAlloc(data, addr, size)
//	policy.UpdateCfg()
//
// and Free's:
//
//	kind = registry.Detect(addr)
//	accountant.Sub(tierIndex[kind], kind.UsableSize(addr))
//	if policy.IsDataHotness(): push DESTROY_REMOVE
//	kind.Free(addr)
//
// This mirrors the teacher's shard.put/shard.delete split between a fast,
// lock-cheap path and exclusive bookkeeping, except here the "lock" is
// nothing more than the policy's own internal state plus the accountant's
// shard-local atomics — there is no mutex on this path at all.
//
// © 2025 memtier authors. MIT License.
package memtier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/PatKamin/memtier/internal/accountant"
	"github.com/PatKamin/memtier/internal/event"
	"github.com/PatKamin/memtier/internal/evqueue"
	"github.com/PatKamin/memtier/internal/kind"
	"github.com/PatKamin/memtier/internal/policy"
	"github.com/PatKamin/memtier/internal/ranking"
	"github.com/PatKamin/memtier/internal/telemetry"
	"github.com/PatKamin/memtier/internal/worker"
)

// MemoryHandle is the live, constructed tiering engine: a policy plus its
// accountant, kind registry and (for the data-hotness policy) the ranking
// worker goroutine. The zero value is not usable; construct with
// Builder.Construct.
type MemoryHandle struct {
	policy    policy.Policy
	acc       *accountant.Accountant
	registry  *kind.Registry
	tierIndex map[kind.Kind]int

	// Populated only for the data-hotness policy.
	queue  *evqueue.Queue[event.Event]
	worker *worker.Worker
	engine *ranking.Engine
	cancel context.CancelFunc

	sink   telemetry.Sink
	tracer *telemetry.Tracer
	logger *zap.Logger
}

// Malloc allocates size bytes, routed by the configured placement policy.
func (h *MemoryHandle) Malloc(size int) (kind.Addr, error) {
	return h.allocate(int64(size), func(k kind.Kind) (kind.Addr, error) { return k.Malloc(size) })
}

// Calloc allocates n*size zero-initialised bytes.
func (h *MemoryHandle) Calloc(n, size int) (kind.Addr, error) {
	return h.allocate(int64(n)*int64(size), func(k kind.Kind) (kind.Addr, error) { return k.Calloc(n, size) })
}

// PosixMemalign allocates size bytes aligned to align.
func (h *MemoryHandle) PosixMemalign(align, size int) (kind.Addr, error) {
	return h.allocate(int64(size), func(k kind.Kind) (kind.Addr, error) { return k.PosixMemalign(align, size) })
}

func (h *MemoryHandle) allocate(size int64, do func(kind.Kind) (kind.Addr, error)) (kind.Addr, error) {
	_, span := h.tracer.SelectKind(context.Background(), size)
	k, token := h.policy.SelectKind(size)
	span.End()
	if k == nil {
		return 0, fmt.Errorf("memtier: policy selected no kind for size %d", size)
	}
	addr, err := do(k)
	if err != nil {
		return 0, err
	}

	idx, ok := h.tierIndex[k]
	if !ok {
		return 0, fmt.Errorf("memtier: kind %q not registered with this handle", k.Name())
	}
	h.acc.Add(idx, int64(k.UsableSize(addr)))
	h.policy.PostAlloc(token, addr, size)
	h.policy.UpdateCfg()
	h.sink.IncPlacement(k.Name())
	h.sink.SetKindBytes(k.Name(), h.acc.Snapshot(idx))
	return addr, nil
}

// Realloc resizes the block at addr to size bytes. addr==0 behaves like
// Malloc; an addr unknown to every registered kind also falls back to
// Malloc rather than erroring, matching libc realloc(NULL, size) and
// realloc-of-garbage-pointer-is-undefined-so-treat-as-fresh semantics the
// core spec assumes of its C callers.
func (h *MemoryHandle) Realloc(addr kind.Addr, size int) (kind.Addr, error) {
	if addr == 0 {
		return h.Malloc(size)
	}
	k := h.registry.Detect(addr)
	if k == nil {
		return h.Malloc(size)
	}

	oldSize := k.UsableSize(addr)
	newAddr, err := k.Realloc(addr, size)
	if err != nil {
		return 0, err
	}

	idx := h.tierIndex[k]
	newSize := k.UsableSize(newAddr)
	switch delta := int64(newSize) - int64(oldSize); {
	case delta > 0:
		h.acc.Add(idx, delta)
		h.sink.AddKindBytes(k.Name(), delta)
	case delta < 0:
		h.acc.Sub(idx, -delta)
		h.sink.AddKindBytes(k.Name(), delta)
	}

	if h.policy.IsDataHotness() {
		ev := event.Event{Type: event.Realloc, Addr: uintptr(newAddr), OldAddr: uintptr(addr), Size: int64(size)}
		if !h.queue.Push(ev) {
			h.sink.IncQueueDrop()
		}
	}
	h.policy.UpdateCfg()
	return newAddr, nil
}

// Free releases the block at addr. Freeing an address unknown to every
// registered kind is a no-op.
func (h *MemoryHandle) Free(addr kind.Addr) {
	k := h.registry.Detect(addr)
	if k == nil {
		return
	}
	idx := h.tierIndex[k]
	h.acc.Sub(idx, int64(k.UsableSize(addr)))
	h.sink.SetKindBytes(k.Name(), h.acc.Snapshot(idx))

	if h.policy.IsDataHotness() {
		if !h.queue.Push(event.Event{Type: event.DestroyRemove, Addr: uintptr(addr)}) {
			h.sink.IncQueueDrop()
		}
	}
	k.Free(addr)
}

// UsableSize returns the real allocated size backing addr, or 0 if addr is
// unknown to every registered kind.
func (h *MemoryHandle) UsableSize(addr kind.Addr) int {
	k := h.registry.Detect(addr)
	if k == nil {
		return 0
	}
	return k.UsableSize(addr)
}

// TierLiveBytes reports the accountant's current live-byte snapshot for
// tier i, for telemetry exporters and the CLI inspector.
func (h *MemoryHandle) TierLiveBytes(i int) int64 {
	return h.acc.Snapshot(i)
}

// Tiers returns the configured tiers in order.
func (h *MemoryHandle) Tiers() []policy.Tier { return h.policy.Tiers() }

// RecomputeHotThreshold forces an out-of-band hotness-threshold
// recalculation; a no-op unless the handle was built with
// DataHotnessPolicy. Exposed for ctl_set-driven manual recomputation.
func (h *MemoryHandle) RecomputeHotThreshold() float64 {
	if h.worker == nil {
		return 0
	}
	v := h.worker.Recompute()
	h.sink.SetHotThreshold(v)
	return v
}

// Close stops the ranking worker goroutine, if one was started. Safe to
// call on a handle without one.
func (h *MemoryHandle) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}
