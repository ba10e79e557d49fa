// Package worker implements the ranking worker (C6, "tachanka" in the
// original): the single goroutine that owns the ranking engine's tree and
// the fingerprint/address indices. Every allocator fast path only ever
// touches atomics (internal/accountant, TypeEntry.F, the cached hot
// threshold); this worker is the sole writer of the non-atomic state,
// draining internal/evqueue and applying the ranking law.
//
// The design mirrors the teacher's internal/clockpro package: a
// single-owner data structure fed by a channel-like interface, with no
// internal locking, fronted here instead by a lock-free SRMW queue rather
// than a mutex-guarded channel.
//
// © 2025 memtier authors. MIT License.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/PatKamin/memtier/internal/event"
	"github.com/PatKamin/memtier/internal/evqueue"
	"github.com/PatKamin/memtier/internal/ranking"
	"github.com/PatKamin/memtier/internal/telemetry"
)

// allocInfo is the per-live-block bookkeeping the worker needs to route
// DESTROY_REMOVE/REALLOC/TOUCH events back to a type entry without the
// caller having to resend the fingerprint.
type allocInfo struct {
	hash uint64
	size int64
}

// Config tunes the worker's poll/recompute cadence.
type Config struct {
	// PollInterval bounds how long Run's drain loop sleeps when the
	// queue is empty, trading CPU for latency.
	PollInterval time.Duration
	// RecomputeInterval is how often the hot/cold threshold is
	// refreshed from the current tree contents.
	RecomputeInterval time.Duration
	// HotRatio is the r fraction passed to Engine.CalcHotThresholdTotal
	// on every periodic recompute.
	HotRatio float64
}

// DefaultConfig polls an empty queue every millisecond and refreshes the
// hot/cold threshold every 200ms with r = 0.5.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Millisecond,
		RecomputeInterval: 200 * time.Millisecond,
		HotRatio:          0.5,
	}
}

// Worker drains an event queue and drives a ranking.Engine.
type Worker struct {
	cfg    Config
	queue  *evqueue.Queue[event.Event]
	engine *ranking.Engine
	logger *zap.Logger
	sink   telemetry.Sink

	types map[uint64]*ranking.TypeEntry
	addrs map[uintptr]*allocInfo
}

// New constructs a Worker. A nil logger is replaced with zap.NewNop().
func New(cfg Config, queue *evqueue.Queue[event.Event], engine *ranking.Engine, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:    cfg,
		queue:  queue,
		engine: engine,
		logger: logger,
		sink:   telemetry.NewNoop(),
		types:  make(map[uint64]*ranking.TypeEntry),
		addrs:  make(map[uintptr]*allocInfo),
	}
}

// SetSink attaches a telemetry sink so the worker can export queue-depth
// gauges. A nil sink leaves the existing (no-op by default) sink in place.
func (w *Worker) SetSink(s telemetry.Sink) {
	if s != nil {
		w.sink = s
	}
}

// Run drains the queue and periodically recomputes the hot threshold until
// ctx is cancelled. It is meant to be run in its own goroutine; it is the
// only goroutine that may call the unexported mutation helpers below.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RecomputeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainRemaining()
			return
		case <-ticker.C:
			w.engine.CalcHotThresholdTotal(w.cfg.HotRatio)
		default:
			if ev, ok := w.queue.Pop(); ok {
				w.handle(ev)
				continue
			}
			select {
			case <-ctx.Done():
				w.drainRemaining()
				return
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

// drainRemaining applies any events still buffered at shutdown so the
// engine's final state reflects every accepted event exactly once.
func (w *Worker) drainRemaining() {
	for {
		ev, ok := w.queue.Pop()
		if !ok {
			return
		}
		w.handle(ev)
	}
}

// Step drains at most one pending event and reports whether it found one.
// Exposed for tests that want deterministic, synchronous control instead
// of racing against Run's goroutine.
func (w *Worker) Step() bool {
	ev, ok := w.queue.Pop()
	if !ok {
		return false
	}
	w.handle(ev)
	return true
}

// Recompute forces an immediate threshold recalculation, bypassing the
// periodic ticker. Exposed for tests and for the façade's explicit
// ctl_set-triggered recompute.
func (w *Worker) Recompute() float64 {
	return w.engine.CalcHotThresholdTotal(w.cfg.HotRatio)
}

func (w *Worker) handle(ev event.Event) {
	defer w.sink.SetQueueDepth(int64(w.queue.Len()))
	switch ev.Type {
	case event.CreateAdd:
		w.onCreateAdd(ev)
	case event.DestroyRemove:
		w.onDestroyRemove(ev)
	case event.Realloc:
		w.onRealloc(ev)
	case event.Touch:
		w.onTouch(ev)
	case event.SetTouchCallback:
		w.onSetTouchCallback(ev)
	default:
		w.logger.Warn("worker: unknown event type", zap.Uint8("type", uint8(ev.Type)))
	}
}

func (w *Worker) typeEntry(hash uint64) *ranking.TypeEntry {
	te, ok := w.types[hash]
	if !ok {
		te = ranking.NewTypeEntry(hash)
		w.types[hash] = te
	}
	return te
}

func (w *Worker) onCreateAdd(ev event.Event) {
	te := w.typeEntry(ev.Hash)
	te.AddSize(ev.Size)
	w.addrs[ev.Addr] = &allocInfo{hash: ev.Hash, size: ev.Size}
	w.engine.Add(te.F(), ev.Size)
}

func (w *Worker) onDestroyRemove(ev event.Event) {
	info, ok := w.addrs[ev.Addr]
	if !ok {
		w.logger.Warn("worker: destroy for unknown address", zap.Uintptr("addr", ev.Addr))
		return
	}
	delete(w.addrs, ev.Addr)
	te, ok := w.types[info.hash]
	if !ok {
		return
	}
	te.SubSize(info.size)
	w.engine.Remove(te.F(), info.size)
}

func (w *Worker) onRealloc(ev event.Event) {
	info, ok := w.addrs[ev.OldAddr]
	if !ok {
		// Unknown predecessor: treat as a fresh allocation under the
		// fingerprint carried on the event.
		w.onCreateAdd(event.Event{Type: event.CreateAdd, Hash: ev.Hash, Addr: ev.Addr, Size: ev.Size})
		return
	}
	delete(w.addrs, ev.OldAddr)
	te, ok := w.types[info.hash]
	if !ok {
		te = w.typeEntry(info.hash)
	}

	if ev.Size != info.size {
		if ev.Size > info.size {
			te.AddSize(ev.Size - info.size)
			w.engine.Add(te.F(), ev.Size-info.size)
		} else {
			delta := info.size - ev.Size
			te.SubSize(delta)
			w.engine.Remove(te.F(), delta)
		}
	}
	w.addrs[ev.Addr] = &allocInfo{hash: info.hash, size: ev.Size}
}

func (w *Worker) onTouch(ev event.Event) {
	info, ok := w.addrs[ev.Addr]
	if !ok {
		return
	}
	te, ok := w.types[info.hash]
	if !ok {
		return
	}
	w.engine.Touch(te, ev.Timestamp, 1)
	if te.TouchCallback != nil {
		te.TouchCallback(te.TouchCallbackArg, ev.Addr, ev.Timestamp)
	}
}

func (w *Worker) onSetTouchCallback(ev event.Event) {
	info, ok := w.addrs[ev.Addr]
	if !ok {
		return
	}
	te := w.typeEntry(info.hash)
	te.TouchCallback = ev.Callback
	te.TouchCallbackArg = ev.CallbackArg
}

// TypeEntry looks up a call-site type's entry by fingerprint, for tests and
// telemetry exporters. Only safe to call from the worker goroutine or
// after Run has returned.
func (w *Worker) TypeEntry(hash uint64) (*ranking.TypeEntry, bool) {
	te, ok := w.types[hash]
	return te, ok
}

// Len reports the number of live tracked allocations, for tests.
func (w *Worker) Len() int { return len(w.addrs) }
