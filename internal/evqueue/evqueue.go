// Package evqueue implements the single-reader, multi-writer lock-free
// event queue (C5): a bounded ring buffer that decouples allocator-thread
// fast paths from the ranking background worker.
//
// The algorithm is Dmitry Vyukov's bounded MPMC queue, specialised here to
// the spec's SRMW contract (many producers, exactly one consumer). Per-slot
// sequence counters let every producer claim a slot with a single CAS and
// let the lone consumer detect emptiness without ever touching a shared
// write cursor, so pushes from different producers never block each other —
// matching the teacher's preference for atomics-only hot paths over mutexes
// (see internal/clockpro's header comment on external synchronisation).
//
// Per-producer FIFO order is not preserved; only global exactly-once
// delivery of every accepted push is guaranteed. A push against a full
// queue fails fast (the caller counts it as dropped) rather than blocking.
//
// © 2025 memtier authors. MIT License.
package evqueue

import "sync/atomic"

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// Queue is a bounded, lock-free, single-reader/multi-writer ring buffer.
type Queue[T any] struct {
	buffer []cell[T]
	mask   uint64

	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
	dropped    atomic.Uint64
}

// New constructs a Queue whose capacity is the next power of two >= capacity
// (minimum 2).
func New[T any](capacity int) *Queue[T] {
	n := nextPow2(capacity)
	q := &Queue[T]{
		buffer: make([]cell[T], n),
		mask:   uint64(n - 1),
	}
	for i := range q.buffer {
		q.buffer[i].sequence.Store(uint64(i))
	}
	return q
}

func nextPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Push attempts to enqueue v. It returns false immediately, without
// blocking, if the queue is full; the caller is expected to count dropped
// events for diagnostics rather than retry (see spec §4.5/§4.6: dropping a
// TOUCH is harmless, dropping a CREATE_ADD just means that block starts out
// as HOTNESS_NOT_FOUND).
func (q *Queue[T]) Push(v T) bool {
	pos := q.enqueuePos.Load()
	for {
		c := &q.buffer[pos&q.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				c.data = v
				c.sequence.Store(pos + 1)
				return true
			}
			pos = q.enqueuePos.Load()
		case diff < 0:
			q.dropped.Add(1)
			return false
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

// Pop attempts to dequeue one event. ok is false if the queue is currently
// empty. Pop must be called from exactly one goroutine at a time; Push may
// be called concurrently from any number of goroutines.
func (q *Queue[T]) Pop() (v T, ok bool) {
	pos := q.dequeuePos.Load()
	for {
		c := &q.buffer[pos&q.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if q.dequeuePos.CompareAndSwap(pos, pos+1) {
				v = c.data
				var zero T
				c.data = zero
				c.sequence.Store(pos + q.mask + 1)
				return v, true
			}
			pos = q.dequeuePos.Load()
		case diff < 0:
			var zero T
			return zero, false
		default:
			pos = q.dequeuePos.Load()
		}
	}
}

// Dropped returns the number of Push calls that failed because the queue
// was full, since construction.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Len reports the approximate number of occupied slots. Racing Push/Pop
// calls mean the value can be stale by the time the caller reads it; it is
// meant for diagnostics (telemetry gauges), not correctness.
func (q *Queue[T]) Len() int {
	return int(q.enqueuePos.Load() - q.dequeuePos.Load())
}

// Cap returns the queue's fixed capacity (a power of two).
func (q *Queue[T]) Cap() int { return len(q.buffer) }
