package worker

import (
	"testing"

	"github.com/PatKamin/memtier/internal/event"
	"github.com/PatKamin/memtier/internal/evqueue"
	"github.com/PatKamin/memtier/internal/ranking"
)

func newTestWorker(t *testing.T) (*Worker, *evqueue.Queue[event.Event]) {
	t.Helper()
	q := evqueue.New[event.Event](1024)
	e := ranking.New(ranking.DefaultConfig(), nil)
	w := New(DefaultConfig(), q, e, nil)
	return w, q
}

func TestCreateAddTracksSizeAndWeight(t *testing.T) {
	w, q := newTestWorker(t)
	q.Push(event.Event{Type: event.CreateAdd, Hash: 1, Addr: 0x1000, Size: 64})
	if !w.Step() {
		t.Fatal("expected an event")
	}
	te, ok := w.TypeEntry(1)
	if !ok {
		t.Fatal("expected type entry to exist")
	}
	if te.TotalSize() != 64 {
		t.Fatalf("TotalSize() = %d, want 64", te.TotalSize())
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}
}

func TestDestroyRemoveClearsSizeAndAddr(t *testing.T) {
	w, q := newTestWorker(t)
	q.Push(event.Event{Type: event.CreateAdd, Hash: 1, Addr: 0x1000, Size: 64})
	w.Step()
	q.Push(event.Event{Type: event.DestroyRemove, Addr: 0x1000})
	w.Step()

	te, _ := w.TypeEntry(1)
	if te.TotalSize() != 0 {
		t.Fatalf("TotalSize() after destroy = %d, want 0", te.TotalSize())
	}
	if w.Len() != 0 {
		t.Fatalf("Len() after destroy = %d, want 0", w.Len())
	}
}

func TestDestroyUnknownAddrIsNoop(t *testing.T) {
	w, q := newTestWorker(t)
	q.Push(event.Event{Type: event.DestroyRemove, Addr: 0xdead})
	if !w.Step() {
		t.Fatal("expected an event")
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", w.Len())
	}
}

func TestReallocGrowShrinkTracksDelta(t *testing.T) {
	w, q := newTestWorker(t)
	q.Push(event.Event{Type: event.CreateAdd, Hash: 7, Addr: 0x1, Size: 100})
	w.Step()

	q.Push(event.Event{Type: event.Realloc, Hash: 7, OldAddr: 0x1, Addr: 0x2, Size: 200})
	w.Step()
	te, _ := w.TypeEntry(7)
	if te.TotalSize() != 200 {
		t.Fatalf("after grow TotalSize() = %d, want 200", te.TotalSize())
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}

	q.Push(event.Event{Type: event.Realloc, Hash: 7, OldAddr: 0x2, Addr: 0x3, Size: 50})
	w.Step()
	if te.TotalSize() != 50 {
		t.Fatalf("after shrink TotalSize() = %d, want 50", te.TotalSize())
	}
}

func TestReallocUnknownPredecessorBecomesCreate(t *testing.T) {
	w, q := newTestWorker(t)
	q.Push(event.Event{Type: event.Realloc, Hash: 3, OldAddr: 0xbad, Addr: 0x10, Size: 32})
	w.Step()
	te, ok := w.TypeEntry(3)
	if !ok || te.TotalSize() != 32 {
		t.Fatalf("expected fresh entry of size 32, got ok=%v size=%d", ok, te.TotalSize())
	}
}

func TestTouchCallbackInvoked(t *testing.T) {
	w, q := newTestWorker(t)
	q.Push(event.Event{Type: event.CreateAdd, Hash: 1, Addr: 0x1000, Size: 64})
	w.Step()

	var gotAddr uintptr
	var gotTS int64
	q.Push(event.Event{
		Type: event.SetTouchCallback, Addr: 0x1000,
		Callback: func(arg any, addr uintptr, ts int64) {
			gotAddr, gotTS = addr, ts
		},
	})
	w.Step()

	q.Push(event.Event{Type: event.Touch, Addr: 0x1000, Timestamp: 42})
	w.Step()

	if gotAddr != 0x1000 || gotTS != 42 {
		t.Fatalf("callback got addr=%#x ts=%d, want 0x1000/42", gotAddr, gotTS)
	}
}

func TestRecomputeReflectsCurrentWeights(t *testing.T) {
	w, q := newTestWorker(t)
	for i := 0; i < 10; i++ {
		q.Push(event.Event{Type: event.CreateAdd, Hash: uint64(i), Addr: uintptr(i + 1), Size: 10})
	}
	for w.Step() {
	}
	th := w.Recompute()
	// Every type is still at hotness 0, so all 100 live bytes sit at key 0.
	if th != 0 {
		t.Fatalf("threshold = %v, want 0 (all live bytes at hotness 0)", th)
	}
}
