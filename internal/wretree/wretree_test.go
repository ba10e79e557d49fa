package wretree

import "testing"

func TestPutRemoveInvariants(t *testing.T) {
	var tr Tree
	for i := 0; i < 200; i++ {
		w := 100 - i
		if w < 0 {
			w = -w
		}
		tr.Put(float64(i), int64(w))
	}
	if err := tr.CheckInvariants(); err != nil {
		t.Fatalf("after insert: %v", err)
	}
	if got := tr.TotalWeight(); got != 10050 {
		t.Fatalf("total weight = %d, want 10050", got)
	}

	for i := 100; i < 200; i++ {
		tr.Remove(float64(i))
	}
	if err := tr.CheckInvariants(); err != nil {
		t.Fatalf("after ascending remove: %v", err)
	}
	if got := tr.TotalWeight(); got != 5050 {
		t.Fatalf("total weight after removing 100..199 ascending = %d, want 5050", got)
	}
}

func TestRemoveDescendingOrder(t *testing.T) {
	var tr Tree
	for i := 0; i < 200; i++ {
		w := 100 - i
		if w < 0 {
			w = -w
		}
		tr.Put(float64(i), int64(w))
	}
	for i := 199; i >= 100; i-- {
		tr.Remove(float64(i))
	}
	if err := tr.CheckInvariants(); err != nil {
		t.Fatalf("after descending remove: %v", err)
	}
	if got := tr.TotalWeight(); got != 5050 {
		t.Fatalf("total weight after removing 199..100 descending = %d, want 5050", got)
	}
}

func TestFindWeightedDistinctHotness(t *testing.T) {
	var tr Tree
	for i := 0; i < 100; i++ {
		tr.Put(float64(i), int64(100-i))
	}
	if got, _, ok := tr.FindWeighted(0.5); !ok || got != 29 {
		t.Fatalf("FindWeighted(0.5) = %v, ok=%v, want 29", got, ok)
	}
	if max, ok := tr.MaxKey(); !ok || max != 99 {
		t.Fatalf("MaxKey() = %v, want 99", max)
	}
}

func TestFindWeightedTiedHotness(t *testing.T) {
	var tr Tree
	sizes := make(map[int]int64)
	for i := 0; i < 100; i++ {
		h := i % 50
		sizes[h] += int64(100 - i)
	}
	for h, w := range sizes {
		tr.Put(float64(h), w)
	}
	if got, _, ok := tr.FindWeighted(0.5); !ok || got != 19 {
		t.Fatalf("FindWeighted(0.5) = %v, ok=%v, want 19", got, ok)
	}
	if max, ok := tr.MaxKey(); !ok || max != 49 {
		t.Fatalf("MaxKey() = %v, want 49", max)
	}
}

func TestFindWeightedEmpty(t *testing.T) {
	var tr Tree
	if _, _, ok := tr.FindWeighted(0.5); ok {
		t.Fatalf("FindWeighted on empty tree should report ok=false")
	}
}

func TestPutUpdatesWeightInPlace(t *testing.T) {
	var tr Tree
	tr.Put(1.0, 10)
	tr.Put(1.0, 25)
	if w, ok := tr.Weight(1.0); !ok || w != 25 {
		t.Fatalf("Weight(1.0) = %d, ok=%v, want 25", w, ok)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (re-put must not duplicate)", tr.Len())
	}
}
