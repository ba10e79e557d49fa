package ranking

import "testing"

func TestScenarioS1DistinctHotness(t *testing.T) {
	e := New(DefaultConfig(), nil)
	for i := 0; i < 100; i++ {
		e.Add(float64(i), int64(100-i))
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if got := e.CalcHotThresholdTotal(0); got != 99 {
		t.Fatalf("threshold(r=0) = %v, want 99", got)
	}
	if got := e.CalcHotThresholdTotal(1); got != 0 {
		t.Fatalf("threshold(r=1) = %v, want 0", got)
	}
	if got := e.CalcHotThresholdTotal(0.5); got != 29 {
		t.Fatalf("threshold(r=0.5) = %v, want 29", got)
	}

	te := NewTypeEntry(1)
	te.setF(29)
	if e.IsHot(te) {
		t.Fatalf("hotness exactly at threshold (29) must not be hot")
	}
	te.setF(30)
	if !e.IsHot(te) {
		t.Fatalf("hotness above threshold (30 > 29) must be hot")
	}
}

func TestScenarioS2TiedHotness(t *testing.T) {
	e := New(DefaultConfig(), nil)
	for i := 0; i < 100; i++ {
		h := float64(i % 50)
		e.Add(h, int64(100-i))
	}
	if got := e.CalcHotThresholdTotal(0); got != 49 {
		t.Fatalf("threshold(r=0) = %v, want 49", got)
	}
	if got := e.CalcHotThresholdTotal(0.5); got != 19 {
		t.Fatalf("threshold(r=0.5) = %v, want 19", got)
	}
}

func TestAddRemoveIdempotent(t *testing.T) {
	e := New(DefaultConfig(), nil)
	before := e.TotalWeight()
	e.Add(12.5, 500)
	e.Remove(12.5, 500)
	after := e.TotalWeight()
	if before != after {
		t.Fatalf("add then remove changed total weight: %d -> %d", before, after)
	}
	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestQuantifyIdentityRoundTrip(t *testing.T) {
	e := New(DefaultConfig(), nil) // QuantifyEnabled: false
	h := 17.0
	if got := e.dequantify(e.quantify(h)); got != h {
		t.Fatalf("identity round-trip: dequantify(quantify(%v)) = %v", h, got)
	}
}

func TestQuantifyEnabledMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuantifyEnabled = true
	e := New(cfg, nil)
	lo := e.quantify(2.0)
	hi := e.quantify(20.0)
	if !(lo < hi) {
		t.Fatalf("quantify should be monotonic: quantify(2)=%v, quantify(20)=%v", lo, hi)
	}
}

func TestOverRemoveClampsAtZero(t *testing.T) {
	e := New(DefaultConfig(), nil)
	e.Add(5, 10)
	e.Remove(5, 100) // over-remove: logged, clamped
	if w := e.TotalWeight(); w != 0 {
		t.Fatalf("TotalWeight() after over-remove = %d, want 0", w)
	}
}

func TestTouchLawClosesWindowAndBlendsHotness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OldWeight = 0.5
	cfg.MeasureWindowNS = 100
	e := New(cfg, nil)

	te := NewTypeEntry(42)
	te.AddSize(10)
	e.Add(te.F(), te.TotalSize()) // initial contribution at f=0

	e.Touch(te, 1, 1) // bootstrap: NotSet -> Init, t2=1
	if te.State != Init {
		t.Fatalf("state after first touch = %v, want Init", te.State)
	}

	e.Touch(te, 150, 1) // t0-t2=149 > window(100): Init -> InitDone, t1=150
	if te.State != InitDone {
		t.Fatalf("state after second touch = %v, want InitDone", te.State)
	}

	e.Touch(te, 400, 1) // t0-t1=250 > window: closes a measurement window
	if te.State != InitDone {
		t.Fatalf("state should remain InitDone")
	}
	if te.F() < 0 {
		t.Fatalf("hotness must never be negative, got %v", te.F())
	}

	if err := e.CheckInvariants(); err != nil {
		t.Fatalf("invariants after touches: %v", err)
	}
}
