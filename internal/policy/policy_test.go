package policy

import (
	"testing"

	"github.com/PatKamin/memtier/internal/accountant"
	"github.com/PatKamin/memtier/internal/fingerprint"
	"github.com/PatKamin/memtier/internal/kind"
	"github.com/PatKamin/memtier/internal/ranking"
)

type fakeKind struct {
	name      string
	partition uint16
}

func (k *fakeKind) Name() string                                  { return k.name }
func (k *fakeKind) Partition() uint16                              { return k.partition }
func (k *fakeKind) Malloc(size int) (kind.Addr, error)             { return kind.Addr(1), nil }
func (k *fakeKind) Calloc(n, size int) (kind.Addr, error)          { return kind.Addr(1), nil }
func (k *fakeKind) Realloc(a kind.Addr, size int) (kind.Addr, error) { return a, nil }
func (k *fakeKind) PosixMemalign(align, size int) (kind.Addr, error) { return kind.Addr(1), nil }
func (k *fakeKind) Free(a kind.Addr)                               {}
func (k *fakeKind) UsableSize(a kind.Addr) int                     { return 0 }
func (k *fakeKind) DetectKind(a kind.Addr) bool                    { return false }

func TestStaticRatioRoutesToUnderfilledTier(t *testing.T) {
	fast, slow := &fakeKind{name: "fast"}, &fakeKind{name: "slow"}
	acc := accountant.New(2)
	p, err := NewStaticRatio([]Tier{{Kind: fast, Weight: 3}, {Kind: slow, Weight: 1}}, acc)
	if err != nil {
		t.Fatalf("NewStaticRatio: %v", err)
	}

	acc.Add(0, 300)
	acc.Add(1, 0)
	k, _ := p.SelectKind(10)
	if k != slow {
		t.Fatalf("expected slow tier to be selected when underfilled, got %v", k.(*fakeKind).name)
	}

	acc.Reset(0)
	acc.Reset(1)
	acc.Add(0, 10)
	acc.Add(1, 10)
	k, _ = p.SelectKind(10)
	if k != fast {
		t.Fatalf("expected fast(tier0) fallback, got %v", k.(*fakeKind).name)
	}
}

func TestStaticRatioRejectsDuplicateKind(t *testing.T) {
	fast := &fakeKind{name: "fast"}
	_, err := NewStaticRatio([]Tier{{Kind: fast, Weight: 1}, {Kind: fast, Weight: 1}}, accountant.New(2))
	if err != ErrDuplicateKind {
		t.Fatalf("err = %v, want ErrDuplicateKind", err)
	}
}

func TestDynamicThresholdSelectsFirstMatchingTier(t *testing.T) {
	fast, mid, slow := &fakeKind{name: "fast"}, &fakeKind{name: "mid"}, &fakeKind{name: "slow"}
	tiers := []Tier{{Kind: fast, Weight: 1}, {Kind: mid, Weight: 1}, {Kind: slow, Weight: 1}}
	th0, th1 := DefaultThreshold(0), DefaultThreshold(1)
	p, err := NewDynamicThreshold(tiers, []*Threshold{&th0, &th1}, 20, 0.02, 0.15, accountant.New(3))
	if err != nil {
		t.Fatalf("NewDynamicThreshold: %v", err)
	}

	k, _ := p.SelectKind(100)
	if k != fast {
		t.Fatalf("small size should select fast tier, got %v", k.(*fakeKind).name)
	}
	k, _ = p.SelectKind(int64(th0.Val) + 1)
	if k != mid {
		t.Fatalf("mid-size should select mid tier, got %v", k.(*fakeKind).name)
	}
	k, _ = p.SelectKind(int64(th1.Val) + 1)
	if k != slow {
		t.Fatalf("large size should fall through to slow tier, got %v", k.(*fakeKind).name)
	}
}

func TestDynamicThresholdRejectsOverlappingBoundaries(t *testing.T) {
	fast, slow := &fakeKind{name: "fast"}, &fakeKind{name: "slow"}
	bad := Threshold{Val: 100, Min: 50, Max: 150}
	bad2 := Threshold{Val: 80, Min: 60, Max: 140} // overlaps bad's [50,150]
	_, err := NewDynamicThreshold([]Tier{{Kind: fast, Weight: 1}, {Kind: slow, Weight: 1}, {Kind: &fakeKind{name: "x"}, Weight: 1}},
		[]*Threshold{&bad, &bad2}, 20, 0.02, 0.15, accountant.New(3))
	if err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestDynamicThresholdUpdateCfgNudgesWideningBoundary(t *testing.T) {
	fast, slow := &fakeKind{name: "fast"}, &fakeKind{name: "slow"}
	th := Threshold{Val: 1024, Min: 512, Max: 2048, ExpectedRatio: 1.0}
	acc := accountant.New(2)
	p, err := NewDynamicThreshold([]Tier{{Kind: fast, Weight: 1}, {Kind: slow, Weight: 1}}, []*Threshold{&th}, 1, 0.02, 0.15, acc)
	if err != nil {
		t.Fatalf("NewDynamicThreshold: %v", err)
	}

	acc.Add(0, 100)
	acc.Add(1, 500) // ratio 5.0, way above expected 1.0 and trigger 0.02

	p.UpdateCfg() // checkCnt=1 -> fires immediately
	if th.Val <= 1024 {
		t.Fatalf("expected threshold to grow toward the widening side, got %v", th.Val)
	}
	if th.Val > th.Max {
		t.Fatalf("threshold must clamp to max, got %v > %v", th.Val, th.Max)
	}
}

func TestDataHotnessRequiresExactlyTwoTiers(t *testing.T) {
	fp := fingerprint.New(0)
	_, err := NewDataHotness([]Tier{{Kind: &fakeKind{name: "only"}, Weight: 1}}, fp, fakeRanking{}, func(uint64) *ranking.TypeEntry { return nil }, nil)
	if err != ErrDataHotnessTiers {
		t.Fatalf("err = %v, want ErrDataHotnessTiers", err)
	}
}

type fakeRanking struct{ hot bool }

func (f fakeRanking) IsHot(te *ranking.TypeEntry) bool { return f.hot }

func TestDataHotnessNotFoundDefaultsToHotTier(t *testing.T) {
	hot, cold := &fakeKind{name: "hot"}, &fakeKind{name: "cold"}
	fp := fingerprint.New(0)
	p, err := NewDataHotness([]Tier{{Kind: hot, Weight: 1}, {Kind: cold, Weight: 1}}, fp, fakeRanking{}, func(uint64) *ranking.TypeEntry { return nil }, nil)
	if err != nil {
		t.Fatalf("NewDataHotness: %v", err)
	}
	k, _ := p.SelectKind(16)
	if k != hot {
		t.Fatalf("HOTNESS_NOT_FOUND must route to the hot tier, got %v", k.(*fakeKind).name)
	}
}

func TestDataHotnessRoutesColdWhenRankingSaysCold(t *testing.T) {
	hot, cold := &fakeKind{name: "hot"}, &fakeKind{name: "cold"}
	fp := fingerprint.New(0)
	known := ranking.NewTypeEntry(1)
	p, err := NewDataHotness([]Tier{{Kind: hot, Weight: 1}, {Kind: cold, Weight: 1}}, fp, fakeRanking{hot: false},
		func(uint64) *ranking.TypeEntry { return known }, nil)
	if err != nil {
		t.Fatalf("NewDataHotness: %v", err)
	}
	k, _ := p.SelectKind(16)
	if k != cold {
		t.Fatalf("known-cold type must route to cold tier, got %v", k.(*fakeKind).name)
	}
}

func TestDataHotnessPostAllocInvokesOnCreate(t *testing.T) {
	hot, cold := &fakeKind{name: "hot"}, &fakeKind{name: "cold"}
	fp := fingerprint.New(0)
	var gotAddr kind.Addr
	var gotSize int64
	p, err := NewDataHotness([]Tier{{Kind: hot, Weight: 1}, {Kind: cold, Weight: 1}}, fp, fakeRanking{},
		func(uint64) *ranking.TypeEntry { return nil },
		func(hash uint64, addr kind.Addr, size int64) { gotAddr, gotSize = addr, size })
	if err != nil {
		t.Fatalf("NewDataHotness: %v", err)
	}
	_, data := p.SelectKind(16)
	p.PostAlloc(data, kind.Addr(0x99), 16)
	if gotAddr != 0x99 || gotSize != 16 {
		t.Fatalf("onCreate got addr=%v size=%v, want 0x99/16", gotAddr, gotSize)
	}
}
