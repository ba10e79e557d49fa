// Package policy implements the three placement-policy variants of §4.7:
// static ratio, dynamic threshold by object size, and data hotness. All
// three share the Policy interface so the allocation façade (pkg) can
// drive any of them identically.
//
// © 2025 memtier authors. MIT License.
package policy

import (
	"errors"
	"fmt"
	"math"

	"github.com/PatKamin/memtier/internal/accountant"
	"github.com/PatKamin/memtier/internal/fingerprint"
	"github.com/PatKamin/memtier/internal/kind"
	"github.com/PatKamin/memtier/internal/ranking"
	"github.com/PatKamin/memtier/internal/telemetry"
)

// Sentinel configuration errors, returned from the builder (internal/policy
// is constructed only through the functions below, never via a zero-value
// struct literal from outside the package).
var (
	ErrUnknownPolicy    = errors.New("policy: unknown policy")
	ErrDuplicateKind    = errors.New("policy: duplicate kind")
	ErrTooFewTiers      = errors.New("policy: too few tiers for this policy")
	ErrThresholdOrder   = errors.New("policy: threshold min <= val <= max violated, or adjacent thresholds overlap")
	ErrNegativeTrigger  = errors.New("policy: trigger and degree must be non-negative")
	ErrDataHotnessTiers = errors.New("policy: data-hotness policy requires exactly two tiers")
)

// Tier is one entry of a tier configuration: a kind plus its caller-supplied
// (not yet normalized) ratio weight.
type Tier struct {
	Kind   kind.Kind
	Weight uint
}

// Threshold is one dynamic-policy size boundary between adjacent tiers.
type Threshold struct {
	Val           float64
	Min           float64
	Max           float64
	ExpectedRatio float64
	lastDiff      float64
	haveLastDiff  bool
}

// Hotness classifies a fingerprint's ranking status for the data-hotness
// policy.
type Hotness uint8

const (
	Hot Hotness = iota
	Cold
	NotFound
)

// Policy is the shared contract all three variants implement.
type Policy interface {
	// SelectKind picks a kind for a size-byte allocation, returning the
	// kind plus an opaque token post_alloc will receive.
	SelectKind(size int64) (kind.Kind, any)
	// PostAlloc runs after the real allocation succeeded at addr.
	PostAlloc(data any, addr kind.Addr, size int64)
	// UpdateCfg runs after every allocating call, giving the policy a
	// chance to adapt (only the dynamic policy does anything here).
	UpdateCfg()
	// IsDataHotness reports whether this policy is the data-hotness
	// variant, which the façade needs to know to post DESTROY_REMOVE on
	// free.
	IsDataHotness() bool
	// Tiers returns the configured tiers in order.
	Tiers() []Tier
}

// ---- static ratio -----------------------------------------------------

// StaticRatio implements the "scan tiers, route to an under-filled tier"
// policy of §4.7: it picks the last tier i > 0 whose live bytes times its
// normalized ratio fall below tier 0's live bytes, or tier 0 if none do.
type StaticRatio struct {
	tiers      []Tier
	normRatios []float64 // normRatios[i] = weight_0 / weight_i
	acc        *accountant.Accountant
}

// NewStaticRatio constructs a static-ratio policy over tiers, with acc
// providing live-byte snapshots per tier (indexed by position, not by
// kind.Partition()).
func NewStaticRatio(tiers []Tier, acc *accountant.Accountant) (*StaticRatio, error) {
	if err := validateTiers(tiers, 1); err != nil {
		return nil, err
	}
	return &StaticRatio{tiers: tiers, normRatios: normalizeStatic(tiers), acc: acc}, nil
}

func normalizeStatic(tiers []Tier) []float64 {
	out := make([]float64, len(tiers))
	w0 := float64(tiers[0].Weight)
	out[0] = 1.0
	for i := 1; i < len(tiers); i++ {
		if tiers[i].Weight == 0 {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = w0 / float64(tiers[i].Weight)
	}
	return out
}

func (p *StaticRatio) SelectKind(size int64) (kind.Kind, any) {
	best := 0
	base := float64(p.acc.Snapshot(0))
	for i := 1; i < len(p.tiers); i++ {
		if float64(p.acc.Snapshot(i))*p.normRatios[i] < base {
			best = i
		}
	}
	return p.tiers[best].Kind, nil
}

func (p *StaticRatio) PostAlloc(any, kind.Addr, int64) {}
func (p *StaticRatio) UpdateCfg()                      {}
func (p *StaticRatio) IsDataHotness() bool             { return false }
func (p *StaticRatio) Tiers() []Tier                   { return p.tiers }

// ---- dynamic threshold -------------------------------------------------

// DynamicThreshold implements §4.7's size-boundary policy with periodic
// self-correction driven by observed per-tier ratios.
type DynamicThreshold struct {
	tiers      []Tier
	thresholds []*Threshold
	acc        *accountant.Accountant
	sink       telemetry.Sink

	checkCnt    int
	checkCntCur int
	trigger     float64
	degree      float64
}

// DefaultThreshold returns tier i's default threshold per §4.8's formula.
func DefaultThreshold(i int) Threshold {
	return Threshold{
		Val: 1024 * float64(i+1),
		Min: 1024 * (0.5 + float64(i)),
		Max: 1024*(1.5+float64(i)) - 1,
	}
}

// NewDynamicThreshold constructs a dynamic-threshold policy. thresholds
// must have len(tiers)-1 entries, one per adjacent-tier boundary, already
// populated (callers typically start from DefaultThreshold per index and
// apply builder ctl_set overrides before calling this).
func NewDynamicThreshold(tiers []Tier, thresholds []*Threshold, checkCnt int, trigger, degree float64, acc *accountant.Accountant) (*DynamicThreshold, error) {
	if err := validateTiers(tiers, 2); err != nil {
		return nil, err
	}
	if len(thresholds) != len(tiers)-1 {
		return nil, fmt.Errorf("policy: expected %d thresholds, got %d", len(tiers)-1, len(thresholds))
	}
	if trigger < 0 || degree < 0 {
		return nil, ErrNegativeTrigger
	}
	for i, th := range thresholds {
		if !(th.Min <= th.Val && th.Val <= th.Max) {
			return nil, fmt.Errorf("%w: threshold[%d]", ErrThresholdOrder, i)
		}
		if i > 0 && thresholds[i-1].Max >= th.Min {
			return nil, fmt.Errorf("%w: thresholds[%d] and [%d] overlap", ErrThresholdOrder, i-1, i)
		}
	}
	totalW := float64(0)
	for _, t := range tiers {
		totalW += float64(t.Weight)
	}
	for i, th := range thresholds {
		if th.ExpectedRatio == 0 && totalW > 0 {
			th.ExpectedRatio = float64(tiers[i+1].Weight) / float64(tiers[i].Weight)
		}
	}
	if checkCnt <= 0 {
		checkCnt = 20
	}
	return &DynamicThreshold{
		tiers:       tiers,
		thresholds:  thresholds,
		acc:         acc,
		sink:        telemetry.NewNoop(),
		checkCnt:    checkCnt,
		checkCntCur: checkCnt,
		trigger:     trigger,
		degree:      degree,
	}, nil
}

// SetSink attaches a telemetry sink so update_cfg's threshold nudges are
// observable. A nil sink leaves the existing (no-op by default) sink in
// place.
func (p *DynamicThreshold) SetSink(s telemetry.Sink) {
	if s != nil {
		p.sink = s
	}
}

func (p *DynamicThreshold) SelectKind(size int64) (kind.Kind, any) {
	sz := float64(size)
	for i, th := range p.thresholds {
		if sz < th.Val {
			return p.tiers[i].Kind, nil
		}
	}
	return p.tiers[len(p.tiers)-1].Kind, nil
}

func (p *DynamicThreshold) PostAlloc(any, kind.Addr, int64) {}

// UpdateCfg decrements the check counter; at zero it re-examines each
// boundary's observed ratio and nudges thresholds whose gap to the
// expected ratio is both over trigger and widening since the last check.
func (p *DynamicThreshold) UpdateCfg() {
	p.checkCntCur--
	if p.checkCntCur > 0 {
		return
	}
	p.checkCntCur = p.checkCnt

	for i, th := range p.thresholds {
		snapI := float64(p.acc.Snapshot(i))
		snapNext := float64(p.acc.Snapshot(i + 1))
		var currentRatio float64
		if snapI != 0 {
			currentRatio = snapNext / snapI
		}
		diff := math.Abs(currentRatio - th.ExpectedRatio)

		widening := !th.haveLastDiff || diff > th.lastDiff
		if diff > p.trigger && widening {
			move := math.Ceil(th.Val * p.degree)
			if currentRatio > th.ExpectedRatio {
				th.Val += move
			} else {
				th.Val -= move
			}
			if th.Val < th.Min {
				th.Val = th.Min
			}
			if th.Val > th.Max {
				th.Val = th.Max
			}
			p.sink.IncThresholdAdjust(i)
		}
		th.lastDiff = diff
		th.haveLastDiff = true
	}
}

func (p *DynamicThreshold) IsDataHotness() bool { return false }
func (p *DynamicThreshold) Tiers() []Tier       { return p.tiers }

// Thresholds exposes the live threshold state, for ctl_set/introspection.
func (p *DynamicThreshold) Thresholds() []*Threshold { return p.thresholds }

// ---- data hotness -------------------------------------------------------

// RankingView is the subset of ranking.Engine the data-hotness policy
// needs; ranking.Engine satisfies it directly.
type RankingView interface {
	IsHot(te *ranking.TypeEntry) bool
}

// TypeLookup resolves a fingerprint to its current TypeEntry, or nil if
// the worker has not seen it yet (HOTNESS_NOT_FOUND).
type TypeLookup func(hash uint64) *ranking.TypeEntry

// DataHotness implements §4.7's ranking-driven policy. It requires exactly
// two tiers: tiers()[0] is the hot/fast tier, tiers()[1] the cold tier —
// per §9's REDESIGN note, HOTNESS_NOT_FOUND is treated as hot, biasing
// first-time allocations to the fast tier.
type DataHotness struct {
	tiers    []Tier
	fp       fingerprint.Fingerprinter
	ranking  RankingView
	lookup   TypeLookup
	onCreate func(hash uint64, addr kind.Addr, size int64)
}

// NewDataHotness constructs a data-hotness policy. onCreate is invoked by
// PostAlloc to push CREATE_ADD onto the event queue (kept as a callback so
// this package does not import internal/event/evqueue directly).
func NewDataHotness(tiers []Tier, fp fingerprint.Fingerprinter, rv RankingView, lookup TypeLookup, onCreate func(hash uint64, addr kind.Addr, size int64)) (*DataHotness, error) {
	if len(tiers) != 2 {
		return nil, ErrDataHotnessTiers
	}
	if err := validateTiers(tiers, 2); err != nil {
		return nil, err
	}
	return &DataHotness{tiers: tiers, fp: fp, ranking: rv, lookup: lookup, onCreate: onCreate}, nil
}

type dataHotnessToken struct {
	hash uint64
}

func (p *DataHotness) classify(hash uint64) Hotness {
	te := p.lookup(hash)
	if te == nil {
		return NotFound
	}
	if p.ranking.IsHot(te) {
		return Hot
	}
	return Cold
}

func (p *DataHotness) SelectKind(size int64) (kind.Kind, any) {
	hash := p.fp.Fingerprint(int(size))
	h := p.classify(hash)
	if h == Hot || h == NotFound {
		return p.tiers[0].Kind, dataHotnessToken{hash: hash}
	}
	return p.tiers[1].Kind, dataHotnessToken{hash: hash}
}

func (p *DataHotness) PostAlloc(data any, addr kind.Addr, size int64) {
	tok, ok := data.(dataHotnessToken)
	if !ok {
		return
	}
	if p.onCreate != nil {
		p.onCreate(tok.hash, addr, size)
	}
}

func (p *DataHotness) UpdateCfg()          {}
func (p *DataHotness) IsDataHotness() bool { return true }
func (p *DataHotness) Tiers() []Tier       { return p.tiers }

// ---- shared validation --------------------------------------------------

func validateTiers(tiers []Tier, minTiers int) error {
	if len(tiers) < minTiers {
		return ErrTooFewTiers
	}
	seen := make(map[kind.Kind]struct{}, len(tiers))
	for _, t := range tiers {
		if _, dup := seen[t.Kind]; dup {
			return ErrDuplicateKind
		}
		seen[t.Kind] = struct{}{}
	}
	return nil
}
