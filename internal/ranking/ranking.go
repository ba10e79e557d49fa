// Package ranking implements the hotness ranking engine (C3): it aggregates
// (hotness, size) contributions from every known call-site type into a
// weight-ranked ordered tree (internal/wretree) and answers "what hotness
// threshold separates the coldest r-fraction of live bytes from the rest".
//
// Mutation (Add/Remove/Touch, and the periodic threshold recompute) is the
// exclusive business of the ranking worker's single goroutine (C6); the
// tree itself carries no internal locking, exactly like the teacher's
// internal/clockpro package, which assumes the same external
// single-writer discipline. The one value fast-path goroutines ever read —
// the cached hot-threshold, and each TypeEntry's current hotness score — is
// kept in atomics so IsHot can run lock-free from allocator call paths.
//
// © 2025 memtier authors. MIT License.
package ranking

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/PatKamin/memtier/internal/wretree"
)

// TimestampState tracks a TypeEntry's progress through the touch law's
// measurement-window bootstrap.
type TimestampState uint8

const (
	NotSet TimestampState = iota
	Init
	InitDone
)

// TypeEntry is the per-call-site-fingerprint hotness state described in
// the core spec's Data Model §3. Only the ranking worker goroutine ever
// mutates n1/n2/t0/t1/t2/state; TotalSize and F are atomics because
// allocator fast paths read them (TotalSize for telemetry, F via IsHot).
type TypeEntry struct {
	Hash uint64

	totalSize atomic.Int64
	f         atomic.Uint64 // math.Float64bits(hotness score)

	n1, n2     int64
	t0, t1, t2 int64
	State      TimestampState

	TouchCallback    func(arg any, addr uintptr, timestampNS int64)
	TouchCallbackArg any
}

// NewTypeEntry constructs a zeroed entry for the given fingerprint.
func NewTypeEntry(hash uint64) *TypeEntry {
	return &TypeEntry{Hash: hash}
}

// F returns the entry's current hotness score.
func (te *TypeEntry) F() float64 { return math.Float64frombits(te.f.Load()) }

func (te *TypeEntry) setF(v float64) { te.f.Store(math.Float64bits(v)) }

// TotalSize returns the live bytes currently attributed to this type.
func (te *TypeEntry) TotalSize() int64 { return te.totalSize.Load() }

// AddSize / SubSize adjust TotalSize; called by the worker on
// CREATE_ADD / DESTROY_REMOVE.
func (te *TypeEntry) AddSize(n int64) int64 { return te.totalSize.Add(n) }
func (te *TypeEntry) SubSize(n int64) int64 { return te.totalSize.Add(-n) }

// Config tunes the touch law and quantification behaviour.
type Config struct {
	// OldWeight is W_old in [0,1): how much the previous measurement
	// window contributes to a freshly closed hotness score.
	OldWeight float64
	// MeasureWindowNS is HOTNESS_MEASURE_WINDOW in nanoseconds.
	MeasureWindowNS int64
	// QuantifyEnabled switches quantify/dequantify between
	// floor(ln h)/e^q and the identity function.
	QuantifyEnabled bool
}

// DefaultConfig matches the spec's "order of 1 second" window and a mild
// recency bias.
func DefaultConfig() Config {
	return Config{
		OldWeight:       0.3,
		MeasureWindowNS: int64(1_000_000_000),
		QuantifyEnabled: false,
	}
}

// Engine is the hotness ranking tree plus the cached threshold fast paths
// read.
type Engine struct {
	cfg    Config
	tree   wretree.Tree
	thresh atomic.Uint64 // math.Float64bits
	logger *zap.Logger
}

// New constructs an Engine. A nil logger is replaced with zap.NewNop().
func New(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

func (e *Engine) quantify(h float64) float64 {
	if !e.cfg.QuantifyEnabled {
		return h
	}
	if h <= 0 {
		return math.Inf(-1)
	}
	return math.Floor(math.Log(h))
}

func (e *Engine) dequantify(q float64) float64 {
	if !e.cfg.QuantifyEnabled {
		return q
	}
	if math.IsInf(q, -1) {
		return 0
	}
	return math.Exp(q)
}

// Add locates the aggregated-hotness node whose quantified_hotness equals
// quantify(hotness) and increases its size by size, creating the node if
// none exists.
func (e *Engine) Add(hotness float64, size int64) {
	if size <= 0 {
		return
	}
	key := e.quantify(hotness)
	cur, _ := e.tree.Weight(key)
	e.tree.Put(key, cur+size)
}

// Remove locates the matching node and decreases its size, deleting it if
// it reaches zero. Removing more than is present is logged and clamped at
// zero (an invariant violation, never fatal).
func (e *Engine) Remove(hotness float64, size int64) {
	if size <= 0 {
		return
	}
	key := e.quantify(hotness)
	cur, ok := e.tree.Weight(key)
	if !ok {
		e.logger.Warn("ranking: remove from absent hotness bucket",
			zap.Float64("hotness", hotness), zap.Int64("size", size))
		return
	}
	next := cur - size
	if next < 0 {
		e.logger.Warn("ranking: over-remove from hotness bucket",
			zap.Float64("hotness", hotness), zap.Int64("requested", size), zap.Int64("available", cur))
		next = 0
	}
	if next == 0 {
		e.tree.Remove(key)
		return
	}
	e.tree.Put(key, next)
}

// Touch applies the touch law to entry: it removes entry's current
// contribution to the distribution (relaxed — removing only what the tree
// actually holds, in case of prior under/over accounting), recomputes
// entry.f, and re-adds the removed bytes under the new hotness.
func (e *Engine) Touch(te *TypeEntry, timestampNS int64, deltaHotness int64) {
	oldKey := e.quantify(te.F())
	wanted := te.TotalSize()
	actual, _ := e.tree.Weight(oldKey)
	removed := wanted
	if actual < removed {
		removed = actual
	}
	if removed > 0 {
		next := actual - removed
		if next == 0 {
			e.tree.Remove(oldKey)
		} else {
			e.tree.Put(oldKey, next)
		}
	}

	newF := e.applyTouchLaw(te, timestampNS, deltaHotness)
	te.setF(newF)

	if removed > 0 {
		newKey := e.quantify(newF)
		cur, _ := e.tree.Weight(newKey)
		e.tree.Put(newKey, cur+removed)
	}
}

// applyTouchLaw implements the four-step state machine from the core
// spec's §4.3, mutating te's window bookkeeping fields in place and
// returning the (possibly unchanged) hotness score.
func (e *Engine) applyTouchLaw(te *TypeEntry, timestampNS int64, deltaHotness int64) float64 {
	te.n1 += deltaHotness
	te.t0 = timestampNS

	switch te.State {
	case NotSet:
		if timestampNS != 0 {
			te.State = Init
			te.t2 = timestampNS
		}
		return te.F()
	case Init:
		if te.t0-te.t2 > e.cfg.MeasureWindowNS {
			te.State = InitDone
			te.t1 = te.t0
		}
		return te.F()
	case InitDone:
		if te.t0-te.t1 <= e.cfg.MeasureWindowNS {
			return te.F()
		}
		var f1, f2 float64
		if d := te.t1 - te.t2; d > 0 {
			f2 = float64(te.n2) / float64(d)
		}
		if d := te.t0 - te.t1; d > 0 {
			f1 = float64(te.n1) / float64(d)
		}
		f := e.cfg.OldWeight*f2 + (1-e.cfg.OldWeight)*f1
		if f < 0 {
			f = 0
		}
		te.t2, te.t1 = te.t1, te.t0
		te.n2, te.n1 = te.n1, 0
		return f
	default:
		return te.F()
	}
}

// CalcHotThresholdTotal sets and returns the hot/cold threshold such that
// an r-fraction of total live bytes (ordered ascending by hotness) sits at
// or below it. r==0 maps to the maximum hotness present (nothing is hot);
// r==1 maps to 0 (everything is hot); both are explicit boundary cases per
// spec, not limits of the general formula.
func (e *Engine) CalcHotThresholdTotal(r float64) float64 {
	var threshold float64
	switch {
	case r <= 0:
		if mx, ok := e.tree.MaxKey(); ok {
			threshold = e.dequantify(mx)
		}
	case r >= 1:
		threshold = 0
	default:
		if key, _, ok := e.tree.FindWeighted(r); ok {
			threshold = e.dequantify(key)
		}
	}
	e.thresh.Store(math.Float64bits(threshold))
	return threshold
}

// CalcHotThresholdDramPmem is the dram:pmem ratio convenience wrapper:
// r = rho / (1 + rho).
func (e *Engine) CalcHotThresholdDramPmem(rho float64) float64 {
	r := rho / (1 + rho)
	return e.CalcHotThresholdTotal(r)
}

// HotThreshold returns the last computed threshold without recomputing it.
func (e *Engine) HotThreshold() float64 {
	return math.Float64frombits(e.thresh.Load())
}

// IsHot reports whether entry's current hotness score exceeds the cached
// threshold.
func (e *Engine) IsHot(te *TypeEntry) bool {
	return te.F() > e.HotThreshold()
}

// TotalWeight exposes the tree's total live-byte weight, mainly for tests
// checking invariant 1 (Σ node.size equals Σ added − Σ removed).
func (e *Engine) TotalWeight() int64 { return e.tree.TotalWeight() }

// CheckInvariants delegates to the underlying tree's O(n) self-check.
func (e *Engine) CheckInvariants() error { return e.tree.CheckInvariants() }
