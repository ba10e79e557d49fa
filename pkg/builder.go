// Package memtier is the public surface of the tiering engine: a Builder
// (C8) that validates a multi-tier configuration and a MemoryHandle (also
// C8, plus the C9 allocation façade) produced by Construct.
//
// The functional-options shape mirrors the teacher's internal/config.go
// (Option[K,V] + applyOptions): options only ever capture values, never
// allocate eagerly, and validation is concentrated in one place so errors
// are reported with a single, well-defined call (here, Construct instead
// of New, since a Builder accumulates tiers incrementally before the
// handle can be built).
//
// © 2025 memtier authors. MIT License.
package memtier

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PatKamin/memtier/internal/accountant"
	"github.com/PatKamin/memtier/internal/event"
	"github.com/PatKamin/memtier/internal/evqueue"
	"github.com/PatKamin/memtier/internal/fingerprint"
	"github.com/PatKamin/memtier/internal/kind"
	"github.com/PatKamin/memtier/internal/policy"
	"github.com/PatKamin/memtier/internal/ranking"
	"github.com/PatKamin/memtier/internal/telemetry"
	"github.com/PatKamin/memtier/internal/worker"
)

// PolicyTag selects which of the three placement-policy variants a Builder
// constructs.
type PolicyTag uint8

const (
	StaticRatioPolicy PolicyTag = iota
	DynamicThresholdPolicy
	DataHotnessPolicy
)

// Sentinel configuration errors (re-exported from internal/policy so
// callers can errors.Is against a single, public set).
var (
	ErrUnknownPolicy   = policy.ErrUnknownPolicy
	ErrDuplicateKind   = policy.ErrDuplicateKind
	ErrTooFewTiers     = policy.ErrTooFewTiers
	ErrThresholdOrder  = policy.ErrThresholdOrder
	ErrNegativeTrigger = policy.ErrNegativeTrigger

	errUnsetPolicyTag = errors.New("memtier: Builder constructed without NewBuilder")
	errBadCtlPath     = errors.New("memtier: unrecognised ctl_set path")
)

// Option configures a Builder. Mirrors the teacher's Option[K,V] pattern,
// specialised to this package's single concrete Builder type since the
// tiering engine has no per-call key/value type parameters to preserve.
type Option func(*Builder)

// Builder accumulates tier configuration and policy parameters until
// Construct freezes them into an immutable MemoryHandle.
type Builder struct {
	policyTag PolicyTag
	tiers     []policy.Tier

	// dynamic-threshold parameters
	thresholds []*policy.Threshold
	checkCnt   int
	trigger    float64
	degree     float64

	// ranking / data-hotness parameters
	hotRatio        float64
	oldWeight       float64
	measureWindowNS int64
	quantifyEnabled bool
	fingerprintSkip int

	eventQueueCapacity int

	logger         *zap.Logger
	registry       *prometheus.Registry
	tracerProvider trace.TracerProvider
	traceSelectKind bool
}

// NewBuilder constructs a Builder for the given policy variant with these
// defaults: check_cnt=20, trigger=0.02, degree=0.15 (the core spec's
// dynamic-threshold defaults), hot_ratio=0.5, old_weight=0.3, a 1s hotness
// measurement window, and a 4096-slot event queue.
func NewBuilder(tag PolicyTag, opts ...Option) *Builder {
	b := &Builder{
		policyTag:          tag,
		checkCnt:           20,
		trigger:            0.02,
		degree:             0.15,
		hotRatio:           0.5,
		oldWeight:          0.3,
		measureWindowNS:    int64(1_000_000_000),
		eventQueueCapacity: 4096,
		logger:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithLogger plugs an external zap.Logger. The façade never logs on the
// allocation fast path; only the ranking engine's and ranking worker's
// Warn-level invariant-violation messages are emitted (dynamic threshold
// adjustments are not logged), as the teacher's cache confines logging to
// non-hot-path events.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRegistry enables Prometheus metrics collection. Passing nil (the
// default) disables metrics so the fast path never pays for them.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(b *Builder) { b.registry = reg }
}

// WithTracing installs an OpenTelemetry TracerProvider. traceSelectKind
// additionally spans every placement decision; leave it false in
// production given the volume of allocator calls.
func WithTracing(tp trace.TracerProvider, traceSelectKind bool) Option {
	return func(b *Builder) {
		b.tracerProvider = tp
		b.traceSelectKind = traceSelectKind
	}
}

// WithTier appends a tier entry (add_tier in the core spec). Tier order
// matters: tier 0 is the reference tier for static ratio and the
// lowest-size tier for dynamic threshold; for data hotness, tier 0 must be
// the fast/hot tier. Each call also extends the dynamic-threshold
// parameter vector with its default formula (val=1024*(i+1),
// min=1024*(0.5+i), max=1024*(1.5+i)-1), which WithThreshold may later
// override.
func WithTier(k kind.Kind, ratioWeight uint) Option {
	return func(b *Builder) {
		i := len(b.tiers)
		b.tiers = append(b.tiers, policy.Tier{Kind: k, Weight: ratioWeight})
		if i > 0 {
			th := policy.DefaultThreshold(i - 1)
			b.thresholds = append(b.thresholds, &th)
		}
	}
}

// WithThreshold overrides boundary i's (val, min, max) after tiers have
// been added via WithTier, for ctl_set parity at construction time.
// Equivalent to Builder.Set("policy.dynamic_threshold.thresholds[i].val",
// ...) etc. but type-safe and batched into one call.
func WithThreshold(i int, val, min, max float64) Option {
	return func(b *Builder) {
		if i < 0 || i >= len(b.thresholds) {
			return
		}
		b.thresholds[i].Val, b.thresholds[i].Min, b.thresholds[i].Max = val, min, max
	}
}

// WithCheckInterval sets the dynamic policy's check_cnt: update_cfg
// re-examines thresholds every check_cnt allocating calls.
func WithCheckInterval(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.checkCnt = n
		}
	}
}

// WithTrigger sets the dynamic policy's trigger: the minimum |diff| in
// observed-vs-expected ratio that can cause a threshold nudge.
func WithTrigger(trigger float64) Option {
	return func(b *Builder) { b.trigger = trigger }
}

// WithDegree sets the dynamic policy's degree: the fraction of a
// threshold's current value it moves by when triggered.
func WithDegree(degree float64) Option {
	return func(b *Builder) { b.degree = degree }
}

// WithHotRatio sets the data-hotness and ranking-worker r fraction passed
// to calculate_hot_threshold_dram_total on every periodic recompute.
func WithHotRatio(r float64) Option {
	return func(b *Builder) { b.hotRatio = r }
}

// WithOldWeight sets the touch law's W_old recency-blend weight.
func WithOldWeight(w float64) Option {
	return func(b *Builder) { b.oldWeight = w }
}

// WithMeasureWindow overrides HOTNESS_MEASURE_WINDOW (nanoseconds).
func WithMeasureWindow(ns int64) Option {
	return func(b *Builder) {
		if ns > 0 {
			b.measureWindowNS = ns
		}
	}
}

// WithQuantifyHotness toggles log-bucket quantification of the hotness
// ranking tree's keys (ranking.Config.QuantifyEnabled).
func WithQuantifyHotness(enabled bool) Option {
	return func(b *Builder) { b.quantifyEnabled = enabled }
}

// WithEventQueueCapacity sets the SRMW queue's fixed capacity (rounded up
// to a power of two by internal/evqueue).
func WithEventQueueCapacity(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.eventQueueCapacity = n
		}
	}
}

// WithFingerprintSkip adjusts how many additional stack frames the
// backtrace fingerprinter discards; only relevant to callers that wrap the
// façade behind their own allocation helpers.
func WithFingerprintSkip(skip int) Option {
	return func(b *Builder) { b.fingerprintSkip = skip }
}

// Set applies a single ctl_set-style dotted-path override, for callers
// that receive configuration as data (e.g. a config file or CLI flag)
// rather than compiled-in Option calls. Recognised paths:
//
//	policy.dynamic_threshold.thresholds[<i>].val
//	policy.dynamic_threshold.thresholds[<i>].min
//	policy.dynamic_threshold.thresholds[<i>].max
//	policy.dynamic_threshold.check_cnt
//	policy.dynamic_threshold.trigger
//	policy.dynamic_threshold.degree
//	ranking.hot_ratio
//	ranking.old_weight
func (b *Builder) Set(path string, value float64) error {
	if i, field, ok := parseThresholdPath(path); ok {
		if i < 0 || i >= len(b.thresholds) {
			return fmt.Errorf("%w: %s (threshold index %d out of range)", errBadCtlPath, path, i)
		}
		switch field {
		case "val":
			b.thresholds[i].Val = value
		case "min":
			b.thresholds[i].Min = value
		case "max":
			b.thresholds[i].Max = value
		default:
			return fmt.Errorf("%w: %s", errBadCtlPath, path)
		}
		return nil
	}
	switch path {
	case "policy.dynamic_threshold.check_cnt":
		b.checkCnt = int(value)
	case "policy.dynamic_threshold.trigger":
		b.trigger = value
	case "policy.dynamic_threshold.degree":
		b.degree = value
	case "ranking.hot_ratio":
		b.hotRatio = value
	case "ranking.old_weight":
		b.oldWeight = value
	default:
		return fmt.Errorf("%w: %s", errBadCtlPath, path)
	}
	return nil
}

// parseThresholdPath extracts i and field from
// "policy.dynamic_threshold.thresholds[<i>].<field>".
func parseThresholdPath(path string) (i int, field string, ok bool) {
	const prefix = "policy.dynamic_threshold.thresholds["
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return 0, "", false
	}
	rest := path[len(prefix):]
	end := -1
	for pos, r := range rest {
		if r == ']' {
			end = pos
			break
		}
	}
	if end < 0 {
		return 0, "", false
	}
	n := 0
	for _, r := range rest[:end] {
		if r < '0' || r > '9' {
			return 0, "", false
		}
		n = n*10 + int(r-'0')
	}
	tail := rest[end+1:]
	if len(tail) < 2 || tail[0] != '.' {
		return 0, "", false
	}
	return n, tail[1:], true
}

// typeLookup adapts a worker.Worker to policy.TypeLookup without the
// policy package needing to import internal/worker.
func typeLookup(w *worker.Worker) policy.TypeLookup {
	return func(hash uint64) *ranking.TypeEntry {
		te, ok := w.TypeEntry(hash)
		if !ok {
			return nil
		}
		return te
	}
}

// Construct validates the accumulated configuration and builds an
// immutable MemoryHandle. For the data-hotness policy this also starts the
// ranking worker goroutine (C6); Close stops it again.
func (b *Builder) Construct() (*MemoryHandle, error) {
	if len(b.tiers) == 0 {
		return nil, ErrTooFewTiers
	}

	acc := accountant.New(len(b.tiers))
	kinds := make([]kind.Kind, len(b.tiers))
	tierIndex := make(map[kind.Kind]int, len(b.tiers))
	for i, t := range b.tiers {
		kinds[i] = t.Kind
		tierIndex[t.Kind] = i
	}
	registry := kind.NewRegistry(kinds)

	var sink telemetry.Sink = telemetry.NewNoop()
	if b.registry != nil {
		sink = telemetry.New(b.registry)
	}
	tracer := telemetry.NewTracer(b.tracerProvider, b.traceSelectKind)
	_, span := tracer.Construct(context.Background())
	defer span.End()

	h := &MemoryHandle{
		acc:       acc,
		registry:  registry,
		tierIndex: tierIndex,
		sink:      sink,
		tracer:    tracer,
		logger:    b.logger,
	}

	var err error
	switch b.policyTag {
	case StaticRatioPolicy:
		h.policy, err = policy.NewStaticRatio(b.tiers, acc)

	case DynamicThresholdPolicy:
		var dt *policy.DynamicThreshold
		dt, err = policy.NewDynamicThreshold(b.tiers, b.thresholds, b.checkCnt, b.trigger, b.degree, acc)
		if err == nil {
			dt.SetSink(sink)
			h.policy = dt
		}

	case DataHotnessPolicy:
		engine := ranking.New(ranking.Config{
			OldWeight:       b.oldWeight,
			MeasureWindowNS: b.measureWindowNS,
			QuantifyEnabled: b.quantifyEnabled,
		}, b.logger)
		queue := evqueue.New[event.Event](b.eventQueueCapacity)
		wcfg := worker.DefaultConfig()
		wcfg.HotRatio = b.hotRatio
		w := worker.New(wcfg, queue, engine, b.logger)
		w.SetSink(sink)
		fp := fingerprint.New(b.fingerprintSkip)

		onCreate := func(hash uint64, addr kind.Addr, size int64) {
			if !queue.Push(event.Event{Type: event.CreateAdd, Hash: hash, Addr: uintptr(addr), Size: size}) {
				sink.IncQueueDrop()
			}
		}
		h.policy, err = policy.NewDataHotness(b.tiers, fp, engine, typeLookup(w), onCreate)
		if err == nil {
			h.queue = queue
			h.worker = w
			h.engine = engine
		}

	default:
		return nil, errUnsetPolicyTag
	}
	if err != nil {
		return nil, err
	}

	if h.worker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.worker.Run(ctx)
	}
	return h, nil
}
