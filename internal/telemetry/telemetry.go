// Package telemetry mirrors the teacher's pkg/metrics.go: a metricsSink
// interface with a no-op implementation and a Prometheus implementation,
// selected at construction time depending on whether the caller supplied a
// *prometheus.Registry. Labels are by kind name and, for ranking gauges,
// unlabelled process-wide values — the tiering engine's natural dimensions
// being "which tier" rather than "which shard".
//
// © 2025 memtier authors. MIT License.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal metrics abstraction every emitting component in
// this module depends on instead of a concrete Prometheus type.
type Sink interface {
	AddKindBytes(kindName string, delta int64)
	SetKindBytes(kindName string, value int64)
	IncPlacement(kindName string)
	IncQueueDrop()
	SetQueueDepth(depth int64)
	SetHotThreshold(value float64)
	IncThresholdAdjust(boundary int)
}

// noopSink is used whenever the caller does not supply a registry, so the
// fast allocation path never pays for metric bookkeeping.
type noopSink struct{}

func (noopSink) AddKindBytes(string, int64)   {}
func (noopSink) SetKindBytes(string, int64)   {}
func (noopSink) IncPlacement(string)          {}
func (noopSink) IncQueueDrop()                {}
func (noopSink) SetQueueDepth(int64)          {}
func (noopSink) SetHotThreshold(float64)      {}
func (noopSink) IncThresholdAdjust(int)       {}

// NewNoop returns the no-op Sink.
func NewNoop() Sink { return noopSink{} }

// promSink is the Prometheus-backed implementation, registered against a
// caller-supplied registry (never the global default registry, so tests and
// multiple memory handles in one process don't collide).
type promSink struct {
	kindBytes        *prometheus.GaugeVec
	placements       *prometheus.CounterVec
	queueDrops       prometheus.Counter
	queueDepth       prometheus.Gauge
	hotThreshold     prometheus.Gauge
	thresholdAdjusts *prometheus.CounterVec
}

// New constructs a Sink. A nil registry yields the no-op Sink so callers
// can pass through an optional *prometheus.Registry without a branch.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return noopSink{}
	}
	const ns = "memtier"
	s := &promSink{
		kindBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "kind_bytes", Help: "Live bytes accounted per kind.",
		}, []string{"kind"}),
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "placements_total", Help: "Allocations routed to each kind.",
		}, []string{"kind"}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "event_queue_drops_total", Help: "Events dropped because the SRMW queue was full.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "event_queue_depth", Help: "Approximate occupied slots in the SRMW queue.",
		}),
		hotThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "hot_threshold", Help: "Current cached hot/cold hotness threshold.",
		}),
		thresholdAdjusts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "dynamic_threshold_adjustments_total", Help: "update_cfg threshold nudges per boundary.",
		}, []string{"boundary"}),
	}
	reg.MustRegister(s.kindBytes, s.placements, s.queueDrops, s.queueDepth, s.hotThreshold, s.thresholdAdjusts)
	return s
}

func (s *promSink) AddKindBytes(kindName string, delta int64) {
	s.kindBytes.WithLabelValues(kindName).Add(float64(delta))
}
func (s *promSink) SetKindBytes(kindName string, value int64) {
	s.kindBytes.WithLabelValues(kindName).Set(float64(value))
}
func (s *promSink) IncPlacement(kindName string) {
	s.placements.WithLabelValues(kindName).Inc()
}
func (s *promSink) IncQueueDrop()           { s.queueDrops.Inc() }
func (s *promSink) SetQueueDepth(depth int64) { s.queueDepth.Set(float64(depth)) }
func (s *promSink) SetHotThreshold(value float64) { s.hotThreshold.Set(value) }
func (s *promSink) IncThresholdAdjust(boundary int) {
	s.thresholdAdjusts.WithLabelValues(strconv.Itoa(boundary)).Inc()
}
