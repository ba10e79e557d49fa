package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the handful of spans this module emits: one around
// Builder.Construct (config validation is cheap but worth seeing in a
// trace alongside the rest of a service's startup) and, optionally, one
// per select_kind call for deep debugging of placement decisions (off by
// default — it would dwarf everything else in a trace at allocation
// volume). Default is otel's global no-op TracerProvider, matching the
// teacher's go.mod carrying otel only for a disabled exporter path.
type Tracer struct {
	tr            trace.Tracer
	traceSelectKind bool
}

// NewTracer builds a Tracer from a trace.TracerProvider. A nil provider
// falls back to otel.GetTracerProvider(), which defaults to a no-op
// implementation until a real SDK is registered by the host application.
func NewTracer(tp trace.TracerProvider, traceSelectKind bool) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{tr: tp.Tracer("github.com/PatKamin/memtier"), traceSelectKind: traceSelectKind}
}

// Construct wraps Builder.Construct.
func (t *Tracer) Construct(ctx context.Context) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "memtier.Construct")
}

// SelectKind wraps a placement decision, if per-call tracing is enabled;
// otherwise it returns ctx unchanged and a no-op span.
func (t *Tracer) SelectKind(ctx context.Context, size int64) (context.Context, trace.Span) {
	if !t.traceSelectKind {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tr.Start(ctx, "memtier.select_kind")
}
