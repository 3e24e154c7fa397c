package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is the W3C trace context in its header form, for storing next
// to rows written now and published later.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

// CaptureTraceContext returns the trace context of the span active in ctx.
func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

func (tc TraceContext) IsZero() bool {
	return tc.Traceparent == "" && tc.Tracestate == ""
}

// Restore makes tc the remote parent in ctx.
func (tc TraceContext) Restore(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": tc.Traceparent,
		"tracestate":  tc.Tracestate,
	})
}
