package outbox

import (
	"context"
	"testing"

	"github.com/mindery/booking/libs/kafkax"
	otelx "github.com/mindery/booking/libs/otel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestToMessageCarriesMetadataAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	rec := Record{
		ID:            7,
		EventID:       "0b6c3c4e-1f9c-4c57-9a0a-5d7f3f0f5e01",
		AggregateType: "provider",
		AggregateID:   "prov-1",
		EventType:     "availability.slot.booked.v1",
		Payload:       []byte(`{"provider_id":"prov-1"}`),
		Trace:         otelx.TraceContext{Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
	}
	msg := toMessage(context.Background(), rec)

	if msg.Topic != rec.EventType || string(msg.Key) != "prov-1" {
		t.Fatalf("unexpected topic/key %q %q", msg.Topic, msg.Key)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != rec.EventID || meta.EventType != rec.EventType {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if got := kafkax.HeaderValue(msg.Headers, "traceparent"); got != rec.Trace.Traceparent {
		t.Fatalf("expected traceparent propagated, got %q", got)
	}
}
