package kafkax

import (
	"context"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestNewMessageCarriesEnvelopeAndTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	msg := NewMessage(ctx, "availability.slot.booked.v1", EventMeta{
		EventID: "e-1", EventType: "availability.slot.booked.v1", AggregateType: "provider", AggregateID: "dr-1",
	}, []byte(`{}`))

	if string(msg.Key) != "dr-1" {
		t.Fatalf("expected aggregate id as key, got %q", msg.Key)
	}
	if HeaderValue(msg.Headers, "traceparent") == "" {
		t.Fatal("expected traceparent header")
	}
	got := ExtractEventMeta(msg)
	want := EventMeta{EventID: "e-1", EventType: "availability.slot.booked.v1", AggregateType: "provider", AggregateID: "dr-1"}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if sc := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), msg)); sc.TraceID() != traceID {
		t.Fatalf("trace id not propagated: %v", sc.TraceID())
	}
}

func TestExtractEventMetaFallsBackToPosition(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "booking.appointment.cancelled.v1", Partition: 2, Offset: 41, Key: []byte("dr-1")})
	if meta.EventID != "booking.appointment.cancelled.v1/2/41" || meta.EventType != "booking.appointment.cancelled.v1" {
		t.Fatalf("unexpected fallback meta: %+v", meta)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092,kafka-1:9092")
	if !reflect.DeepEqual(got, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Fatalf("got %v", got)
	}
}
