package otel

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder() (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracer(tp), rec
}

func TestTracer_JoinSpan(t *testing.T) {
	tracer, rec := newRecorder()

	_, span := tracer.StartJoin(context.Background(),
		netip.MustParseAddrPort("192.0.2.1:1801"))
	RecordResult(span, "success", nil)
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name() != SpanJoin {
		t.Errorf("span name = %q, want %q", spans[0].Name(), SpanJoin)
	}

	attrs := spans[0].Attributes()
	found := false
	for _, a := range attrs {
		if string(a.Key) == AttrPeerEndpoint && a.Value.AsString() == "192.0.2.1:1801" {
			found = true
		}
	}
	if !found {
		t.Errorf("peer endpoint attribute missing: %v", attrs)
	}
}

func TestTracer_HandshakeFailure(t *testing.T) {
	tracer, rec := newRecorder()

	_, span := tracer.StartHandshake(context.Background(),
		netip.MustParseAddrPort("192.0.2.2:1801"))
	RecordResult(span, "timeout", errors.New("negotiation timed out"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status().Description != "negotiation timed out" {
		t.Errorf("status = %q", spans[0].Status().Description)
	}
}

func TestNewTracer_NilProvider(t *testing.T) {
	tracer := NewTracer(nil)
	_, span := tracer.StartSend(context.Background(),
		netip.MustParseAddr("10.1.2.14"), 64)
	span.End() // no-op tracer must not panic
}
