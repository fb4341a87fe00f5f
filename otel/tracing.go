// Package otel provides OpenTelemetry tracing integration for
// Sparkle.
//
// Traces give visibility into the join sequence, pairwise key
// negotiations, and the data plane.
//
// # Span Hierarchy
//
//	sparkle.join
//	├── sparkle.version_check
//	├── sparkle.nat_probe
//	└── sparkle.registration
//
//	sparkle.handshake
//	├── sparkle.public_key_exchange
//	└── sparkle.session_key_exchange
//
//	sparkle.send
//	sparkle.receive
//
// # Attributes
//
// Common span attributes include:
//   - peer.endpoint: the remote peer's real endpoint
//   - peer.sparkle_ip: the remote peer's overlay address
//   - message.size: size of sent/received frames
//   - join.step: the join step a span belongs to
//   - handshake.result: "success", "failure", or "timeout"
//
// # Example Usage
//
//	tracer := sparkleotel.NewTracer(otel.GetTracerProvider())
//	ctx, span := tracer.StartJoin(ctx, bootstrap)
//	defer span.End()
package otel

import (
	"context"
	"net/netip"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the OpenTelemetry tracer.
	TracerName = "github.com/ShiRenzhi/sparkle"

	// Span names
	SpanJoin               = "sparkle.join"
	SpanVersionCheck       = "sparkle.version_check"
	SpanNATProbe           = "sparkle.nat_probe"
	SpanRegistration       = "sparkle.registration"
	SpanHandshake          = "sparkle.handshake"
	SpanPublicKeyExchange  = "sparkle.public_key_exchange"
	SpanSessionKeyExchange = "sparkle.session_key_exchange"
	SpanSend               = "sparkle.send"
	SpanReceive            = "sparkle.receive"
	SpanExit               = "sparkle.exit"

	// Attribute keys
	AttrPeerEndpoint    = "peer.endpoint"
	AttrPeerSparkleIP   = "peer.sparkle_ip"
	AttrMessageSize     = "message.size"
	AttrJoinStep        = "join.step"
	AttrHandshakeResult = "handshake.result"
	AttrErrorMessage    = "error.message"
)

// Tracer provides OpenTelemetry tracing for Sparkle operations.
//
// Tracer is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the given TracerProvider.
// If provider is nil, a no-op tracer is used.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// StartJoin starts a span covering a join attempt.
func (t *Tracer) StartJoin(ctx context.Context, bootstrap netip.AddrPort) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanJoin,
		trace.WithAttributes(attribute.String(AttrPeerEndpoint, bootstrap.String())),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartJoinStep starts a child span for one step of the join sequence.
func (t *Tracer) StartJoinStep(ctx context.Context, span, step string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, span,
		trace.WithAttributes(attribute.String(AttrJoinStep, step)),
	)
}

// StartHandshake starts a span covering a pairwise key negotiation.
func (t *Tracer) StartHandshake(ctx context.Context, peer netip.AddrPort) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHandshake,
		trace.WithAttributes(attribute.String(AttrPeerEndpoint, peer.String())),
	)
}

// StartSend starts a span covering an outbound data frame.
func (t *Tracer) StartSend(ctx context.Context, overlayIP netip.Addr, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSend,
		trace.WithAttributes(
			attribute.String(AttrPeerSparkleIP, overlayIP.String()),
			attribute.Int(AttrMessageSize, size),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartReceive starts a span covering an inbound data frame.
func (t *Tracer) StartReceive(ctx context.Context, overlayIP netip.Addr, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanReceive,
		trace.WithAttributes(
			attribute.String(AttrPeerSparkleIP, overlayIP.String()),
			attribute.Int(AttrMessageSize, size),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// RecordResult annotates a span with a handshake or join result and
// sets the span status accordingly.
func RecordResult(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String(AttrHandshakeResult, result))
	if err != nil {
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
