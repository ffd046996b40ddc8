package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/bridge"

// Tracer provides OpenTelemetry tracing for the bridge. A nil *Tracer is
// valid: spans are no-ops.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global otel provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartEventSpan starts a span covering the processing of one inbound event.
func (t *Tracer) StartEventSpan(ctx context.Context, platform, channelID, messageID, correlationID string) (context.Context, trace.Span) {
	return t.start(ctx, "bridge.event",
		attribute.String("bridge.platform", platform),
		attribute.String("bridge.channel_id", channelID),
		attribute.String("bridge.message_id", messageID),
		attribute.String("bridge.correlation_id", correlationID),
	)
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, pairID, platform, channelID string) (context.Context, trace.Span) {
	return t.start(ctx, "bridge.delivery",
		attribute.String("bridge.delivery_id", deliveryID),
		attribute.String("bridge.pair_id", pairID),
		attribute.String("bridge.platform", platform),
		attribute.String("bridge.channel_id", channelID),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, attempt int, latencyMs int64, err error) {
	if t == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("bridge.attempt", attempt),
		attribute.Int64("bridge.latency_ms", latencyMs),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
