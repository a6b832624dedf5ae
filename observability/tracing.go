package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/courier"

// Tracer provides OpenTelemetry tracing for delivery attempts.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFromProvider(otel.GetTracerProvider())
}

// NewTracerFromProvider creates a tracer from tp.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartAttemptSpan starts a span for one delivery attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, deliveryID, webhookID, event string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.delivery.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("courier.delivery_id", deliveryID),
			attribute.String("courier.webhook_id", webhookID),
			attribute.String("courier.event", event),
			attribute.Int("courier.attempt", attempt),
		),
	)
}

// EndAttemptSpan ends span with the attempt's result.
func (t *Tracer) EndAttemptSpan(span trace.Span, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("courier.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
