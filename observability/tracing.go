package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hookpipe/hookpipe"

// Tracer provides OpenTelemetry tracing for delivery attempts.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new gateway tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartAttemptSpan starts a new span for a delivery attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, logID, ruleID, tenantID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookpipe.delivery",
		trace.WithAttributes(
			attribute.String("hookpipe.attempt_id", logID),
			attribute.String("hookpipe.rule_id", ruleID),
			attribute.String("hookpipe.tenant_id", tenantID),
		),
	)
}

// EndAttemptSpan ends a delivery span with result attributes.
func (t *Tracer) EndAttemptSpan(span trace.Span, statusCode, latencyMs int, errText string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("hookpipe.latency_ms", latencyMs),
	)
	if errText != "" {
		span.SetAttributes(attribute.String("hookpipe.error", errText))
	}
	span.End()
}
