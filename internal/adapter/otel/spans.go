package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chainwright"

// StartRequestSpan starts a span covering one request's pass through the
// agent chain.
func StartRequestSpan(ctx context.Context, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline.request",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
		),
	)
}

// StartStageSpan starts a span for one agent stage within a request.
func StartStageSpan(ctx context.Context, requestID, agent string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("agent", agent),
		),
	)
}

// StartReasoningSpan starts a span for a reasoning backend completion.
func StartReasoningSpan(ctx context.Context, agent, backend string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reasoning.complete",
		trace.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("reasoning.backend", backend),
		),
	)
}
