package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartGraphSpan creates a span covering one graph run, from submission
// (or resume) to terminal status.
//
// Usage:
//
//	ctx, span := telemetry.StartGraphSpan(ctx, graphID, objective)
//	defer span.End()
func StartGraphSpan(ctx context.Context, graphID, objective string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("engine")
	ctx, span := tracer.Start(ctx, "graph.run")

	span.SetAttributes(
		attribute.String("graph.id", graphID),
		attribute.String("graph.objective", objective),
		attribute.String("component", "engine"),
	)

	return ctx, span
}

// StartNodeSpan creates a span for a single attempt of a node.
func StartNodeSpan(ctx context.Context, graphID, nodeID, tool string, attempt int) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("engine")
	ctx, span := tracer.Start(ctx, "node."+tool)

	span.SetAttributes(
		attribute.String("graph.id", graphID),
		attribute.String("node.id", nodeID),
		attribute.String("node.tool", tool),
		attribute.Int("node.attempt", attempt),
	)

	return ctx, span
}

// StartPlannerSpan creates a span for a planner call.
func StartPlannerSpan(ctx context.Context, objective string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("planner")
	ctx, span := tracer.Start(ctx, "planner.plan")

	span.SetAttributes(
		attribute.String("graph.objective", objective),
		attribute.String("component", "planner"),
	)

	return ctx, span
}

// StartCommandSpan creates a span for a CLI command execution.
func StartCommandSpan(ctx context.Context, cmdName string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("commands")
	ctx, span := tracer.Start(ctx, "command."+cmdName)

	span.SetAttributes(
		attribute.String("command", cmdName),
		attribute.String("component", "cli"),
	)

	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
//
// Usage:
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	    return err
//	}
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("error", true),
	)
}

// RecordDuration records the duration of an operation as a span attribute.
func RecordDuration(span trace.Span, name string, duration time.Duration) {
	span.SetAttributes(
		attribute.Int64(name+"_ms", duration.Milliseconds()),
	)
}
