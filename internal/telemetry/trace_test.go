package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs a tracer provider backed by an in-memory exporter
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		SetTracerProvider(nil)
	})

	return exporter
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestStartGraphSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	spanCtx, span := StartGraphSpan(ctx, "g-1", "summarize the report")
	if spanCtx == ctx {
		t.Error("expected new context with span, got same context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "graph.run" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "graph.run")
	}

	attrs := attrMap(spans[0].Attributes)
	if got := attrs["graph.id"].AsString(); got != "g-1" {
		t.Errorf("graph.id = %q, want %q", got, "g-1")
	}
	if got := attrs["graph.objective"].AsString(); got != "summarize the report" {
		t.Errorf("graph.objective = %q", got)
	}
}

func TestNodeSpanIsChildOfGraphSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, graphSpan := StartGraphSpan(context.Background(), "g-1", "obj")
	_, nodeSpan := StartNodeSpan(ctx, "g-1", "fetch", "http", 2)
	nodeSpan.End()
	graphSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	node := spans[0]
	graph := spans[1]
	if node.Name != "node.http" {
		t.Errorf("node span name = %q, want %q", node.Name, "node.http")
	}
	if node.Parent.SpanID() != graph.SpanContext.SpanID() {
		t.Error("node span should be a child of the graph span")
	}

	attrs := attrMap(node.Attributes)
	if got := attrs["node.attempt"].AsInt64(); got != 2 {
		t.Errorf("node.attempt = %d, want 2", got)
	}
	if got := attrs["node.id"].AsString(); got != "fetch" {
		t.Errorf("node.id = %q, want %q", got, "fetch")
	}
}

func TestStartPlannerAndCommandSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	_, p := StartPlannerSpan(context.Background(), "obj")
	p.End()
	_, c := StartCommandSpan(context.Background(), "run")
	c.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "planner.plan" {
		t.Errorf("span name = %q, want planner.plan", spans[0].Name)
	}
	if spans[1].Name != "command.run" {
		t.Errorf("span name = %q, want command.run", spans[1].Name)
	}
}

func TestRecordSuccessAndError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, ok := StartNodeSpan(context.Background(), "g", "a", "echo", 1)
	RecordSuccess(ok, attribute.String("result", "done"))
	ok.End()

	_, bad := StartNodeSpan(context.Background(), "g", "b", "echo", 1)
	RecordError(bad, errors.New("tool exploded"))
	RecordDuration(bad, "attempt", 1500*time.Millisecond)
	bad.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	if spans[0].Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status.Code)
	}

	if spans[1].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[1].Status.Code)
	}
	if spans[1].Status.Description != "tool exploded" {
		t.Errorf("status description = %q", spans[1].Status.Description)
	}
	if len(spans[1].Events) != 1 {
		t.Errorf("expected 1 error event, got %d", len(spans[1].Events))
	}
	if got := attrMap(spans[1].Attributes)["attempt_ms"].AsInt64(); got != 1500 {
		t.Errorf("attempt_ms = %d, want 1500", got)
	}
}

func TestRecordErrorNil(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "status")
	RecordError(span, nil)
	span.End()

	if got := exporter.GetSpans()[0].Status.Code; got != codes.Unset {
		t.Errorf("status = %v, want Unset", got)
	}
}
