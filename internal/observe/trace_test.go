package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLogs routes the default logger into a buffer at debug level.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	useTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "call.Start")
		id := TraceID(ctx)
		span.End()
		if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("TraceID = %q, want 32 lowercase hex chars", id)
		}
		if seen[id] {
			t.Fatalf("trace id %s issued twice", id)
		}
		seen[id] = true
	}
}

func TestStartCallSpan_TagsCompanion(t *testing.T) {
	exp := useTracer(t)

	_, span := StartCallSpan(context.Background(), "call.End", "ava", attribute.String("reason", "hangup"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "call.End" {
		t.Errorf("name = %q, want call.End", s.Name)
	}
	if s.InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", s.InstrumentationScope.Name, tracerName)
	}
	want := []attribute.KeyValue{
		attribute.String("companion_id", "ava"),
		attribute.String("reason", "hangup"),
	}
	if len(s.Attributes) != len(want) {
		t.Fatalf("attributes = %v, want %v", s.Attributes, want)
	}
	for i, kv := range want {
		if s.Attributes[i] != kv {
			t.Errorf("attribute %d = %v, want %v", i, s.Attributes[i], kv)
		}
	}
}

func TestStartCallSpan_NestsUnderParent(t *testing.T) {
	exp := useTracer(t)

	ctx, parent := StartCallSpan(context.Background(), "call.Start", "ava")
	_, child := StartCallSpan(ctx, "memctx.Context", "ava")
	child.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("memctx.Context span is not a child of call.Start")
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("child span started a new trace")
	}
}

func TestCallLogger(t *testing.T) {
	tests := []struct {
		name     string
		withSpan bool
	}{
		{name: "inside a call span", withSpan: true},
		{name: "outside any span"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useTracer(t)
			buf := captureLogs(t)

			ctx := context.Background()
			if tt.withSpan {
				var span trace.Span
				ctx, span = StartCallSpan(ctx, "call.Start", "ava")
				defer span.End()
			}
			CallLogger(ctx, "ava").Info("call connected")

			out := buf.String()
			if !strings.Contains(out, "companion_id=ava") {
				t.Errorf("missing companion_id: %s", out)
			}
			for _, key := range []string{"trace_id=", "span_id="} {
				if got := strings.Contains(out, key); got != tt.withSpan {
					t.Errorf("%s present = %v, want %v: %s", key, got, tt.withSpan, out)
				}
			}
			if tt.withSpan && !strings.Contains(out, "trace_id="+TraceID(ctx)) {
				t.Errorf("trace_id does not match the span: %s", out)
			}
		})
	}
}

func TestLogger_WithoutSpanIsDefault(t *testing.T) {
	captureLogs(t)
	if Logger(context.Background()) != slog.Default() {
		t.Error("Logger without a span should be the default logger")
	}
}
