package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every Kindred span.
const tracerName = "github.com/MrWong99/kindred"

// companionKey tags spans and log lines with the companion a call belongs to.
const companionKey = "companion_id"

// Tracer returns the Kindred tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the Kindred tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCallSpan starts a span for one step of a call with companionID
// attached ahead of attrs.
func StartCallSpan(ctx context.Context, name, companionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs)+1)
	kv = append(kv, attribute.String(companionKey, companionID))
	kv = append(kv, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(kv...))
}

// TraceID returns the hex trace id of the span in ctx, or "" outside a
// sampled or remote span.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id when ctx
// carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// CallLogger is [Logger] for code running on behalf of a call.
func CallLogger(ctx context.Context, companionID string) *slog.Logger {
	return Logger(ctx).With(slog.String(companionKey, companionID))
}
