// Package observe provides application-wide observability primitives for
// Kindred: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by
// [MetricsHandler], so metrics can be scraped from /metrics. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Kindred metrics.
const meterName = "github.com/MrWong99/kindred"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Calls ---

	// CallsStarted counts call attempts. Use with attribute:
	//   attribute.String("status", "connected"|"failed")
	CallsStarted metric.Int64Counter

	// CallsEnded counts finished calls. Use with attribute:
	//   attribute.String("reason", "hangup"|"transport_closed")
	CallsEnded metric.Int64Counter

	// ActiveCalls tracks the number of calls between connect and end.
	ActiveCalls metric.Int64UpDownCounter

	// ConnectDuration tracks the time from dialing the transport until the
	// session is accepted.
	ConnectDuration metric.Float64Histogram

	// CallDuration tracks the length of completed calls.
	CallDuration metric.Float64Histogram

	// TransportErrors counts error events and failures reported by the
	// speech-to-speech transport.
	TransportErrors metric.Int64Counter

	// --- Audio pipelines ---

	// SegmentsCaptured counts microphone segments sent to the transport.
	SegmentsCaptured metric.Int64Counter

	// SegmentFailures counts segments that failed to record or send.
	SegmentFailures metric.Int64Counter

	// CaptureSuppressed counts capture polls skipped because the companion
	// was speaking or the settle delay had not elapsed.
	CaptureSuppressed metric.Int64Counter

	// PlaybackUnits counts playback operations. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	PlaybackUnits metric.Int64Counter

	// PlaybackFragments tracks how many fragments were coalesced into one
	// playback unit.
	PlaybackFragments metric.Int64Histogram

	// --- Memory ---

	// FactsLearned counts new facts written to the store. Use with attribute:
	//   attribute.String("source", "incremental"|"final"|"tool")
	FactsLearned metric.Int64Counter

	// MemoryWritesDropped counts writes discarded during a memory outage.
	// Use with attribute: attribute.String("op", ...)
	MemoryWritesDropped metric.Int64Counter

	// MemoryReadsDefaulted counts reads answered with defaults during a
	// memory outage. Use with attribute: attribute.String("op", ...)
	MemoryReadsDefaulted metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, route pattern and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection setup.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20,
}

// callBuckets defines histogram bucket boundaries (in seconds) for call
// lengths, from a hang-up right after the greeting to an hour-long chat.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Calls.
	if met.CallsStarted, err = m.Int64Counter("kindred.calls.started",
		metric.WithDescription("Total call attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("kindred.calls.ended",
		metric.WithDescription("Total finished calls by end reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCalls, err = m.Int64UpDownCounter("kindred.calls.active",
		metric.WithDescription("Number of calls currently connected."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("kindred.call.connect.duration",
		metric.WithDescription("Time from dialing the transport until the session is accepted."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("kindred.call.duration",
		metric.WithDescription("Length of completed calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("kindred.transport.errors",
		metric.WithDescription("Total errors reported by the speech-to-speech transport."),
	); err != nil {
		return nil, err
	}

	// Audio pipelines.
	if met.SegmentsCaptured, err = m.Int64Counter("kindred.capture.segments",
		metric.WithDescription("Total microphone segments streamed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.SegmentFailures, err = m.Int64Counter("kindred.capture.failures",
		metric.WithDescription("Total microphone segments that failed to record or send."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSuppressed, err = m.Int64Counter("kindred.capture.suppressed",
		metric.WithDescription("Total capture polls skipped to avoid recording playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnits, err = m.Int64Counter("kindred.playback.units",
		metric.WithDescription("Total playback operations by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFragments, err = m.Int64Histogram("kindred.playback.fragments",
		metric.WithDescription("Audio fragments coalesced into one playback operation."),
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64),
	); err != nil {
		return nil, err
	}

	// Memory.
	if met.FactsLearned, err = m.Int64Counter("kindred.memory.facts_learned",
		metric.WithDescription("Total new facts stored by source."),
	); err != nil {
		return nil, err
	}
	if met.MemoryWritesDropped, err = m.Int64Counter("kindred.memory.writes_dropped",
		metric.WithDescription("Total memory writes dropped because the store was unavailable."),
	); err != nil {
		return nil, err
	}
	if met.MemoryReadsDefaulted, err = m.Int64Counter("kindred.memory.reads_defaulted",
		metric.WithDescription("Total memory reads answered with defaults because the store was unavailable."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("kindred.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCallStarted records the outcome of a call attempt.
func (m *Metrics) RecordCallStarted(ctx context.Context, status string) {
	m.CallsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCallEnded records a finished call and its length.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string, seconds float64) {
	m.CallsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.CallDuration.Record(ctx, seconds)
}

// RecordPlayback records one playback operation of n fragments.
func (m *Metrics) RecordPlayback(ctx context.Context, fragments int, status string) {
	m.PlaybackUnits.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PlaybackFragments.Record(ctx, int64(fragments))
}

// RecordFactLearned records a new fact from the given source.
func (m *Metrics) RecordFactLearned(ctx context.Context, source string) {
	m.FactsLearned.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordMemoryDrop records a dropped memory write.
func (m *Metrics) RecordMemoryDrop(ctx context.Context, op string) {
	m.MemoryWritesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordMemoryDefault records a memory read answered with defaults.
func (m *Metrics) RecordMemoryDefault(ctx context.Context, op string) {
	m.MemoryReadsDefaulted.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
