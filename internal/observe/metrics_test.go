package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWith returns the value of the int64 sum data point carrying key=value.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordCallLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCallStarted(ctx, "connected")
	m.RecordCallStarted(ctx, "connected")
	m.RecordCallStarted(ctx, "failed")
	m.ActiveCalls.Add(ctx, 2)
	m.ActiveCalls.Add(ctx, -1)
	m.ConnectDuration.Record(ctx, 0.4)
	m.RecordCallEnded(ctx, "hangup", 42)

	rm := collect(t, reader)
	if got := sumWith(t, rm, "kindred.calls.started", "status", "connected"); got != 2 {
		t.Errorf("connected calls = %d, want 2", got)
	}
	if got := sumWith(t, rm, "kindred.calls.ended", "reason", "hangup"); got != 1 {
		t.Errorf("ended calls = %d, want 1", got)
	}

	active := findMetric(rm, "kindred.calls.active")
	if active == nil {
		t.Fatal("active calls metric not found")
	}
	if got := active.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("active calls = %d, want 1", got)
	}

	for _, name := range []string{"kindred.call.duration", "kindred.call.connect.duration"} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no histogram data", name)
			}
			if got := hist.DataPoints[0].Count; got != 1 {
				t.Errorf("sample count = %d, want 1", got)
			}
		})
	}
}

func TestRecordPlayback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPlayback(ctx, 12, "ok")
	m.RecordPlayback(ctx, 1, "error")

	rm := collect(t, reader)
	if got := sumWith(t, rm, "kindred.playback.units", "status", "ok"); got != 1 {
		t.Errorf("ok units = %d, want 1", got)
	}
	met := findMetric(rm, "kindred.playback.fragments")
	if met == nil {
		t.Fatal("fragments metric not found")
	}
	hist := met.Data.(metricdata.Histogram[int64])
	if hist.DataPoints[0].Sum != 13 {
		t.Errorf("fragments sum = %d, want 13", hist.DataPoints[0].Sum)
	}
}

func TestMemoryCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFactLearned(ctx, "incremental")
	m.RecordFactLearned(ctx, "incremental")
	m.RecordFactLearned(ctx, "final")
	m.RecordMemoryDrop(ctx, "AppendFact")
	m.RecordMemoryDefault(ctx, "RecentFacts")

	rm := collect(t, reader)
	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"kindred.memory.facts_learned", "source", "incremental", 2},
		{"kindred.memory.facts_learned", "source", "final", 1},
		{"kindred.memory.writes_dropped", "op", "AppendFact", 1},
		{"kindred.memory.reads_defaulted", "op", "RecentFacts", 1},
	}
	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			if got := sumWith(t, rm, tt.metric, tt.key, tt.value); got != tt.want {
				t.Errorf("value = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
