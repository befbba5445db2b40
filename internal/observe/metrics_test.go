package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/vabridge/pkg/detect"
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

// sumWhere returns the value of the counter data point whose attribute key
// equals value, and whether one was found.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
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
		if key == "" {
			return dp.Value, true
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestDetectRecorder(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, detect.RunWakeWord)
	m.RecordFrame(ctx, detect.RunWakeWord)
	m.RecordFrame(ctx, detect.RunCommand)
	m.RecordEvent(ctx, detect.EventCommandDetected)
	m.RecordDetectorError(ctx, detect.RunCommand, "license")
	m.RecordDroppedVariables(ctx, 3)

	rm := collect(t, reader)
	tests := []struct {
		name, key, value string
		want             int64
	}{
		{"vabridge.detect.frames", "state", "wake_word", 2},
		{"vabridge.detect.frames", "state", "command", 1},
		{"vabridge.detect.events", "event", "cmd_detected", 1},
		{"vabridge.detect.errors", "kind", "license", 1},
		{"vabridge.detect.dropped_variables", "", "", 3},
	}
	for _, tt := range tests {
		got, ok := sumWhere(t, rm, tt.name, tt.key, tt.value)
		if !ok || got != tt.want {
			t.Errorf("%s{%s=%s} = %d (found %t), want %d", tt.name, tt.key, tt.value, got, ok, tt.want)
		}
	}
}

func TestMailboxRecorder(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSend(ctx, "ok")
	m.RecordSend(ctx, "ok")
	m.RecordSend(ctx, "error")
	m.RecordReceive(ctx, true)
	m.RecordOverwrite(ctx)
	m.RecordDropped(ctx, "decode")
	m.RecordFetch(ctx, 120*time.Millisecond, true)
	m.RecordFetch(ctx, 10*time.Second, false)

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "vabridge.mailbox.sends", "status", "ok"); got != 2 {
		t.Errorf("sends{ok} = %d, want 2", got)
	}
	if got, _ := sumWhere(t, rm, "vabridge.mailbox.receives", "has_event", "true"); got != 1 {
		t.Errorf("receives{has_event} = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "vabridge.mailbox.overwrites", "", ""); got != 1 {
		t.Errorf("overwrites = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "vabridge.mailbox.dropped", "reason", "decode"); got != 1 {
		t.Errorf("dropped{decode} = %d, want 1", got)
	}

	met := findMetric(rm, "vabridge.mailbox.fetch.duration")
	if met == nil {
		t.Fatal("fetch histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("fetch metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 2 {
		t.Errorf("fetch samples = %d, want 2", total)
	}
}

func TestRecordTelemetry(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTelemetry(ctx, true, map[string]int{"kitchen": 4, "bedroom": 0})
	m.RecordIntentRejection(ctx, "unknown_room")

	rm := collect(t, reader)
	if got, _ := sumWhere(t, rm, "vabridge.app.telemetry", "has_event", "true"); got != 1 {
		t.Errorf("telemetry = %d, want 1", got)
	}
	if got, _ := sumWhere(t, rm, "vabridge.app.intent_rejections", "reason", "unknown_room"); got != 1 {
		t.Errorf("rejections = %d, want 1", got)
	}

	met := findMetric(rm, "vabridge.app.light_level")
	if met == nil {
		t.Fatal("light level gauge not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("light level is not an int64 gauge")
	}
	levels := map[string]int64{}
	for _, dp := range gauge.DataPoints {
		v, _ := dp.Attributes.Value("room")
		levels[v.AsString()] = dp.Value
	}
	if levels["kitchen"] != 4 || levels["bedroom"] != 0 || len(levels) != 2 {
		t.Errorf("levels = %v", levels)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
