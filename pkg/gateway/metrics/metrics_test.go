package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestSessionGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)

	data, ok := findMetric(collect(t, reader), "voicegate.live.active_sessions")
	if !ok {
		t.Fatal("active_sessions not recorded")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want single point of 1", sum.DataPoints)
	}
}

func TestDropReasonAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, "queue_full")
	m.RecordDrop(ctx, "queue_full")
	m.RecordDrop(ctx, "not_open")

	data, ok := findMetric(collect(t, reader), "voicegate.live.dropped_frames")
	if !ok {
		t.Fatal("dropped_frames not recorded")
	}
	sum, ok := data.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", data.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (one per reason)", len(sum.DataPoints))
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total drops = %d, want 3", total)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	// all convenience methods must be no-ops on nil
	m.SessionStarted(ctx)
	m.SessionEnded(ctx)
	m.AudioFrameForwarded(ctx)
	m.ServerMessageForwarded(ctx)
	m.RecordDrop(ctx, "not_open")
	m.RecordError(ctx, "connect")
}
