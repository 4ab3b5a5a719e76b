// Package metrics holds the gateway's OpenTelemetry instruments. Metrics are
// recorded through the OTel Metrics API and exported through a Prometheus
// bridge scraped on /metrics.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all gateway metrics.
const meterName = "github.com/omnibot-ai/voicegate"

// Metrics holds all metric instruments. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AudioFrames counts client audio frames forwarded upstream.
	AudioFrames metric.Int64Counter

	// ServerMessages counts upstream messages relayed to clients.
	ServerMessages metric.Int64Counter

	// DroppedFrames counts frames discarded by the relay. Use with
	// attribute.String("reason", ...): "queue_full" or "not_open".
	DroppedFrames metric.Int64Counter

	// RelayErrors counts relay failures. Use with
	// attribute.String("stage", ...): "connect", "client_read",
	// "upstream_recv", "write".
	RelayErrors metric.Int64Counter

	// GenerateDuration tracks one-shot generate request latency.
	GenerateDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// New creates a fully initialised [Metrics] using the given provider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicegate.live.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("voicegate.live.audio_frames",
		metric.WithDescription("Client audio frames forwarded upstream."),
	); err != nil {
		return nil, err
	}
	if met.ServerMessages, err = m.Int64Counter("voicegate.live.server_messages",
		metric.WithDescription("Upstream messages relayed to clients."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voicegate.live.dropped_frames",
		metric.WithDescription("Frames discarded by the relay, by reason."),
	); err != nil {
		return nil, err
	}
	if met.RelayErrors, err = m.Int64Counter("voicegate.live.errors",
		metric.WithDescription("Relay failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = m.Float64Histogram("voicegate.generate.duration",
		metric.WithDescription("One-shot generate request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordDrop increments the dropped-frame counter with the given reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordError increments the relay error counter for the given stage.
func (m *Metrics) RecordError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.RelayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// SessionStarted marks a relay session as active.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded marks a relay session as finished.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// AudioFrameForwarded counts one client frame passed upstream.
func (m *Metrics) AudioFrameForwarded(ctx context.Context) {
	if m == nil {
		return
	}
	m.AudioFrames.Add(ctx, 1)
}

// ServerMessageForwarded counts one upstream message relayed to the client.
func (m *Metrics) ServerMessageForwarded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ServerMessages.Add(ctx, 1)
}
