// Package observe provides application-wide observability primitives for
// wakelink: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all wakelink metrics.
const meterName = "github.com/MrWong99/wakelink"

// Frame consumers, used as the "consumer" attribute of FramesRouted.
const (
	ConsumerGate = "gate"
	ConsumerLink = "link"
)

// Drop reasons, used as the "reason" attribute of FramesDropped.
const (
	DropNotOpen      = "not_open"
	DropBackpressure = "backpressure"
	DropSendFailed   = "send_failed"
	DropMalformed    = "malformed"
	DropClosed       = "closed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LinkOpenDuration tracks the time from Open to a usable realtime session
	// (dial plus control message).
	LinkOpenDuration metric.Float64Histogram

	// SessionDuration tracks how long an Active period lasted.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// FramesRouted counts frames handed to a consumer. Use with attribute:
	//   attribute.String("consumer", ConsumerGate|ConsumerLink)
	FramesRouted metric.Int64Counter

	// FramesDropped counts frames that were discarded. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// WakeDetections counts wake-word hits. Use with attribute:
	//   attribute.String("keyword", ...)
	WakeDetections metric.Int64Counter

	// SessionsStarted counts Idle→Active transitions.
	SessionsStarted metric.Int64Counter

	// SessionsEnded counts Active→Idle transitions. Use with attribute:
	//   attribute.String("reason", ...)
	SessionsEnded metric.Int64Counter

	// RemoteEvents counts events received from the realtime link. Use with
	// attribute:
	//   attribute.String("type", ...)
	RemoteEvents metric.Int64Counter

	// --- Error counters ---

	// DetectorErrors counts wake-word engine failures on single frames.
	DetectorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks whether a session is currently Active (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for the
// length of a spoken interaction.
var sessionBuckets = []float64{
	1, 2.5, 5, 10, 20, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LinkOpenDuration, err = m.Float64Histogram("wakelink.link.open.duration",
		metric.WithDescription("Latency of opening a realtime session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("wakelink.session.duration",
		metric.WithDescription("Duration of Active sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesRouted, err = m.Int64Counter("wakelink.frames.routed",
		metric.WithDescription("Total audio frames routed by consumer."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("wakelink.frames.dropped",
		metric.WithDescription("Total audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("wakelink.wake.detections",
		metric.WithDescription("Total wake-word detections by keyword."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("wakelink.sessions.started",
		metric.WithDescription("Total sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("wakelink.sessions.ended",
		metric.WithDescription("Total sessions ended by reason."),
	); err != nil {
		return nil, err
	}
	if met.RemoteEvents, err = m.Int64Counter("wakelink.remote.events",
		metric.WithDescription("Total realtime link events by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DetectorErrors, err = m.Int64Counter("wakelink.detector.errors",
		metric.WithDescription("Total wake-word engine failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("wakelink.active_sessions",
		metric.WithDescription("Number of Active sessions (0 or 1)."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wakelink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordFrameRouted increments FramesRouted for the given consumer.
func (m *Metrics) RecordFrameRouted(ctx context.Context, consumer string) {
	m.FramesRouted.Add(ctx, 1, metric.WithAttributes(attribute.String("consumer", consumer)))
}

// RecordFrameDropped increments FramesDropped for the given reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWakeDetection increments WakeDetections for keyword.
func (m *Metrics) RecordWakeDetection(ctx context.Context, keyword string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("keyword", keyword)))
}

// RecordSessionStart increments SessionsStarted and the ActiveSessions gauge.
func (m *Metrics) RecordSessionStart(ctx context.Context) {
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionEnd increments SessionsEnded for reason, decrements the
// ActiveSessions gauge and records the session duration.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string, d time.Duration) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, d.Seconds())
}

// RecordRemoteEvent increments RemoteEvents for the given event type.
func (m *Metrics) RecordRemoteEvent(ctx context.Context, eventType string) {
	m.RemoteEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
