// Package observe provides observability primitives for streamscribe:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware for the optional metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all streamscribe metrics.
const meterName = "github.com/MrWong99/streamscribe"

// Metrics holds all OpenTelemetry metric instruments for the streaming
// client. All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks the wall time of a whole session, from the
	// first connection attempt until the connection closes.
	SessionDuration metric.Float64Histogram

	// EOSDuration tracks the time between sending the end-of-stream event
	// and the service acknowledging every requested response type.
	EOSDuration metric.Float64Histogram

	// --- Counters ---

	// Sessions counts finished sessions. Use with attributes:
	//   attribute.String("outcome", ...), attribute.Int("code", ...)
	Sessions metric.Int64Counter

	// ConnectAttempts counts WebSocket dial attempts. Use with attribute:
	//   attribute.String("result", "ok"|"error")
	ConnectAttempts metric.Int64Counter

	// MediaChunks counts audio frames written to the service.
	MediaChunks metric.Int64Counter

	// MediaBytes counts audio bytes written to the service.
	MediaBytes metric.Int64Counter

	// Responses counts messages received. Use with attributes:
	//   attribute.String("type", ...), attribute.Bool("eos", ...)
	Responses metric.Int64Counter

	// KeepalivePings counts pings received from the service.
	KeepalivePings metric.Int64Counter

	// --- Error counters ---

	// SendErrors counts failed audio frame writes.
	SendErrors metric.Int64Counter

	// SendTrips counts sessions torn down after too many consecutive
	// failed writes.
	SendTrips metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops server request time. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...),
	//   AttrSessionState
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// session-level durations, which range from sub-second failures to
// hour-long streams.
var sessionBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600,
}

// eosBuckets defines histogram bucket boundaries (in seconds) for the
// end-of-stream handshake, which is bounded by the client's EOS timeout.
var eosBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("streamscribe.session.duration",
		metric.WithDescription("Wall time of a streaming session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EOSDuration, err = m.Float64Histogram("streamscribe.eos.duration",
		metric.WithDescription("Time from sending end-of-stream to the final acknowledgement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(eosBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Sessions, err = m.Int64Counter("streamscribe.sessions",
		metric.WithDescription("Finished sessions by outcome and error code."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("streamscribe.connect.attempts",
		metric.WithDescription("WebSocket connection attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.MediaChunks, err = m.Int64Counter("streamscribe.media.chunks",
		metric.WithDescription("Audio frames sent to the service."),
	); err != nil {
		return nil, err
	}
	if met.MediaBytes, err = m.Int64Counter("streamscribe.media.bytes",
		metric.WithDescription("Audio bytes sent to the service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Responses, err = m.Int64Counter("streamscribe.responses",
		metric.WithDescription("Messages received from the service by response type."),
	); err != nil {
		return nil, err
	}
	if met.KeepalivePings, err = m.Int64Counter("streamscribe.keepalive.pings",
		metric.WithDescription("Keepalive pings received from the service."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SendErrors, err = m.Int64Counter("streamscribe.media.send_errors",
		metric.WithDescription("Failed audio frame writes."),
	); err != nil {
		return nil, err
	}
	if met.SendTrips, err = m.Int64Counter("streamscribe.media.send_trips",
		metric.WithDescription("Sessions stopped after consecutive failed writes."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamscribe.active_sessions",
		metric.WithDescription("Number of running streaming sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamscribe.http.request.duration",
		metric.WithDescription("Ops server request latency by route, status and session state."),
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

// RecordSession records one finished session.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, code int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("code", code),
	)
	m.Sessions.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, seconds, attrs)
}

// RecordConnectAttempt records one dial attempt with result "ok" or "error".
func (m *Metrics) RecordConnectAttempt(ctx context.Context, result string) {
	m.ConnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordChunk records one audio frame of n bytes.
func (m *Metrics) RecordChunk(ctx context.Context, n int) {
	m.MediaChunks.Add(ctx, 1)
	m.MediaBytes.Add(ctx, int64(n))
}

// RecordResponse records one inbound message of the given response type.
func (m *Metrics) RecordResponse(ctx context.Context, responseType string, eos bool) {
	m.Responses.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", responseType),
			attribute.Bool("eos", eos),
		),
	)
}
