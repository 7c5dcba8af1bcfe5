// Package metrics defines the Prometheus instrumentation for the shim.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Source label values for ingestion metrics.
const (
	SourcePrimary = "primary"
	SourceInject  = "inject"
)

// Frame kind label values for output metrics.
const (
	FramePrimary = "primary"
	FrameInject  = "inject"
	FrameSilence = "silence"
)

// Metrics contains all Prometheus metrics for the PCM stream service.
// All Record* helpers are nil-safe so components can run without
// instrumentation in tests.
type Metrics struct {
	// Ingestion metrics
	DatagramsReceived *prometheus.CounterVec
	DatagramsDropped  *prometheus.CounterVec
	BytesReceived     *prometheus.CounterVec
	BytesDropped      *prometheus.CounterVec

	// Output metrics
	FramesSent *prometheus.CounterVec
	BytesSent  prometheus.Counter
	SendErrors prometheus.Counter

	// Session metrics
	SessionsTotal   prometheus.Counter
	ActiveSession   prometheus.Gauge
	SessionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		DatagramsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pcm_datagrams_received_total",
			Help: "Total number of UDP datagrams received per source",
		}, []string{"source"}),
		DatagramsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pcm_datagrams_dropped_total",
			Help: "Total number of UDP datagrams dropped because the receive queue was full",
		}, []string{"source"}),
		BytesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pcm_bytes_received_total",
			Help: "Total number of audio bytes received per source",
		}, []string{"source"}),
		BytesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pcm_bytes_dropped_total",
			Help: "Total number of buffered audio bytes dropped by the safety cap",
		}, []string{"source"}),

		FramesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pcm_frames_sent_total",
			Help: "Total number of output frames sent, by content kind",
		}, []string{"kind"}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pcm_bytes_sent_total",
			Help: "Total number of PCM bytes written to the downstream consumer",
		}),
		SendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pcm_send_errors_total",
			Help: "Total number of session-fatal write errors",
		}),

		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pcm_sessions_total",
			Help: "Total number of downstream consumer sessions served",
		}),
		ActiveSession: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pcm_active_session",
			Help: "Whether a downstream consumer is currently connected (0 or 1)",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pcm_session_duration_seconds",
			Help:    "Duration of downstream consumer sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~18 hours
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pcm_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pcm_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordDatagram records one received datagram of n bytes for a source
func (m *Metrics) RecordDatagram(source string, n int) {
	if m == nil {
		return
	}
	m.DatagramsReceived.WithLabelValues(source).Inc()
	m.BytesReceived.WithLabelValues(source).Add(float64(n))
}

// RecordDatagramDropped records a datagram dropped on a full receive queue
func (m *Metrics) RecordDatagramDropped(source string) {
	if m == nil {
		return
	}
	m.DatagramsDropped.WithLabelValues(source).Inc()
}

// RecordBytesDropped records buffered bytes discarded by the safety cap
func (m *Metrics) RecordBytesDropped(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BytesDropped.WithLabelValues(source).Add(float64(n))
}

// RecordFrameSent records one emitted output frame of n bytes
func (m *Metrics) RecordFrameSent(kind string, n int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
	m.BytesSent.Add(float64(n))
}

// RecordSendError increments the session-fatal write error counter
func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

// RecordSessionStart records a new downstream consumer session
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSession.Set(1)
}

// RecordSessionEnd records the end of a session and its duration
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveSession.Set(0)
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP API request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
