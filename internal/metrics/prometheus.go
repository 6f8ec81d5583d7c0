package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the intake service
type Metrics struct {
	// Listener metrics
	SessionsAccepted prometheus.Counter
	AcceptErrors     prometheus.Counter
	ActiveSessions   prometheus.Gauge

	// Session metrics
	SessionsCompleted prometheus.Counter
	SessionsAborted   *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Report metrics
	ReportsStored prometheus.Counter
	ReportBytes   prometheus.Counter
	ReportSize    prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sessions_accepted_total",
			Help: "Total number of TCP connections accepted",
		}),
		AcceptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_accept_errors_total",
			Help: "Total number of failed accept calls",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intake_active_sessions",
			Help: "Current number of sessions in progress",
		}),

		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sessions_completed_total",
			Help: "Total number of sessions that stored a report and sent the final acknowledgement",
		}),
		SessionsAborted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_sessions_aborted_total",
			Help: "Total number of aborted sessions by protocol stage",
		}, []string{"stage"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_session_duration_seconds",
			Help:    "Duration of sessions from accept to completion or abort",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),

		ReportsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_reports_stored_total",
			Help: "Total number of reports written to the branch store",
		}),
		ReportBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_report_bytes_total",
			Help: "Total number of decoded report bytes written",
		}),
		ReportSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_report_size_bytes",
			Help:    "Size of decoded reports in bytes",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10), // 16B to 8KB
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted counts an accepted connection and marks it active
func (m *Metrics) RecordSessionStarted() {
	m.SessionsAccepted.Inc()
	m.ActiveSessions.Inc()
}

// RecordAcceptError increments the accept errors counter
func (m *Metrics) RecordAcceptError() {
	m.AcceptErrors.Inc()
}

// RecordSessionCompleted records a successful session and its duration
func (m *Metrics) RecordSessionCompleted(durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsCompleted.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionAborted records a failed session at the given stage
func (m *Metrics) RecordSessionAborted(stage string, durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsAborted.WithLabelValues(stage).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordReportStored records a report written to disk
func (m *Metrics) RecordReportStored(sizeBytes int64) {
	m.ReportsStored.Inc()
	m.ReportBytes.Add(float64(sizeBytes))
	m.ReportSize.Observe(float64(sizeBytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
