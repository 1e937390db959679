package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication
	LoginsTotal             *prometheus.CounterVec
	TokenVerificationsTotal *prometheus.CounterVec
	SessionsOnline          prometheus.Gauge

	// Upstream collaborators (auth/RDB backends, OIDC provider, cache)
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_logins_total",
				Help: "Login attempts by flow and outcome",
			},
			[]string{"flow", "outcome"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_token_verifications_total",
				Help: "Session token verifications by outcome",
			},
			[]string{"outcome"},
		),
		SessionsOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authgate_sessions_online",
				Help: "Live session cache entries",
			},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_upstream_requests_total",
				Help: "Calls to upstream collaborators by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authgate_upstream_request_duration_seconds",
				Help:    "Upstream call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.TokenVerificationsTotal,
		m.SessionsOnline,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
	)
	return m
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveUpstreamCall records one collaborator call.
func (m *Metrics) ObserveUpstreamCall(operation, outcome string, duration time.Duration) {
	m.UpstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
