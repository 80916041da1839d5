package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal *prometheus.CounterVec

	// Token issuance metrics
	TokensIssuedTotal     *prometheus.CounterVec
	TokenIssuanceDuration prometheus.Histogram

	// ACL compilation metrics
	ACLEntriesCompiled     prometheus.Histogram
	UnbindableRulesTotal   *prometheus.CounterVec
	CompilationErrorsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gale_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gale_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gale_auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"status"},
		),

		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gale_tokens_issued_total",
				Help: "Total number of broker credentials issued",
			},
			[]string{"status"},
		),
		TokenIssuanceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gale_token_issuance_duration_seconds",
				Help:    "End-to-end token issuance duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		ACLEntriesCompiled: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gale_acl_entries_compiled",
				Help:    "Number of entries in a compiled ACL list",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		UnbindableRulesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gale_unbindable_rules_total",
				Help: "Total number of rule/binding pairs skipped during compilation",
			},
			[]string{"role"},
		),
		CompilationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gale_compilation_errors_total",
				Help: "Total number of ACL compilation failures",
			},
			[]string{"reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gale_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gale_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.TokensIssuedTotal,
		m.TokenIssuanceDuration,
		m.ACLEntriesCompiled,
		m.UnbindableRulesTotal,
		m.CompilationErrorsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// MetricsHandler returns the /metrics handler for a registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// CollectDBStats pushes database pool statistics into the gauges
func (m *Metrics) CollectDBStats(inUse, idle int) {
	m.DBConnectionsActive.Set(float64(inUse))
	m.DBConnectionsIdle.Set(float64(idle))
}
