package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login results recorded by LoginAttemptsTotal
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginError   = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Auth metrics
	LoginAttemptsTotal *prometheus.CounterVec
	AuthzDeniedTotal   *prometheus.CounterVec

	// Session metrics
	SessionGCRunsTotal   *prometheus.CounterVec
	SessionsEvictedTotal prometheus.Counter

	// Audit metrics
	AuditEntriesTotal  *prometheus.CounterVec
	AuditFailuresTotal prometheus.Counter

	registry *prometheus.Registry
}

// CacheStats is a snapshot of a lookup cache
type CacheStats struct {
	Hits   int64
	Misses int64
	Items  int
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdadmin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdadmin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gdadmin_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		// Auth metrics
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdadmin_login_attempts_total",
				Help: "Total number of login attempts by result",
			},
			[]string{"result"},
		),
		AuthzDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdadmin_authz_denied_total",
				Help: "Total number of requests refused for lacking the required role",
			},
			[]string{"route"},
		),

		// Session metrics
		SessionGCRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdadmin_session_gc_runs_total",
				Help: "Total number of session garbage collection runs",
			},
			[]string{"status"},
		),
		SessionsEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gdadmin_sessions_evicted_total",
				Help: "Total number of expired sessions removed",
			},
		),

		// Audit metrics
		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gdadmin_audit_entries_total",
				Help: "Total number of audit log entries written",
			},
			[]string{"level"},
		),
		AuditFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gdadmin_audit_failures_total",
				Help: "Total number of audit log writes that failed",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LoginAttemptsTotal,
		m.AuthzDeniedTotal,
		m.SessionGCRunsTotal,
		m.SessionsEvictedTotal,
		m.AuditEntriesTotal,
		m.AuditFailuresTotal,
	)

	return m
}

// TrackCache exposes hit, miss and size series for a named cache. stats is
// read on every scrape.
func (m *Metrics) TrackCache(name string, stats func() CacheStats) {
	labels := prometheus.Labels{"cache": name}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "gdadmin_cache_hits_total",
			Help:        "Total number of cache lookups served from memory",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "gdadmin_cache_misses_total",
			Help:        "Total number of cache lookups that went to the database",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "gdadmin_cache_items",
			Help:        "Number of entries currently cached",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Items) }),
	)
}

// RegisterRuntimeCollectors adds Go runtime and process metrics to registry
func RegisterRuntimeCollectors(registry *prometheus.Registry) {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordLogin counts a login attempt
func (m *Metrics) RecordLogin(result string) {
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordAuthzDenied counts a refused request
func (m *Metrics) RecordAuthzDenied(r *http.Request) {
	m.AuthzDeniedTotal.WithLabelValues(routeLabel(r)).Inc()
}

// RecordSessionGC counts a garbage collection run and its evictions
func (m *Metrics) RecordSessionGC(evicted int, err error) {
	if err != nil {
		m.SessionGCRunsTotal.WithLabelValues("error").Inc()
	} else {
		m.SessionGCRunsTotal.WithLabelValues("success").Inc()
	}
	m.SessionsEvictedTotal.Add(float64(evicted))
}

// RecordAudit counts an audit write attempt
func (m *Metrics) RecordAudit(level string, err error) {
	if err != nil {
		m.AuditFailuresTotal.Inc()
		return
	}
	m.AuditEntriesTotal.WithLabelValues(level).Inc()
}

// routeLabel returns the mux path template so ids do not explode cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
