// Package obs exposes Prometheus metrics for the API server.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry with the HTTP and security counters.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	resetRequests     *prometheus.CounterVec
	resetCompletions  *prometheus.CounterVec
	permissionDenials *prometheus.CounterVec
	loginThrottled    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		resetRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "password_reset_requests_total",
			Help: "Password reset requests by outcome.",
		}, []string{"outcome"}),
		resetCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "password_reset_completions_total",
			Help: "Password reset completions by outcome.",
		}, []string{"outcome"}),
		permissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "permission_denials_total",
			Help: "Requests rejected by the permission engine.",
		}, []string{"permission"}),
		loginThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "login_throttled_total",
			Help: "Login attempts rejected by the per-IP limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpInFlight,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.resetRequests,
		m.resetCompletions,
		m.permissionDenials,
		m.loginThrottled,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ResetRequested(outcome string) {
	m.resetRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResetCompleted(outcome string) {
	m.resetCompletions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PermissionDenied(permission string) {
	m.permissionDenials.WithLabelValues(permission).Inc()
}

func (m *Metrics) LoginThrottled() {
	m.loginThrottled.Inc()
}

// Instrument records request count, latency and in-flight requests. Routes
// are labelled with the chi route pattern to keep cardinality bounded.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
