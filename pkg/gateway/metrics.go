package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/taskgate/pkg/domain"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	backendErrors  *prometheus.CounterVec
	authRecoveries *prometheus.CounterVec
	sessionEvents  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgate_http_requests_total",
				Help: "Total number of HTTP requests by route template and status",
			},
			[]string{"method", "route", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskgate_http_requests_in_flight",
				Help: "Number of requests currently being served",
			},
		),

		backendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgate_errors_total",
				Help: "Normalized errors returned to clients by kind",
			},
			[]string{"resource", "kind"},
		),

		authRecoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgate_auth_recoveries_total",
				Help: "Requests that needed a token refresh, by result",
			},
			[]string{"resource", "result"},
		),

		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskgate_session_events_total",
				Help: "Login, register, and logout calls by result",
			},
			[]string{"event", "result"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpInFlight,
		m.backendErrors,
		m.authRecoveries,
		m.sessionEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError counts a normalized error returned for resource.
func (m *Metrics) RecordError(resource string, kind domain.ErrorKind) {
	if m == nil {
		return
	}
	m.backendErrors.WithLabelValues(resource, string(kind)).Inc()
}

// RecordAuthRecovery counts a dispatch that went through a token refresh.
func (m *Metrics) RecordAuthRecovery(resource string, ok bool) {
	if m == nil {
		return
	}
	m.authRecoveries.WithLabelValues(resource, result(ok)).Inc()
}

// RecordSessionEvent counts a login, register, or logout.
func (m *Metrics) RecordSessionEvent(event string, ok bool) {
	if m == nil {
		return
	}
	m.sessionEvents.WithLabelValues(event, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware records request counts and latency labelled by the matched route
// template, so ids in the path do not explode label cardinality.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, routeName(r), strconv.Itoa(wrapped.status), time.Since(start))
	})
}

func routeName(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "unmatched"
	}
	if tmpl, err := route.GetPathTemplate(); err == nil {
		return tmpl
	}
	return "unknown"
}
