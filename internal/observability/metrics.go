// Package observability exposes Prometheus metrics for the HTTP surface and
// the upstream ERP client.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	upstreamRequests    *prometheus.CounterVec
	upstreamRetries     prometheus.Counter
	upstreamCircuitOpen prometheus.Counter
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_upstream_requests_total",
		Help: "Requests sent to the upstream ERP by method, status and outcome.",
	}, []string{"method", "status", "outcome"})
	upstreamRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_upstream_retries_total",
		Help: "Retries performed against the upstream ERP.",
	})
	upstreamCircuitOpen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_upstream_circuit_open_total",
		Help: "Times the upstream failure breaker tripped open.",
	})
	registry.MustRegister(requests, duration, upstreamRequests, upstreamRetries, upstreamCircuitOpen)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		upstreamRequests:    upstreamRequests,
		upstreamRetries:     upstreamRetries,
		upstreamCircuitOpen: upstreamCircuitOpen,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveUpstreamRequest records one completed upstream exchange.
func (m *Metrics) ObserveUpstreamRequest(method string, status int, outcome string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(method, strconv.Itoa(status), outcome).Inc()
}

// ObserveUpstreamRetry records one retry against the upstream.
func (m *Metrics) ObserveUpstreamRetry() {
	if m == nil {
		return
	}
	m.upstreamRetries.Inc()
}

// ObserveUpstreamCircuitOpen records one breaker trip.
func (m *Metrics) ObserveUpstreamCircuitOpen() {
	if m == nil {
		return
	}
	m.upstreamCircuitOpen.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
