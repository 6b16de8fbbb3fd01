package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the web process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	moduleFailures  *prometheus.CounterVec
	snapshotCache   *prometheus.CounterVec
	snapshotBuild   prometheus.Histogram
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venuedesk_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venuedesk_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venuedesk_dashboard_module_failures_total",
		Help: "Dashboard module fetches that degraded to an empty result.",
	}, []string{"module"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "venuedesk_dashboard_cache_total",
		Help: "Dashboard snapshot cache lookups by result.",
	}, []string{"result"})
	build := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "venuedesk_dashboard_snapshot_build_seconds",
		Help:    "Time spent assembling an uncached dashboard snapshot.",
		Buckets: prometheus.DefBuckets,
	})
	registry.MustRegister(requests, duration, failures, cache, build)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		moduleFailures:  failures,
		snapshotCache:   cache,
		snapshotBuild:   build,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency.
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

// ModuleFailed counts a degraded dashboard module.
func (m *Metrics) ModuleFailed(module string) {
	if m == nil {
		return
	}
	m.moduleFailures.WithLabelValues(module).Inc()
}

// SnapshotCache counts a snapshot cache lookup; result is hit, miss or error.
func (m *Metrics) SnapshotCache(result string) {
	if m == nil {
		return
	}
	m.snapshotCache.WithLabelValues(result).Inc()
}

// SnapshotBuilt observes the time taken to build a snapshot.
func (m *Metrics) SnapshotBuilt(d time.Duration) {
	if m == nil {
		return
	}
	m.snapshotBuild.Observe(d.Seconds())
}

// Registerer exposes the registry for custom collectors.
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
