package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the live-stream sync service.
// A nil *Metrics is valid: every method is a no-op, so components can take one
// optionally.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	routeRequests      *prometheus.CounterVec
	syncPassesTotal    prometheus.Counter
	syncErrorsTotal    prometheus.Counter
	syncDuration       prometheus.Histogram
	streamTransitions  *prometheus.CounterVec
	externalErrors     *prometheus.CounterVec
	orphanedResources  prometheus.Counter
	liveStreams        prometheus.Gauge
	scheduledStreams   prometheus.Gauge
	backgroundTasksRun prometheus.Counter
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		routeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_route_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "code"}),
		syncPassesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_sync_passes_total",
			Help: "Total number of reconciliation passes started",
		}),
		syncErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_sync_errors_total",
			Help: "Total number of per-broadcast or per-pass errors seen while reconciling",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livesync_sync_duration_seconds",
			Help:    "Wall time of reconciliation passes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		streamTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_stream_transitions_total",
			Help: "Registry status changes by resulting status and cause",
		}, []string{"status", "cause"}),
		externalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livesync_external_api_errors_total",
			Help: "Errors returned by the live-video API by operation",
		}, []string{"operation"}),
		orphanedResources: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_orphaned_resources_total",
			Help: "External resources left behind by partially failed broadcast creation",
		}),
		liveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livesync_live_streams",
			Help: "Number of registry records currently live",
		}),
		scheduledStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livesync_scheduled_streams",
			Help: "Number of registry records currently scheduled",
		}),
		backgroundTasksRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livesync_background_tasks_total",
			Help: "Total number of background tasks started",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.routeRequests,
		m.syncPassesTotal,
		m.syncErrorsTotal,
		m.syncDuration,
		m.streamTransitions,
		m.externalErrors,
		m.orphanedResources,
		m.liveStreams,
		m.scheduledStreams,
		m.backgroundTasksRun,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveRoute counts one request against its route pattern.
func (m *Metrics) ObserveRoute(route, method string, status int) {
	if m == nil {
		return
	}
	m.routeRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// ObserveSyncPass records one finished reconciliation pass.
func (m *Metrics) ObserveSyncPass(seconds float64, errs int) {
	if m == nil {
		return
	}
	m.syncPassesTotal.Inc()
	m.syncDuration.Observe(seconds)
	if errs > 0 {
		m.syncErrorsTotal.Add(float64(errs))
	}
}

// IncTransition counts a registry status change.
// cause is "sync", "command" or "override".
func (m *Metrics) IncTransition(status, cause string) {
	if m == nil {
		return
	}
	m.streamTransitions.WithLabelValues(status, cause).Inc()
}

// IncExternalError counts a failed call to the live-video API.
func (m *Metrics) IncExternalError(operation string) {
	if m == nil {
		return
	}
	m.externalErrors.WithLabelValues(operation).Inc()
}

// AddOrphanedResources counts external resources that could not be cleaned up.
func (m *Metrics) AddOrphanedResources(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphanedResources.Add(float64(n))
}

// IncBackgroundTasks counts a started background task.
func (m *Metrics) IncBackgroundTasks() {
	if m == nil {
		return
	}
	m.backgroundTasksRun.Inc()
}

// SetStreamCounts sets the live and scheduled gauges.
func (m *Metrics) SetStreamCounts(live, scheduled int) {
	if m == nil {
		return
	}
	m.liveStreams.Set(float64(live))
	m.scheduledStreams.Set(float64(scheduled))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. live streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
