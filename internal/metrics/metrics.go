// Package metrics provides Prometheus metrics collection for the
// simulation engine's host processes.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors exposed by cmd/desserver.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Simulation metrics
	EventsDispatchedTotal  *prometheus.CounterVec
	ReplicationsTotal      *prometheus.CounterVec
	ReplicationDuration    *prometheus.HistogramVec
	ResourceUtilization    *prometheus.GaugeVec
	ResourceQueueLength    *prometheus.GaugeVec
	DiagnosticsTotal       *prometheus.CounterVec
	ConvergenceHalfWidth   *prometheus.GaugeVec
	ConvergenceCheckResults *prometheus.CounterVec

	// Store metrics
	StoreQueriesTotal  *prometheus.CounterVec
	StoreQueryDuration *prometheus.HistogramVec
	CacheHitsTotal     *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),
		EventsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desengine_events_dispatched_total",
				Help: "Total number of simulation events dispatched",
			},
			[]string{"model"},
		),
		ReplicationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desengine_replications_total",
				Help: "Total number of replications completed",
			},
			[]string{"model", "status"},
		),
		ReplicationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "desengine_replication_duration_seconds",
				Help:    "Wall-clock duration of a replication batch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		ResourceUtilization: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "desengine_resource_utilization",
				Help: "Fraction of simulated time a resource was busy, by last completed run",
			},
			[]string{"model", "resource"},
		),
		ResourceQueueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "desengine_resource_avg_queue_length",
				Help: "Time-averaged queue length at a resource, by last completed run",
			},
			[]string{"model", "resource"},
		),
		DiagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desengine_diagnostics_total",
				Help: "Total number of runtime diagnostics raised during replications",
			},
			[]string{"model", "code"},
		),
		ConvergenceHalfWidth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "desengine_convergence_half_width",
				Help: "Confidence interval half-width of the last convergence check, by metric",
			},
			[]string{"model", "metric"},
		),
		ConvergenceCheckResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desengine_convergence_checks_total",
				Help: "Total number of convergence checks, by outcome",
			},
			[]string{"model", "converged"},
		),
		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desengine_store_queries_total",
				Help: "Total number of Postgres store queries",
			},
			[]string{"operation", "status"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "desengine_store_query_duration_seconds",
				Help:    "Postgres store query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desengine_cache_hits_total",
				Help: "Total number of replication-batch cache lookups, by outcome",
			},
			[]string{"outcome"},
		),
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.EventsDispatchedTotal,
			m.ReplicationsTotal,
			m.ReplicationDuration,
			m.ResourceUtilization,
			m.ResourceQueueLength,
			m.DiagnosticsTotal,
			m.ConvergenceHalfWidth,
			m.ConvergenceCheckResults,
			m.StoreQueriesTotal,
			m.StoreQueryDuration,
			m.CacheHitsTotal,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", environment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordReplicationBatch records the completion of a replication batch
// of replicationCount independent runs.
func (m *Metrics) RecordReplicationBatch(model, status string, replicationCount int, duration time.Duration) {
	m.ReplicationsTotal.WithLabelValues(model, status).Add(float64(replicationCount))
	m.ReplicationDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordEventsDispatched accumulates the number of simulation events a
// single replication dispatched.
func (m *Metrics) RecordEventsDispatched(model string, count int) {
	m.EventsDispatchedTotal.WithLabelValues(model).Add(float64(count))
}

// SetResourceStats publishes the latest per-resource utilization and
// queue length observed by a completed run.
func (m *Metrics) SetResourceStats(model, resource string, utilization, avgQueueLength float64) {
	m.ResourceUtilization.WithLabelValues(model, resource).Set(utilization)
	m.ResourceQueueLength.WithLabelValues(model, resource).Set(avgQueueLength)
}

// RecordDiagnostic counts a runtime diagnostic raised during a replication.
func (m *Metrics) RecordDiagnostic(model, code string) {
	m.DiagnosticsTotal.WithLabelValues(model, code).Inc()
}

// RecordConvergenceCheck records the convergence outcome of one metric
// of a replication batch, on-demand or scheduled.
func (m *Metrics) RecordConvergenceCheck(model, metric string, converged bool, halfWidth float64) {
	m.ConvergenceHalfWidth.WithLabelValues(model, metric).Set(halfWidth)
	status := "false"
	if converged {
		status = "true"
	}
	m.ConvergenceCheckResults.WithLabelValues(model, status).Inc()
}

// RecordStoreQuery records a Postgres store query.
func (m *Metrics) RecordStoreQuery(operation, status string, duration time.Duration) {
	m.StoreQueriesTotal.WithLabelValues(operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheLookup records a replication-batch cache lookup outcome.
func (m *Metrics) RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheHitsTotal.WithLabelValues(outcome).Inc()
}

// UpdateUptime updates the service uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

func environment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("DESENGINE_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return environment() != "production"
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
