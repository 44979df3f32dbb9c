// Package metrics provides Prometheus metrics for the chartsnap service.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the chartsnap service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Snapshot computation
	snapshotRuns     *prometheus.CounterVec
	snapshotDuration *prometheus.HistogramVec
	snapshotEntries  *prometheus.GaugeVec
	snapshotLastUnix *prometheus.GaugeVec

	// Scheduler
	schedulerTicks *prometheus.CounterVec
	schedulerGates *prometheus.CounterVec

	// Storage
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	triggerThrottled    prometheus.Counter

	// Play ingestion
	plays        *prometheus.CounterVec
	trackedItems prometheus.Gauge

	// Catalog
	catalogItems   prometheus.Gauge
	catalogReloads *prometheus.CounterVec

	// Queue Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// global holds the active manager and the registry it is registered on.
var global atomic.Pointer[registryState] //nolint:gochecknoglobals // intentional global for singleton metrics manager

type registryState struct {
	manager  *Manager
	registry *prometheus.Registry
}

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	Configure()
}

// Configure replaces the global manager with one built from opts on a fresh
// custom registry, which avoids the default Go collectors. Call it at start-up,
// before handlers capture GetRegistry.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	m := NewManager(append(opts, WithPrometheusRegistry(registry))...)
	global.Store(&registryState{manager: m, registry: registry})
}

func current() *Manager { return global.Load().manager }

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "chartsnap",
		subsystem:        "charts",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.snapshotRuns = m.counterVec("snapshot_runs_total",
		"Snapshot computations by cadence, trigger and result", "cadence", "trigger", "result")
	m.snapshotDuration = m.histogramVec("snapshot_duration_milliseconds",
		"Snapshot computation time including persistence", "cadence")
	m.snapshotEntries = m.gaugeVec("snapshot_entries",
		"Number of entries in the most recent snapshot", "cadence")
	m.snapshotLastUnix = m.gaugeVec("snapshot_last_unix",
		"Unix timestamp of the most recent persisted snapshot", "cadence")

	m.schedulerTicks = m.counterVec("scheduler_ticks_total",
		"Scheduler ticks by outcome", "outcome")
	m.schedulerGates = m.counterVec("scheduler_gate_decisions_total",
		"Cadence gate decisions per tick", "cadence", "decision")

	m.storeLatency = m.histogramVec("store_latency_milliseconds",
		"Snapshot store operation latency", "operation")
	m.storeErrors = m.counterVec("store_errors_total",
		"Snapshot store operation failures", "operation")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.triggerThrottled = m.counter("trigger_throttled_total",
		"Manual snapshot triggers rejected by the rate limiter")

	m.plays = m.counterVec("plays_total",
		"Play events by outcome", "outcome")
	m.trackedItems = m.gauge("tracked_items",
		"Number of items with a play counter")

	m.catalogItems = m.gauge("catalog_items",
		"Number of items in the loaded catalog")
	m.catalogReloads = m.counterVec("catalog_reloads_total",
		"Catalog reload attempts by result", "result")

	m.queueSize = m.gauge("queue_size", "Current size of the play queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum play queue capacity")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Total number of play events enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Total number of play events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running play workers")
	m.workerProcessingLatency = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Time to apply one play event",
		Buckets:   m.histogramBuckets,
	})
	m.workerErrors = m.counter("worker_errors_total", "Total number of worker errors")

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		ConstLabels: m.constLabels,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Snapshot Metrics Functions.

// RecordSnapshotRun counts one computation attempt.
func RecordSnapshotRun(cadence, trigger, result string) {
	current().snapshotRuns.WithLabelValues(cadence, trigger, result).Inc()
}

// RecordSnapshotDuration records how long a computation took in milliseconds.
func RecordSnapshotDuration(cadence string, latencyMs float64) {
	current().snapshotDuration.WithLabelValues(cadence).Observe(latencyMs)
}

// UpdateSnapshotPublished records the size and time of the latest batch for a cadence.
func UpdateSnapshotPublished(cadence string, entries int, unix int64) {
	current().snapshotEntries.WithLabelValues(cadence).Set(float64(entries))
	current().snapshotLastUnix.WithLabelValues(cadence).Set(float64(unix))
}

// Scheduler Metrics Functions.

// RecordSchedulerTick counts a scheduler tick with its outcome (ok, partial).
func RecordSchedulerTick(outcome string) {
	current().schedulerTicks.WithLabelValues(outcome).Inc()
}

// RecordGateDecision counts a cadence gate evaluation.
func RecordGateDecision(cadence, decision string) {
	current().schedulerGates.WithLabelValues(cadence, decision).Inc()
}

// Store Metrics Functions.

// RecordStoreLatency records a store operation latency in milliseconds.
func RecordStoreLatency(operation string, latencyMs float64) {
	current().storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(operation string) {
	current().storeErrors.WithLabelValues(operation).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	current().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	current().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordTriggerThrottled counts a manual trigger rejected by the limiter.
func RecordTriggerThrottled() {
	current().triggerThrottled.Inc()
}

// Play Metrics Functions.

// RecordPlay counts a play event by outcome (accepted, duplicate, rejected, applied).
func RecordPlay(outcome string) {
	current().plays.WithLabelValues(outcome).Inc()
}

// UpdateTrackedItems sets the number of items with a counter.
func UpdateTrackedItems(count int) {
	current().trackedItems.Set(float64(count))
}

// Catalog Metrics Functions.

// UpdateCatalogItems sets the catalog size.
func UpdateCatalogItems(count int) {
	current().catalogItems.Set(float64(count))
}

// RecordCatalogReload counts a catalog reload by result (ok, error).
func RecordCatalogReload(result string) {
	current().catalogReloads.WithLabelValues(result).Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	current().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	current().queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	current().queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	current().queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	current().queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	current().workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	current().workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	current().workerErrors.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	current().errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	current().systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	current().systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	current().systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return global.Load().registry
}
