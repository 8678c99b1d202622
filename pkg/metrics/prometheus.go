// Package metrics provides Prometheus metrics for the score ingestion service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Import pipeline
	importsTotal     *prometheus.CounterVec
	importDuration   *prometheus.HistogramVec
	scoresPersisted  prometheus.Counter
	scoresDuplicate  prometheus.Counter
	recordFailures   *prometheus.CounterVec
	orphansCreated   prometheus.Counter
	orphansResolved  prometheus.Counter
	orphansDiscarded prometheus.Counter
	pbLatency        prometheus.Histogram
	pbWrites         prometheus.Counter
	streamStalls     prometheus.Counter
	sourceRequests   *prometheus.CounterVec
	sourceLatency    *prometheus.HistogramVec

	// Queue
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueEnqueue  prometheus.Counter
	queueDequeue  prometheus.Counter
	queueRejected *prometheus.CounterVec
	queueRetries  prometheus.Counter

	// Worker
	workerCount      prometheus.Gauge
	workerActiveJobs prometheus.Gauge
	workerJobLatency prometheus.Histogram
	workerPanics     prometheus.Counter
	workerFailures   prometheus.Counter

	// Store
	storeDocuments *prometheus.GaugeVec
	storeLatency   *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "scoreingest",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.importsTotal = m.counterVec("imports_total", "Imports finished, by import type and outcome", "import_type", "outcome")
	m.importDuration = m.histogramVec("import_duration_milliseconds", "Wall time of a whole import", "import_type")
	m.scoresPersisted = m.counter("scores_persisted_total", "Scores newly written to the store")
	m.scoresDuplicate = m.counter("scores_duplicate_total", "Scores whose ScoreID already existed (idempotent re-import)")
	m.recordFailures = m.counterVec("record_failures_total", "Per-record converter failures by kind", "kind")
	m.orphansCreated = m.counter("orphans_created_total", "Orphan scores written for unknown songs/charts")
	m.orphansResolved = m.counter("orphans_resolved_total", "Orphan scores resolved into real scores")
	m.orphansDiscarded = m.counter("orphans_discarded_total", "Orphan scores permanently discarded")
	m.pbLatency = m.histogram("pb_recompute_latency_milliseconds", "Latency of one ProcessPBs call", m.histogramBuckets)
	m.pbWrites = m.counter("pb_writes_total", "PB documents written")
	m.streamStalls = m.counter("stream_stalls_total", "Streams failed because no event arrived in time")
	m.sourceRequests = m.counterVec("source_requests_total", "Requests to external score sources by outcome", "source", "outcome")
	m.sourceLatency = m.histogramVec("source_request_latency_milliseconds", "Latency of requests to external score sources", "source")

	m.queueSize = m.gauge("queue_size", "Jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queued jobs")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Jobs handed to workers")
	m.queueRejected = m.counterVec("queue_rejected_total", "Enqueue attempts that did not add a job", "reason")
	m.queueRetries = m.counter("queue_retries_total", "Jobs re-queued after a failed attempt")

	m.workerCount = m.gauge("worker_count", "Configured worker concurrency")
	m.workerActiveJobs = m.gauge("worker_active_jobs", "Jobs currently being executed")
	m.workerJobLatency = m.histogram("worker_job_latency_milliseconds", "Latency of a single job attempt", m.histogramBuckets)
	m.workerPanics = m.counter("worker_panics_total", "Jobs that panicked and were recovered")
	m.workerFailures = m.counter("worker_failures_total", "Job attempts that returned an error")

	m.storeDocuments = m.gaugeVec("store_documents", "Documents held by the store, by collection", "collection")
	m.storeLatency = m.histogramVec("store_operation_latency_milliseconds", "Store operation latency", "operation")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Import pipeline.

// RecordImport counts a finished import with its outcome ("done" or "fatal").
func RecordImport(importType, outcome string, durationMs float64) {
	globalManager.importsTotal.WithLabelValues(importType, outcome).Inc()
	globalManager.importDuration.WithLabelValues(importType).Observe(durationMs)
}

// RecordScorePersisted increments the persisted scores counter.
func RecordScorePersisted() { globalManager.scoresPersisted.Inc() }

// RecordScoreDuplicate increments the duplicate scores counter.
func RecordScoreDuplicate() { globalManager.scoresDuplicate.Inc() }

// RecordRecordFailure counts a converter failure of the given kind.
func RecordRecordFailure(kind string) { globalManager.recordFailures.WithLabelValues(kind).Inc() }

// RecordOrphanCreated increments the orphan creation counter.
func RecordOrphanCreated() { globalManager.orphansCreated.Inc() }

// RecordOrphanResolved increments the orphan resolution counter.
func RecordOrphanResolved() { globalManager.orphansResolved.Inc() }

// RecordOrphanDiscarded increments the orphan discard counter.
func RecordOrphanDiscarded() { globalManager.orphansDiscarded.Inc() }

// RecordPBLatency records one ProcessPBs call.
func RecordPBLatency(latencyMs float64) { globalManager.pbLatency.Observe(latencyMs) }

// RecordPBWrite increments the PB writes counter.
func RecordPBWrite() { globalManager.pbWrites.Inc() }

// RecordStreamStall increments the stalled stream counter.
func RecordStreamStall() { globalManager.streamStalls.Inc() }

// RecordSourceRequest counts one request to an external score source.
func RecordSourceRequest(source, outcome string, latencyMs float64) {
	globalManager.sourceRequests.WithLabelValues(source, outcome).Inc()
	globalManager.sourceLatency.WithLabelValues(source).Observe(latencyMs)
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueRejected counts an enqueue that did not add a job.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// RecordQueueRetry increments the retry counter.
func RecordQueueRetry() { globalManager.queueRetries.Inc() }

// Worker.

// UpdateWorkerCount sets the configured worker concurrency.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// AddWorkerActiveJobs moves the active jobs gauge by delta.
func AddWorkerActiveJobs(delta int) { globalManager.workerActiveJobs.Add(float64(delta)) }

// RecordWorkerJobLatency records a job attempt's latency.
func RecordWorkerJobLatency(latencyMs float64) { globalManager.workerJobLatency.Observe(latencyMs) }

// RecordWorkerPanic increments the recovered panics counter.
func RecordWorkerPanic() { globalManager.workerPanics.Inc() }

// RecordWorkerFailure increments the failed attempts counter.
func RecordWorkerFailure() { globalManager.workerFailures.Inc() }

// Store.

// UpdateStoreDocuments sets the document count of a collection.
func UpdateStoreDocuments(collection string, n int) {
	globalManager.storeDocuments.WithLabelValues(collection).Set(float64(n))
}

// RecordStoreLatency observes one store operation.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
