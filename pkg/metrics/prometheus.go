// Package metrics provides Prometheus metrics for the quiver ranking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Ranking engine
	recordsRanked    prometheus.Counter
	batchesRejected  *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	groupsRanked     *prometheus.CounterVec
	degenerateGroups *prometheus.CounterVec

	// Ingestion
	ingestRowsRead    *prometheus.CounterVec
	ingestRowsDropped *prometheus.CounterVec
	ingestDuplicates  prometheus.Counter

	// Runs and storage
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter
	runsStored    prometheus.Gauge
	storeLatency  *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec

	// Queue
	queueCapacity    prometheus.Gauge
	queueSize        prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	queueUtilization prometheus.Gauge

	// Workers
	workerCount      prometheus.Gauge
	workerJobLatency prometheus.Histogram
	workerJobErrors  prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "quiver",
		subsystem:        "ranking",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.recordsRanked = m.counter("records_ranked_total", "Total number of records that received separate, mixed and delta rankings")
	m.batchesRejected = m.counterVec("batches_rejected_total", "Record batches rejected before ranking, by reason", "reason")
	m.stageDuration = m.histogramVec("stage_duration_milliseconds", "Duration of each ranking stage in milliseconds", "stage")
	m.groupsRanked = m.counterVec("groups_ranked_total", "Number of ranking groups processed, by kind (separate, mixed)", "kind")
	m.degenerateGroups = m.counterVec("degenerate_groups_total", "Single-member groups whose percentile is not applicable, by kind", "kind")

	m.ingestRowsRead = m.counterVec("ingest_rows_read_total", "Rows read from result sources", "source")
	m.ingestRowsDropped = m.counterVec("ingest_rows_dropped_total", "Rows dropped at ingestion (zero or disqualified scores)", "source")
	m.ingestDuplicates = m.counter("ingest_duplicate_events_total", "Event sources skipped because they were already loaded")

	m.runsCompleted = m.counter("runs_completed_total", "Analysis runs completed")
	m.runsFailed = m.counter("runs_failed_total", "Analysis runs that failed")
	m.runsStored = m.gauge("runs_stored", "Number of runs held by the repository")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Repository operation latency in milliseconds", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Repository operation errors", "op")

	m.queueCapacity = m.gauge("queue_capacity", "Maximum job queue capacity")
	m.queueSize = m.gauge("queue_size", "Current number of queued ranking jobs")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Jobs dequeued")
	m.queueRejected = m.counterVec("queue_rejected_total", "Jobs rejected by the queue, by reason", "reason")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")

	m.workerCount = m.gauge("worker_count", "Number of ranking workers")
	m.workerJobLatency = m.histogram("worker_job_latency_milliseconds", "Time spent ranking one event job in milliseconds")
	m.workerJobErrors = m.counter("worker_job_errors_total", "Ranking jobs that returned an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// RecordRecordsRanked adds n fully ranked records.
func RecordRecordsRanked(n int) {
	globalManager.recordsRanked.Add(float64(n))
}

// RecordBatchRejected counts a rejected input batch.
func RecordBatchRejected(reason string) {
	globalManager.batchesRejected.WithLabelValues(reason).Inc()
}

// RecordStageDuration observes the duration of a ranking stage.
func RecordStageDuration(stage string, d time.Duration) {
	globalManager.stageDuration.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000)
}

// RecordGroups counts ranked groups and how many of them were degenerate.
func RecordGroups(kind string, total, degenerate int) {
	globalManager.groupsRanked.WithLabelValues(kind).Add(float64(total))
	globalManager.degenerateGroups.WithLabelValues(kind).Add(float64(degenerate))
}

// RecordIngest counts rows read and dropped from a source.
func RecordIngest(source string, read, dropped int) {
	globalManager.ingestRowsRead.WithLabelValues(source).Add(float64(read))
	globalManager.ingestRowsDropped.WithLabelValues(source).Add(float64(dropped))
}

// RecordIngestDuplicate counts a skipped duplicate event source.
func RecordIngestDuplicate() {
	globalManager.ingestDuplicates.Inc()
}

// RecordRunCompleted counts a finished analysis run.
func RecordRunCompleted() { globalManager.runsCompleted.Inc() }

// RecordRunFailed counts a failed analysis run.
func RecordRunFailed() { globalManager.runsFailed.Inc() }

// UpdateRunsStored sets the number of stored runs.
func UpdateRunsStored(n int) { globalManager.runsStored.Set(float64(n)) }

// RecordStoreLatency observes a repository operation.
func RecordStoreLatency(op string, d time.Duration) {
	globalManager.storeLatency.WithLabelValues(op).Observe(float64(d.Microseconds()) / 1000)
}

// RecordStoreError counts a failed repository operation.
func RecordStoreError(op string) {
	globalManager.storeErrors.WithLabelValues(op).Inc()
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueSize sets the queue size and utilization gauges.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueue counts an accepted job.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue counts a delivered job.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueRejected counts a job the queue refused.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the worker gauge.
func UpdateWorkerCount(n int) { globalManager.workerCount.Set(float64(n)) }

// RecordWorkerJob observes one processed job.
func RecordWorkerJob(d time.Duration, err error) {
	globalManager.workerJobLatency.Observe(float64(d.Microseconds()) / 1000)
	if err != nil {
		globalManager.workerJobErrors.Inc()
	}
}

// RecordHTTPRequest counts and times an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordError counts an error by component and type.
func RecordError(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
