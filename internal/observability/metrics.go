package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the literature sync service.
// Metrics are organized by subsystem: sync runs, records, source requests,
// annotation and events. All collectors are registered via promauto with the
// default Prometheus registry.
//
// A nil *Metrics is valid; every Record method is then a no-op.
type Metrics struct {
	// SyncRunsStarted counts sync runs created, labeled by mode and trigger.
	SyncRunsStarted *prometheus.CounterVec

	// SyncRunsFinished counts finalized sync runs, labeled by mode and terminal status.
	SyncRunsFinished *prometheus.CounterVec

	// SyncRunsRejected counts triggers refused because a sync was already in progress.
	SyncRunsRejected prometheus.Counter

	// SyncRunDuration observes wall-clock run duration in seconds, labeled by mode.
	SyncRunDuration *prometheus.HistogramVec

	// SyncInProgress is 1 while this process holds the sync marker.
	SyncInProgress prometheus.Gauge

	// RecordsProcessed counts records by upsert outcome (inserted, updated, unchanged).
	RecordsProcessed *prometheus.CounterVec

	// RecordsFailed counts per-record failures, labeled by failure class.
	RecordsFailed *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP attempts to the literature source, labeled by source and status code.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRetries counts retried source requests, labeled by source.
	SourceRetries *prometheus.CounterVec

	// SourceRateLimited counts 429 responses, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// AnnotationRequests counts annotator calls, labeled by model and outcome.
	AnnotationRequests *prometheus.CounterVec

	// AnnotationDuration observes annotator latency in seconds, labeled by model.
	AnnotationDuration *prometheus.HistogramVec

	// AnnotationTokensUsed counts tokens consumed, labeled by model and token type.
	AnnotationTokensUsed *prometheus.CounterVec

	// AnnotationQueueDepth tracks pending async annotation jobs.
	AnnotationQueueDepth prometheus.Gauge

	// AnnotationDropped counts async jobs dropped because the queue was full.
	AnnotationDropped prometheus.Counter

	// EventsPublished counts sync events delivered, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsFailed counts sync events that could not be delivered, labeled by event type.
	EventsFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Sync runs
		SyncRunsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_started_total",
			Help:      "Total number of sync runs started",
		}, []string{"mode", "trigger"}),
		SyncRunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_finished_total",
			Help:      "Total number of sync runs finished by terminal status",
		}, []string{"mode", "status"}),
		SyncRunsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_rejected_total",
			Help:      "Total number of sync triggers rejected because a sync was in progress",
		}),
		SyncRunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}, []string{"mode"}),
		SyncInProgress: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_in_progress",
			Help:      "1 while a sync run is active in this process",
		}),

		// Records
		RecordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Total number of records processed by upsert outcome",
		}, []string{"outcome"}),
		RecordsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_failed_total",
			Help:      "Total number of records that failed by failure class",
		}, []string{"class"}),

		// Source
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of HTTP attempts to the literature source",
		}, []string{"source", "status"}),
		SourceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of retried literature source requests",
		}, []string{"source"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from the literature source",
		}, []string{"source"}),

		// Annotation
		AnnotationRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_requests_total",
			Help:      "Total number of annotation requests by outcome",
		}, []string{"model", "outcome"}),
		AnnotationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "annotation_duration_seconds",
			Help:      "Duration of annotation requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"model"}),
		AnnotationTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_tokens_used_total",
			Help:      "Total number of tokens used by annotation requests",
		}, []string{"model", "token_type"}),
		AnnotationQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "annotation_queue_depth",
			Help:      "Number of annotation jobs waiting in the async queue",
		}),
		AnnotationDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_dropped_total",
			Help:      "Total number of annotation jobs dropped because the queue was full",
		}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of sync events published",
		}, []string{"event_type"}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of sync events that failed to publish",
		}, []string{"event_type"}),
	}
}

// RecordSyncStarted records that a sync run has been created.
func (m *Metrics) RecordSyncStarted(mode, trigger string) {
	if m == nil {
		return
	}
	m.SyncRunsStarted.WithLabelValues(mode, trigger).Inc()
	m.SyncInProgress.Set(1)
}

// RecordSyncFinished records a finalized sync run.
func (m *Metrics) RecordSyncFinished(mode, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SyncRunsFinished.WithLabelValues(mode, status).Inc()
	m.SyncRunDuration.WithLabelValues(mode).Observe(durationSeconds)
	m.SyncInProgress.Set(0)
}

// RecordSyncRejected records a trigger refused by the sync marker.
func (m *Metrics) RecordSyncRejected() {
	if m == nil {
		return
	}
	m.SyncRunsRejected.Inc()
}

// RecordRecordOutcome records one upsert outcome.
func (m *Metrics) RecordRecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.RecordsProcessed.WithLabelValues(outcome).Inc()
}

// RecordRecordFailed records one per-record failure.
func (m *Metrics) RecordRecordFailed(class string) {
	if m == nil {
		return
	}
	m.RecordsFailed.WithLabelValues(class).Inc()
}

// RecordSourceAttempt records one HTTP attempt to a literature source. A
// status of 0 means the request failed before a response arrived.
func (m *Metrics) RecordSourceAttempt(source string, status int, retrying bool) {
	if m == nil {
		return
	}
	m.SourceRequestsTotal.WithLabelValues(source, statusLabel(status)).Inc()
	if status == 429 {
		m.SourceRateLimited.WithLabelValues(source).Inc()
	}
	if retrying {
		m.SourceRetries.WithLabelValues(source).Inc()
	}
}

// RecordAnnotation records an annotator call.
func (m *Metrics) RecordAnnotation(model, outcome string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.AnnotationRequests.WithLabelValues(model, outcome).Inc()
	m.AnnotationDuration.WithLabelValues(model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.AnnotationTokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.AnnotationTokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}

// SetAnnotationQueueDepth updates the async queue gauge.
func (m *Metrics) SetAnnotationQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.AnnotationQueueDepth.Set(float64(depth))
}

// RecordAnnotationDropped records an async job dropped on a full queue.
func (m *Metrics) RecordAnnotationDropped() {
	if m == nil {
		return
	}
	m.AnnotationDropped.Inc()
}

// RecordEventPublished records a delivered event.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventFailed records an event that could not be delivered.
func (m *Metrics) RecordEventFailed(eventType string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(eventType).Inc()
}

func statusLabel(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200 || status > 599:
		return "other"
	default:
		return strconv.Itoa(status)
	}
}
