package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "receipts"
	subsystem = "ingest"
)

var (
	once sync.Once

	// PhotosAccepted counts photo arrivals by result (accepted, rejected, closed).
	PhotosAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "photos_total",
		Help:      "Photo arrivals seen by the inbound transports, labeled by result.",
	}, []string{"result"})

	// PendingSubmissions is the number of submissions waiting for quiescence.
	PendingSubmissions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "album_pending_submissions",
		Help:      "Submissions currently buffered in the album buffer.",
	})

	SubmissionsFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "album_flushed_total",
		Help:      "Submissions released by the album buffer, labeled by reason.",
	}, []string{"reason"})

	SubmissionsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "album_abandoned_total",
		Help:      "Submissions dropped before dispatch (shutdown or closed queue).",
	})

	// SubmissionsProcessed counts finished submissions by terminal status.
	SubmissionsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "submissions_processed_total",
		Help:      "Submissions that left the pipeline, labeled by status.",
	}, []string{"status"})

	ExtractionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "extraction_duration_seconds",
		Help:      "Latency of the vision extraction call.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"result"})

	ExtractionTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "extraction_tokens_total",
		Help:      "Tokens reported by the extraction service, labeled by kind.",
	}, []string{"kind"})

	RowWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "row_warnings_total",
		Help:      "Per-row parse and validation warnings, labeled by kind.",
	}, []string{"kind"})

	ReconciliationMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reconciliation_mismatch_total",
		Help:      "Submissions whose computed sum differs from the extracted total.",
	})

	SinkWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sink_writes_total",
		Help:      "Sink append attempts, labeled by sink and result.",
	}, []string{"sink", "result"})

	SinkDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "sink_duration_seconds",
		Help:      "Time spent in ensureUser plus appendLineItems per sink.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"sink"})

	// WorkerInFlight is the number of submissions being processed right now.
	WorkerInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "worker_in_flight",
		Help:      "Submissions currently held by a worker.",
	})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			PhotosAccepted,
			PendingSubmissions,
			SubmissionsFlushed,
			SubmissionsAbandoned,
			SubmissionsProcessed,
			ExtractionDurationSeconds,
			ExtractionTokens,
			RowWarnings,
			ReconciliationMismatches,
			SinkWrites,
			SinkDurationSeconds,
			WorkerInFlight,
		)
	})
}
