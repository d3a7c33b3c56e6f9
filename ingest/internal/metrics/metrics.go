package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_ingest_requests_total",
			Help: "Ingestion requests by outcome",
		},
		[]string{"format", "mode", "status"},
	)

	PointsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_points_accepted_total",
			Help: "Points accepted at admission",
		},
		[]string{"format"},
	)

	PointsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_points_rejected_total",
			Help: "Points rejected at admission",
		},
		[]string{"reason"},
	)

	// Normalization
	PointsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_points_normalized_total",
			Help: "Points produced by the normalizer",
		},
		[]string{"format"},
	)

	PointsMalformed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_points_malformed_total",
			Help: "Lines or elements dropped as malformed",
		},
		[]string{"format"},
	)

	// Batching
	PendingPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telhawk_metrics_batch_pending_points",
			Help: "Points held by the accumulator",
		},
	)

	BatchesFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_batches_flushed_total",
			Help: "Batches written to storage",
		},
		[]string{"format"},
	)

	BatchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_batch_retries_total",
			Help: "Failed batch writes scheduled for retry",
		},
		[]string{"format"},
	)

	BatchesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_batches_discarded_total",
			Help: "Batches discarded after exhausting retries",
		},
		[]string{"format"},
	)

	PointsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_points_discarded_total",
			Help: "Points lost with discarded batches",
		},
		[]string{"format"},
	)

	// Storage
	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_metrics_storage_write_duration_seconds",
			Help:    "Duration of batch writes including internal retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_storage_write_errors_total",
			Help: "Storage write attempt failures",
		},
		[]string{"kind"},
	)

	PointsStoreRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_storage_rejected_points_total",
			Help: "Points the store refused to index and which are lost",
		},
		[]string{"error_type"},
	)

	// Bus
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_bus_published_total",
			Help: "Messages published by topic and outcome",
		},
		[]string{"topic", "status"},
	)

	BusHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_bus_handler_failures_total",
			Help: "Handler attempts that failed or panicked",
		},
		[]string{"topic"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_bus_dead_lettered_total",
			Help: "Messages dead-lettered after exhausting handler retries",
		},
		[]string{"topic"},
	)

	QueuedFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_queued_fallbacks_total",
			Help: "Queued ingestions processed inline because the bus was unavailable",
		},
	)

	// Quota
	QuotaEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_quota_evaluations_total",
			Help: "Per-tenant quota evaluations by outcome",
		},
		[]string{"status"},
	)

	QuotaAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_quota_alerts_total",
			Help: "Quota alerts emitted",
		},
		[]string{"quota_type", "state"},
	)

	QuotaCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_metrics_quota_cycle_duration_seconds",
			Help:    "Duration of a full quota evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rate limiting
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_metrics_rate_limit_hits_total",
			Help: "Requests refused by the per-key rate limiter",
		},
	)
)
