package messaging

// Subjects on the metrics bus.
const (
	SubjectMetricsRaw       = "metrics.raw"       // RawPoint envelopes awaiting normalization
	SubjectMetricsProcessed = "metrics.processed" // Batch write completions
	SubjectQuotaWarning     = "quota.warning"     // Warning and critical quota alerts
	SubjectQuotaExceeded    = "quota.exceeded"    // Hard-cap quota breaches

	// SubjectMetricsDLQ prefixes dead-lettered messages (metrics.dlq.<reason>).
	SubjectMetricsDLQ = "metrics.dlq"
)

// QueueIngestWorkers load-balances metrics.raw across ingest instances.
const QueueIngestWorkers = "ingest-workers"

// DLQSubject returns the dead-letter subject for reason.
// Example: metrics.dlq.handler_failed
func DLQSubject(reason string) string {
	return SubjectMetricsDLQ + "." + reason
}

// QuotaAlertSubject maps an alert's severity to its subject.
func QuotaAlertSubject(exceeded bool) string {
	if exceeded {
		return SubjectQuotaExceeded
	}
	return SubjectQuotaWarning
}
