package service

import (
	"context"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/batch"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/processor"
)

// StorageRecorder counts bytes written per tenant.
type StorageRecorder interface {
	RecordStorage(ctx context.Context, tenantID string, bytes int64) error
}

// CompletionHook announces written batches on metrics.processed and adds
// their size to each tenant's storage usage. Either dependency may be nil.
func CompletionHook(pub processor.Publisher, storage StorageRecorder, logger *logging.Logger) batch.CompletionFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(ctx context.Context, b *batch.Batch) {
		if storage != nil {
			for tenantID, size := range bytesByTenant(b.Points) {
				if err := storage.RecordStorage(ctx, tenantID, size); err != nil {
					logger.Warn("Failed to record storage usage",
						logging.TenantID(tenantID),
						logging.BatchID(b.ID),
						logging.Error(err))
				}
			}
		}

		if pub == nil {
			return
		}
		event := models.BatchCompletion{
			BatchID:         b.ID,
			Count:           b.Len(),
			Format:          b.Format,
			TimestampMillis: time.Now().UnixMilli(),
		}
		if err := pub.Publish(ctx, messaging.SubjectMetricsProcessed, event); err != nil {
			logger.Warn("Failed to publish batch completion",
				logging.BatchID(b.ID),
				logging.Topic(messaging.SubjectMetricsProcessed),
				logging.Error(err))
		}
	}
}

func bytesByTenant(points []models.NormalizedPoint) map[string]int64 {
	out := make(map[string]int64)
	for _, p := range points {
		tenantID := p.Tags[models.TagTenantID]
		if tenantID == "" {
			continue
		}
		out[tenantID] += int64(p.EstimatedSize())
	}
	return out
}
