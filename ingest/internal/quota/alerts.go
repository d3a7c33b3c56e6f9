package quota

import (
	"context"

	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// AlertSink delivers quota alerts.
type AlertSink interface {
	PublishAlert(ctx context.Context, alert models.QuotaAlert) error
}

// Publisher publishes a JSON-encoded value on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// BusSink publishes exceeded alerts on quota.exceeded and everything else
// on quota.warning.
type BusSink struct {
	Publisher Publisher
}

func (s BusSink) PublishAlert(ctx context.Context, alert models.QuotaAlert) error {
	return s.Publisher.Publish(ctx, messaging.QuotaAlertSubject(alert.Exceeded), alert)
}
