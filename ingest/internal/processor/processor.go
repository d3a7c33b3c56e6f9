// Package processor moves admitted payloads into the batch accumulator,
// either inline on the request path or through the bus.
package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/batch"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/bus"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/normalizer"
)

// Result describes what happened to one payload.
type Result struct {
	Mode models.IngestMode
	// Points and Dropped are only known when the payload was normalized
	// inline. A queued payload reports zero for both.
	Points  int
	Dropped int
}

// Processor hands a payload to the write path.
type Processor interface {
	Process(ctx context.Context, raw *models.RawPoint) (Result, error)
}

// UsageRecorder counts ingested points per tenant.
type UsageRecorder interface {
	RecordIngest(ctx context.Context, tenantID string, points int64) error
}

// Publisher publishes a JSON-encoded value on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// Inline normalizes a payload and appends the points to the accumulator.
type Inline struct {
	registry *normalizer.Registry
	acc      *batch.Accumulator
	usage    UsageRecorder
	logger   *logging.Logger
}

// NewInline creates an inline processor. usage may be nil.
func NewInline(registry *normalizer.Registry, acc *batch.Accumulator, usage UsageRecorder, logger *logging.Logger) *Inline {
	if logger == nil {
		logger = logging.Default()
	}
	return &Inline{registry: registry, acc: acc, usage: usage, logger: logger}
}

func (p *Inline) Process(ctx context.Context, raw *models.RawPoint) (Result, error) {
	res, err := p.registry.Normalize(raw)
	if err != nil {
		return Result{}, err
	}

	format := string(raw.Format)
	metrics.PointsNormalized.WithLabelValues(format).Add(float64(len(res.Points)))
	if res.Dropped > 0 {
		metrics.PointsMalformed.WithLabelValues(format).Add(float64(res.Dropped))
	}

	if len(res.Points) > 0 {
		p.acc.Append(raw.Format, res.Points)
		p.recordUsage(ctx, raw, len(res.Points))
	}

	return Result{Mode: models.ModeSync, Points: len(res.Points), Dropped: res.Dropped}, nil
}

func (p *Inline) recordUsage(ctx context.Context, raw *models.RawPoint, n int) {
	if p.usage == nil || raw.TenantMeta == nil || raw.TenantMeta.TenantID == "" {
		return
	}
	if err := p.usage.RecordIngest(ctx, raw.TenantMeta.TenantID, int64(n)); err != nil {
		p.logger.WarnContext(ctx, "Failed to record ingest usage",
			logging.TenantID(raw.TenantMeta.TenantID),
			logging.PointCount(n),
			logging.Error(err))
	}
}

// Queued publishes payloads on metrics.raw. When the bus is unavailable it
// processes the payload inline instead of dropping it.
type Queued struct {
	publisher Publisher
	fallback  *Inline
	logger    *logging.Logger
}

// NewQueued creates a queued processor that falls back to inline.
func NewQueued(publisher Publisher, fallback *Inline, logger *logging.Logger) *Queued {
	if logger == nil {
		logger = logging.Default()
	}
	return &Queued{publisher: publisher, fallback: fallback, logger: logger}
}

func (p *Queued) Process(ctx context.Context, raw *models.RawPoint) (Result, error) {
	err := p.publisher.Publish(ctx, messaging.SubjectMetricsRaw, raw)
	if err == nil {
		return Result{Mode: models.ModeQueued}, nil
	}

	metrics.QueuedFallbacks.Inc()
	p.logger.WarnContext(ctx, "Bus publish failed; processing inline",
		logging.Format(string(raw.Format)),
		logging.Error(err))

	res, inlineErr := p.fallback.Process(ctx, raw)
	if inlineErr != nil {
		if errors.Is(inlineErr, normalizer.ErrUnsupportedFormat) {
			return Result{}, inlineErr
		}
		return Result{}, fmt.Errorf("%w: inline fallback failed: %w", bus.ErrBusUnavailable, inlineErr)
	}
	return res, nil
}

// Tiered routes metered tenants to the queued path and everyone else inline.
type Tiered struct {
	Inline Processor
	Queued Processor
}

// For returns the processor for a tenant.
func (t Tiered) For(metered bool) Processor {
	if metered && t.Queued != nil {
		return t.Queued
	}
	return t.Inline
}
