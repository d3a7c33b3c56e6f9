package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/bus"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/normalizer"
)

// Consumer drains metrics.raw into the inline processor.
type Consumer struct {
	decoupler *bus.Decoupler
	inline    *Inline
	policy    bus.Policy
	logger    *logging.Logger

	mu       sync.Mutex
	sub      messaging.Subscription
	inflight sync.WaitGroup
}

// NewConsumer creates a consumer. It does nothing until Start.
func NewConsumer(decoupler *bus.Decoupler, inline *Inline, policy bus.Policy, logger *logging.Logger) *Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{decoupler: decoupler, inline: inline, policy: policy, logger: logger}
}

// Start joins the ingest worker queue group on metrics.raw.
func (c *Consumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return nil
	}

	sub, err := c.decoupler.Subscribe(messaging.SubjectMetricsRaw, messaging.QueueIngestWorkers, c.policy, c.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", messaging.SubjectMetricsRaw, err)
	}
	c.sub = sub
	c.logger.Info("Consumer started",
		logging.Topic(messaging.SubjectMetricsRaw),
		"queue", messaging.QueueIngestWorkers)
	return nil
}

// Stop leaves the queue group after every payload already delivered to
// this consumer has reached the accumulator. It gives up when ctx expires.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}

	if err := sub.Drain(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("drain %s: %w", messaging.SubjectMetricsRaw, err)
	}

	idle := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight payloads: %w", ctx.Err())
	}
	c.logger.Info("Consumer stopped", logging.Topic(messaging.SubjectMetricsRaw))
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *messaging.Message) error {
	c.inflight.Add(1)
	defer c.inflight.Done()

	var raw models.RawPoint
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		return bus.Permanent(fmt.Errorf("decode raw point: %w", err))
	}

	res, err := c.inline.Process(ctx, &raw)
	if errors.Is(err, normalizer.ErrUnsupportedFormat) {
		return bus.Permanent(err)
	}
	if err != nil {
		return err
	}

	tenantID := ""
	if raw.TenantMeta != nil {
		tenantID = raw.TenantMeta.TenantID
	}
	c.logger.Debug("Processed queued payload",
		logging.TenantID(tenantID),
		logging.Format(string(raw.Format)),
		logging.PointCount(res.Points))
	return nil
}
