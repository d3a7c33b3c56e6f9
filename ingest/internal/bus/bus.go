// Package bus decouples ingestion from processing over a publish/subscribe
// broker. Publishing encodes JSON and waits for the broker; subscribing
// wraps handlers with panic recovery, bounded retry and dead-lettering.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/dlq"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
)

// ErrBusUnavailable is returned when a publish does not reach the broker.
var ErrBusUnavailable = errors.New("bus unavailable")

// Dead-letter reasons.
const (
	ReasonHandlerFailed = "handler_failed"
	ReasonRejected      = "rejected"
)

// Handler processes one message.
type Handler func(ctx context.Context, msg *messaging.Message) error

// Policy controls delivery failure handling for a subscription.
type Policy struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// DeadLetter shelves exhausted messages on the DLQ. Without it they
	// are logged and dropped.
	DeadLetter bool
	// HandlerTimeout bounds each attempt. Zero means no timeout.
	HandlerTimeout time.Duration
}

// CriticalPolicy retries three times and dead-letters.
func CriticalPolicy() Policy {
	return Policy{MaxAttempts: 3, RetryDelay: 500 * time.Millisecond, DeadLetter: true, HandlerTimeout: 30 * time.Second}
}

// BestEffortPolicy tries once and drops on failure.
func BestEffortPolicy() Policy {
	return Policy{MaxAttempts: 1, HandlerTimeout: 10 * time.Second}
}

// Permanent marks a handler error that retrying cannot fix.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Config configures the decoupler.
type Config struct {
	PublishTimeout time.Duration
	DLQTimeout     time.Duration
}

// DefaultConfig returns the default decoupler configuration.
func DefaultConfig() Config {
	return Config{PublishTimeout: 5 * time.Second, DLQTimeout: 5 * time.Second}
}

// Decoupler publishes and consumes JSON messages.
type Decoupler struct {
	client messaging.Client
	dlq    dlq.Writer
	logger *logging.Logger
	cfg    Config
}

// New creates a Decoupler. deadLetters may be nil, in which case exhausted
// messages are logged and dropped regardless of policy.
func New(client messaging.Client, deadLetters dlq.Writer, logger *logging.Logger, cfg Config) *Decoupler {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	if cfg.DLQTimeout <= 0 {
		cfg.DLQTimeout = DefaultConfig().DLQTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Decoupler{
		client: client,
		dlq:    deadLetters,
		logger: logger.With(logging.Service("bus")),
		cfg:    cfg,
	}
}

// Publish encodes v as JSON and publishes it on topic. Broker failures are
// wrapped with ErrBusUnavailable.
func (d *Decoupler) Publish(ctx context.Context, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()

	if err := d.client.Publish(ctx, topic, data); err != nil {
		metrics.BusPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("%w: publish %s: %w", ErrBusUnavailable, topic, err)
	}
	metrics.BusPublished.WithLabelValues(topic, "success").Inc()
	return nil
}

// Subscribe registers handler on topic. A non-empty queue load-balances
// messages across subscribers in the same group.
func (d *Decoupler) Subscribe(topic, queue string, policy Policy, handler Handler) (messaging.Subscription, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	wrapped := func(ctx context.Context, msg *messaging.Message) error {
		d.deliver(ctx, topic, policy, handler, msg)
		return nil
	}
	if queue == "" {
		return d.client.Subscribe(topic, wrapped)
	}
	return d.client.QueueSubscribe(topic, queue, wrapped)
}

// IsConnected reports whether the broker connection is up.
func (d *Decoupler) IsConnected() bool {
	return d.client.IsConnected()
}

func (d *Decoupler) deliver(ctx context.Context, topic string, policy Policy, handler Handler, msg *messaging.Message) {
	var (
		attempts  int
		permanent bool
	)
	op := func() error {
		attempts++
		err := d.invoke(ctx, policy, handler, msg)
		var perr *backoff.PermanentError
		permanent = errors.As(err, &perr)
		return err
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(policy.RetryDelay)
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		d.logger.Debug("Retrying message handler",
			logging.Topic(topic),
			logging.Attempt(attempts),
			logging.Error(err))
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return
	}

	metrics.BusHandlerFailures.WithLabelValues(topic).Inc()

	reason := ReasonHandlerFailed
	if permanent {
		reason = ReasonRejected
	}

	if !policy.DeadLetter || d.dlq == nil {
		d.logger.Error("Dropping message after handler failure",
			logging.Topic(topic),
			logging.Attempt(attempts),
			"reason", reason,
			logging.Error(err))
		return
	}

	dlqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.DLQTimeout)
	defer cancel()

	failed := dlq.NewFailedMessage(topic, msg.Data, err, reason, attempts)
	if dlqErr := d.dlq.Write(dlqCtx, failed); dlqErr != nil {
		d.logger.Error("Failed to dead-letter message; dropping",
			logging.Topic(topic),
			logging.Attempt(attempts),
			logging.Error(err),
			"dlq_error", dlqErr.Error())
		return
	}
	metrics.DeadLettered.WithLabelValues(topic).Inc()
	d.logger.Warn("Message dead-lettered",
		logging.Topic(topic),
		logging.Attempt(attempts),
		"reason", reason,
		logging.Error(err))
}

// invoke runs one attempt, turning a panic into an error.
func (d *Decoupler) invoke(ctx context.Context, policy Policy, handler Handler, msg *messaging.Message) (err error) {
	if policy.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}
