package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging/nats"
)

// ErrDisabled is returned by operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// JetStreamQueue writes failed messages to a JetStream stream so every
// ingest instance shares one dead-letter backlog.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *logging.Logger
	written atomic.Uint64
}

// NewJetStreamQueue creates the DLQ stream if needed.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.MetricsDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("DLQ stream ready", "stream", nats.MetricsDLQStream.Name)

	return &JetStreamQueue{
		js:     js,
		stream: stream,
		logger: logger,
	}, nil
}

// Write publishes msg on metrics.dlq.<reason> and waits for the stream ack.
func (q *JetStreamQueue) Write(ctx context.Context, msg FailedMessage) error {
	if q == nil {
		return ErrDisabled
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := q.js.PublishSync(ctx, messaging.DLQSubject(msg.Reason), data); err != nil {
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.Warn("Message dead-lettered",
		logging.Topic(msg.Topic),
		"reason", msg.Reason,
		logging.Attempt(msg.Attempts))
	return nil
}

// Stats reports the stream state.
func (q *JetStreamQueue) Stats(ctx context.Context) Stats {
	if q == nil {
		return Stats{Enabled: false, Backend: "jetstream"}
	}

	stats := Stats{
		Enabled:      true,
		Backend:      "jetstream",
		WrittenLocal: q.written.Load(),
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		stats.Error = err.Error()
		return stats
	}

	stats.TotalMessages = info.State.Msgs
	stats.TotalBytes = info.State.Bytes
	stats.FirstSeq = info.State.FirstSeq
	stats.LastSeq = info.State.LastSeq
	return stats
}

// List returns up to limit dead-lettered messages, oldest first.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedMessage, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectMetricsDLQ + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []FailedMessage
	for m := range msgs.Messages() {
		var failed FailedMessage
		if err := json.Unmarshal(m.Data(), &failed); err != nil {
			q.logger.Warn("Skipping unreadable DLQ entry", logging.Error(err))
			continue
		}
		out = append(out, failed)
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		q.logger.Warn("DLQ fetch completed with error", logging.Error(err))
	}
	return out, nil
}

// Purge removes every message from the DLQ stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.Info("DLQ purged")
	return nil
}

var _ Writer = (*JetStreamQueue)(nil)
