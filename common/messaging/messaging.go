// Package messaging defines the broker-agnostic publish/subscribe contract
// used between the ingestion front door, the batch pipeline and the quota
// notifiers.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by Publish when the broker connection is down.
var ErrNotConnected = errors.New("messaging: not connected")

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Reply is an optional subject for request/reply patterns.
	Reply string

	// Metadata carries message headers.
	Metadata map[string]string

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// MessageHandler processes a received message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription to a subject.
type Subscription interface {
	Unsubscribe() error

	// Drain stops new deliveries and returns once messages already
	// received have been handled, or ctx expires.
	Drain(ctx context.Context) error

	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject. It returns once the broker has the
	// message or ctx expires.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message including its headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Request sends a message and waits up to timeout for a response.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*Message, error)

	Close() error
}

// Subscriber subscribes to messages on subjects.
type Subscriber interface {
	// Subscribe delivers every message on subject to handler (fan-out).
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe load-balances messages across subscribers sharing queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)

	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber

	// Drain closes the connection after in-flight messages complete.
	Drain() error

	IsConnected() bool
}
