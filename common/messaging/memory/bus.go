// Package memory provides an in-process messaging.Client for single-node
// deployments and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
)

// ErrNoResponders mirrors the broker behaviour for requests nobody answers.
var ErrNoResponders = errors.New("memory bus: no responders")

const defaultBuffer = 1024

// Bus delivers published messages to subscribers on per-subscription
// goroutines. Queue subscribers sharing a group receive messages round-robin.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]*subscription
	next      map[string]int
	connected atomic.Bool
	buffer    int
	wg        sync.WaitGroup
}

// NewBus returns a connected bus.
func NewBus() *Bus {
	b := &Bus{
		subs:   make(map[string][]*subscription),
		next:   make(map[string]int),
		buffer: defaultBuffer,
	}
	b.connected.Store(true)
	return b
}

// SetConnected toggles availability. A disconnected bus rejects publishes
// with messaging.ErrNotConnected.
func (b *Bus) SetConnected(connected bool) {
	b.connected.Store(connected)
}

func (b *Bus) IsConnected() bool {
	return b.connected.Load()
}

func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	return b.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (b *Bus) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.IsConnected() {
		return messaging.ErrNotConnected
	}

	b.mu.Lock()
	targets := b.targetsLocked(msg.Subject)
	b.mu.Unlock()

	for _, s := range targets {
		delivered := &messaging.Message{
			Subject:   msg.Subject,
			Data:      append([]byte(nil), msg.Data...),
			Reply:     msg.Reply,
			Metadata:  msg.Metadata,
			Timestamp: time.Now(),
		}
		if err := s.deliver(ctx, delivered); err != nil {
			return err
		}
	}
	return nil
}

// targetsLocked picks every plain subscriber plus one member per queue group.
func (b *Bus) targetsLocked(subject string) []*subscription {
	var targets []*subscription
	groups := make(map[string][]*subscription)
	for _, s := range b.subs[subject] {
		if !s.IsValid() {
			continue
		}
		if s.queue == "" {
			targets = append(targets, s)
			continue
		}
		groups[s.queue] = append(groups[s.queue], s)
	}
	for queue, members := range groups {
		key := subject + "|" + queue
		idx := b.next[key] % len(members)
		b.next[key] = idx + 1
		targets = append(targets, members[idx])
	}
	return targets
}

func (b *Bus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*messaging.Message, error) {
	if !b.IsConnected() {
		return nil, messaging.ErrNotConnected
	}
	return nil, ErrNoResponders
}

func (b *Bus) Subscribe(subject string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return b.subscribe(subject, "", handler)
}

func (b *Bus) QueueSubscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *Bus) subscribe(subject, queue string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	if !b.IsConnected() {
		return nil, messaging.ErrNotConnected
	}

	s := &subscription{
		subject:  subject,
		queue:    queue,
		ch:       make(chan *messaging.Message, b.buffer),
		done:     make(chan struct{}),
		draining: make(chan struct{}),
		exited:   make(chan struct{}),
	}
	s.valid.Store(true)

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], s)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(s.exited)
		for {
			select {
			case msg := <-s.ch:
				_ = handler(context.Background(), msg)
			case <-s.done:
				return
			case <-s.draining:
				// No publisher can reach ch any more; finish what is buffered.
				for {
					select {
					case msg := <-s.ch:
						_ = handler(context.Background(), msg)
					default:
						return
					}
				}
			}
		}
	}()

	return s, nil
}

// Close unsubscribes everything and waits for handlers to return.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, subs := range b.subs {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
	b.connected.Store(false)
	return nil
}

// Drain delivers every buffered message to its handler, then closes the bus.
func (b *Bus) Drain() error {
	b.mu.Lock()
	var all []*subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	var err error
	for _, s := range all {
		if dErr := s.Drain(context.Background()); dErr != nil && err == nil {
			err = dErr
		}
	}
	b.wg.Wait()
	b.connected.Store(false)
	return err
}

type subscription struct {
	subject  string
	queue    string
	ch       chan *messaging.Message
	done     chan struct{}
	draining chan struct{}
	exited   chan struct{}

	// sendMu is held shared by publishers while they hand a message to ch
	// and exclusively by Drain while it closes the subscription to them.
	sendMu    sync.RWMutex
	valid     atomic.Bool
	stopOnce  sync.Once
	drainOnce sync.Once
}

func (s *subscription) deliver(ctx context.Context, msg *messaging.Message) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if !s.valid.Load() {
		return nil
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe stops delivery immediately. Buffered messages are discarded.
func (s *subscription) Unsubscribe() error {
	s.stopOnce.Do(func() {
		s.valid.Store(false)
		close(s.done)
	})
	return nil
}

// Drain stops new deliveries, then waits until every buffered message has
// been handled or ctx expires.
func (s *subscription) Drain(ctx context.Context) error {
	s.sendMu.Lock()
	s.valid.Store(false)
	s.sendMu.Unlock()
	s.drainOnce.Do(func() { close(s.draining) })

	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) Subject() string {
	return s.subject
}

func (s *subscription) IsValid() bool {
	return s.valid.Load()
}

var _ messaging.Client = (*Bus)(nil)
