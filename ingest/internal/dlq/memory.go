package dlq

import (
	"context"
	"slices"
	"sync"
)

// MemoryQueue keeps failed messages in memory. Used when JetStream is
// unavailable and in tests.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []FailedMessage
	max      int
}

// NewMemoryQueue keeps at most max messages, dropping the oldest. A
// non-positive max keeps 10000.
func NewMemoryQueue(max int) *MemoryQueue {
	if max <= 0 {
		max = 10000
	}
	return &MemoryQueue{max: max}
}

func (q *MemoryQueue) Write(_ context.Context, msg FailedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	if over := len(q.messages) - q.max; over > 0 {
		q.messages = slices.Delete(q.messages, 0, over)
	}
	return nil
}

func (q *MemoryQueue) List(_ context.Context, limit int) ([]FailedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.messages) {
		limit = len(q.messages)
	}
	return slices.Clone(q.messages[:limit]), nil
}

func (q *MemoryQueue) Stats(context.Context) Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enabled:       true,
		Backend:       "memory",
		WrittenLocal:  uint64(len(q.messages)),
		TotalMessages: uint64(len(q.messages)),
	}
}

var _ Writer = (*MemoryQueue)(nil)
