// Package batch accumulates normalized points into per-format batches and
// flushes them to storage with bounded retry.
package batch

import (
	"time"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

type state int

const (
	stateOpen     state = iota // accepting appends
	stateClosed                // sealed, waiting for dispatch or retry
	stateInFlight              // handed to a writer
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	case stateInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Batch is a group of points of one format written together. Once closed
// its Points are never modified again, so a claimed batch can be read by a
// writer without holding the accumulator lock.
type Batch struct {
	ID          string
	Format      models.Format
	Points      []models.NormalizedPoint
	CreatedAt   time.Time
	RetryCount  int
	NextAttempt time.Time

	state state
}

// Len returns the number of points in the batch.
func (b *Batch) Len() int {
	return len(b.Points)
}

// Info is a read-only view of a pending batch.
type Info struct {
	ID         string        `json:"id"`
	Format     models.Format `json:"format"`
	Points     int           `json:"points"`
	CreatedAt  time.Time     `json:"createdAt"`
	RetryCount int           `json:"retryCount"`
	State      string        `json:"state"`
}

func (b *Batch) info() Info {
	return Info{
		ID:         b.ID,
		Format:     b.Format,
		Points:     len(b.Points),
		CreatedAt:  b.CreatedAt,
		RetryCount: b.RetryCount,
		State:      b.state.String(),
	}
}

// Config controls batch sizing and retry.
type Config struct {
	// Size closes a batch when it holds this many points.
	Size int
	// FlushInterval closes a batch this long after creation.
	FlushInterval time.Duration
	// MaxRetries discards a batch once it has failed this many times.
	MaxRetries int
	// RetryBackoff is the linear step between retries (step × retryCount).
	RetryBackoff time.Duration
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Size:          1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Second,
	}
}
