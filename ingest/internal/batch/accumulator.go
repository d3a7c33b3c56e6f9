package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Accumulator holds pending points grouped into batches. Each format has at
// most one open batch; closed batches wait for dispatch or retry. All state
// is guarded by one mutex and no I/O happens under it.
type Accumulator struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	open    map[models.Format]*Batch
	batches map[string]*Batch
	points  int

	ready chan struct{}
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		a.now = now
	}
}

// NewAccumulator creates an empty accumulator. Zero config values fall back
// to DefaultConfig.
func NewAccumulator(cfg Config, opts ...Option) *Accumulator {
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}

	a := &Accumulator{
		cfg:     cfg,
		now:     time.Now,
		open:    make(map[models.Format]*Batch),
		batches: make(map[string]*Batch),
		ready:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the effective configuration.
func (a *Accumulator) Config() Config {
	return a.cfg
}

// Ready is signalled whenever a batch fills up and should be flushed
// without waiting for the next sweep.
func (a *Accumulator) Ready() <-chan struct{} {
	return a.ready
}

// Append adds points to the open batch for format, sealing batches as they
// reach the configured size and continuing into fresh ones.
func (a *Accumulator) Append(format models.Format, points []models.NormalizedPoint) {
	if len(points) == 0 {
		return
	}

	a.mu.Lock()
	now := a.now()
	sealed := false
	for len(points) > 0 {
		b := a.open[format]
		if b == nil {
			b = &Batch{
				ID:        uuid.NewString(),
				Format:    format,
				Points:    make([]models.NormalizedPoint, 0, min(a.cfg.Size, len(points))),
				CreatedAt: now,
				state:     stateOpen,
			}
			a.open[format] = b
			a.batches[b.ID] = b
		}

		n := min(a.cfg.Size-len(b.Points), len(points))
		b.Points = append(b.Points, points[:n]...)
		points = points[n:]
		a.points += n

		if len(b.Points) >= a.cfg.Size {
			a.closeLocked(b)
			sealed = true
		}
	}
	pending := a.points
	a.mu.Unlock()

	metrics.PendingPoints.Set(float64(pending))
	if sealed {
		a.signal()
	}
}

func (a *Accumulator) signal() {
	select {
	case a.ready <- struct{}{}:
	default:
	}
}

func (a *Accumulator) closeLocked(b *Batch) {
	if b.state != stateOpen {
		return
	}
	b.state = stateClosed
	if a.open[b.Format] == b {
		delete(a.open, b.Format)
	}
}

// due reports whether b must be flushed at now.
func (a *Accumulator) due(b *Batch, now time.Time) bool {
	switch b.state {
	case stateOpen:
		return len(b.Points) >= a.cfg.Size || now.Sub(b.CreatedAt) >= a.cfg.FlushInterval
	case stateClosed:
		return !now.Before(b.NextAttempt)
	default:
		return false
	}
}

// DueBatches closes and claims every batch that is due at now: open batches
// that reached the size limit or the flush interval, and closed batches
// whose retry time has come. Claimed batches are in flight until Remove,
// Fail or Release is called for them. Results are oldest first.
func (a *Accumulator) DueBatches(now time.Time) []*Batch {
	return a.claim(func(b *Batch) bool { return a.due(b, now) })
}

// ClaimAll closes and claims every batch that is not already in flight,
// ignoring age and retry times. Used when draining.
func (a *Accumulator) ClaimAll() []*Batch {
	return a.claim(func(b *Batch) bool { return b.state != stateInFlight })
}

func (a *Accumulator) claim(pick func(*Batch) bool) []*Batch {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*Batch
	for _, b := range a.batches {
		if !pick(b) {
			continue
		}
		a.closeLocked(b)
		b.state = stateInFlight
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove deletes a batch after a successful write.
func (a *Accumulator) Remove(id string) bool {
	a.mu.Lock()
	b, ok := a.batches[id]
	if ok {
		a.deleteLocked(b)
	}
	pending := a.points
	a.mu.Unlock()

	metrics.PendingPoints.Set(float64(pending))
	return ok
}

func (a *Accumulator) deleteLocked(b *Batch) {
	delete(a.batches, b.ID)
	if a.open[b.Format] == b {
		delete(a.open, b.Format)
	}
	a.points -= len(b.Points)
}

// Fail records a failed write. The batch goes back to closed with its retry
// time pushed out linearly, or is deleted once it has failed MaxRetries
// times. It returns the batch's failure count and whether it was discarded.
func (a *Accumulator) Fail(id string, now time.Time) (retries int, discarded bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.batches[id]
	if !ok {
		return 0, false
	}

	b.RetryCount++
	if b.RetryCount >= a.cfg.MaxRetries {
		a.deleteLocked(b)
		metrics.PendingPoints.Set(float64(a.points))
		return b.RetryCount, true
	}

	b.state = stateClosed
	b.NextAttempt = now.Add(a.cfg.RetryBackoff * time.Duration(b.RetryCount))
	return b.RetryCount, false
}

// Release returns a claimed batch to closed without counting a failure.
func (a *Accumulator) Release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.batches[id]; ok && b.state == stateInFlight {
		b.state = stateClosed
	}
}

// CloseAll seals every open batch so no further appends reach them.
func (a *Accumulator) CloseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.open {
		a.closeLocked(b)
	}
}

// Len returns the number of batches not yet removed.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

// PendingPoints returns the number of points held across all batches.
func (a *Accumulator) PendingPoints() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.points
}

// Snapshot describes every pending batch, optionally filtered by format.
func (a *Accumulator) Snapshot(format models.Format) []Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Info
	for _, b := range a.batches {
		if format != "" && b.Format != format {
			continue
		}
		out = append(out, b.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
