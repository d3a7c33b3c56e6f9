package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Writer persists a batch of points.
type Writer interface {
	Write(ctx context.Context, points []models.NormalizedPoint) error
}

// CompletionFunc is called after a batch is written successfully.
type CompletionFunc func(ctx context.Context, b *Batch)

// FlusherConfig sizes the write worker pool.
type FlusherConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// Flusher sweeps the accumulator for due batches and writes them on a
// bounded pool of workers so a slow store never stalls the sweep.
type Flusher struct {
	acc    *Accumulator
	writer Writer
	logger *logging.Logger
	cfg    FlusherConfig

	mu          sync.Mutex
	running     bool
	completions []CompletionFunc
	jobs        chan *Batch
	stopCh      chan struct{}
	cancelWrite context.CancelFunc
	sweepWG     sync.WaitGroup
	workerWG    sync.WaitGroup
}

// NewFlusher creates a Flusher. It does nothing until Start.
func NewFlusher(acc *Accumulator, writer Writer, logger *logging.Logger, cfg FlusherConfig) *Flusher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Flusher{
		acc:    acc,
		writer: writer,
		logger: logger,
		cfg:    cfg,
	}
}

// OnFlushed registers fn to run after every successful write.
func (f *Flusher) OnFlushed(fn CompletionFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, fn)
}

// Start launches the sweep loop and the worker pool.
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.jobs = make(chan *Batch, f.cfg.QueueSize)

	writeCtx, cancel := context.WithCancel(context.Background())
	f.cancelWrite = cancel
	for i := 0; i < f.cfg.Workers; i++ {
		f.workerWG.Add(1)
		go f.worker(writeCtx, f.jobs)
	}

	f.sweepWG.Add(1)
	go f.run(f.stopCh, f.jobs)

	f.logger.Info("batch flusher started",
		"workers", f.cfg.Workers,
		"batch_size", f.acc.cfg.Size,
		"flush_interval", f.acc.cfg.FlushInterval.String())
}

// Stop halts the sweep, lets in-flight writes finish and then drains the
// accumulator until it is empty or ctx expires. When ctx expires while
// workers are still writing, their writes are cancelled and Stop returns
// without waiting for them.
func (f *Flusher) Stop(ctx context.Context) error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return f.Drain(ctx)
	}
	f.running = false
	close(f.stopCh)
	cancelWrite := f.cancelWrite
	f.mu.Unlock()

	f.sweepWG.Wait()
	close(f.jobs)

	idle := make(chan struct{})
	go func() {
		f.workerWG.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		cancelWrite()
	case <-ctx.Done():
		cancelWrite()
		return fmt.Errorf("stop flusher, %d batches left: %w", f.acc.Len(), ctx.Err())
	}

	return f.Drain(ctx)
}

func (f *Flusher) run(stop <-chan struct{}, jobs chan<- *Batch) {
	defer f.sweepWG.Done()

	ticker := time.NewTicker(f.tick())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.dispatch(jobs)
		case <-f.acc.Ready():
			f.dispatch(jobs)
		}
	}
}

// tick sweeps often enough to honour both the flush interval and the
// retry backoff.
func (f *Flusher) tick() time.Duration {
	d := f.acc.cfg.FlushInterval
	if rb := f.acc.cfg.RetryBackoff; rb > 0 && rb < d {
		d = rb
	}
	return max(d, 10*time.Millisecond)
}

func (f *Flusher) dispatch(jobs chan<- *Batch) {
	for _, b := range f.acc.DueBatches(f.acc.now()) {
		select {
		case jobs <- b:
		default:
			// Pool saturated; pick it up on the next sweep.
			f.acc.Release(b.ID)
		}
	}
}

func (f *Flusher) worker(ctx context.Context, jobs <-chan *Batch) {
	defer f.workerWG.Done()
	for b := range jobs {
		f.flush(ctx, b)
	}
}

// Drain seals all open batches and writes everything synchronously,
// ignoring retry delays, until the accumulator is empty or ctx expires.
// Batches that keep failing are still discarded after MaxRetries.
func (f *Flusher) Drain(ctx context.Context) error {
	f.acc.CloseAll()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("drain incomplete, %d batches left: %w", f.acc.Len(), err)
		}
		claimed := f.acc.ClaimAll()
		if len(claimed) == 0 {
			if n := f.acc.Len(); n > 0 {
				return fmt.Errorf("drain incomplete, %d batches still in flight", n)
			}
			return nil
		}
		for _, b := range claimed {
			f.flush(ctx, b)
		}
	}
}

func (f *Flusher) flush(ctx context.Context, b *Batch) bool {
	writeCtx, cancel := context.WithTimeout(ctx, f.cfg.WriteTimeout)
	start := time.Now()
	err := f.writer.Write(writeCtx, b.Points)
	cancel()
	metrics.WriteDuration.Observe(time.Since(start).Seconds())

	format := string(b.Format)
	if err == nil {
		f.acc.Remove(b.ID)
		metrics.BatchesFlushed.WithLabelValues(format).Inc()
		f.logger.Debug("batch flushed",
			logging.BatchID(b.ID),
			logging.Format(format),
			logging.PointCount(b.Len()))

		f.mu.Lock()
		completions := f.completions
		f.mu.Unlock()
		for _, fn := range completions {
			fn(ctx, b)
		}
		return true
	}

	retries, discarded := f.acc.Fail(b.ID, f.acc.now())
	if discarded {
		metrics.BatchesDiscarded.WithLabelValues(format).Inc()
		metrics.PointsDiscarded.WithLabelValues(format).Add(float64(b.Len()))
		f.logger.Error("batch discarded after max retries",
			logging.BatchID(b.ID),
			logging.Format(format),
			logging.PointCount(b.Len()),
			logging.Attempt(retries),
			logging.Error(err))
		return false
	}

	metrics.BatchRetries.WithLabelValues(format).Inc()
	f.logger.Warn("batch write failed, will retry",
		logging.BatchID(b.ID),
		logging.Format(format),
		logging.PointCount(b.Len()),
		logging.Attempt(retries),
		logging.Error(err))
	return false
}
