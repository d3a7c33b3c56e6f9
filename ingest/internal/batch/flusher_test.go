package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

type fakeWriter struct {
	mu      sync.Mutex
	calls   int
	written int
	failN   int // fail this many calls before succeeding; -1 fails forever
}

func (w *fakeWriter) Write(ctx context.Context, points []models.NormalizedPoint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failN < 0 || w.calls <= w.failN {
		return errors.New("store unavailable")
	}
	w.written += len(points)
	return nil
}

func (w *fakeWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *fakeWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// flushDue runs one sweep synchronously and returns how many batches were
// written.
func flushDue(f *Flusher) int {
	written := 0
	for _, b := range f.acc.DueBatches(f.acc.now()) {
		if f.flush(context.Background(), b) {
			written++
		}
	}
	return written
}

func TestFlusher_DiscardsAfterMaxRetries(t *testing.T) {
	clock := newFakeClock()
	acc := newTestAccumulator(clock, Config{Size: 100, FlushInterval: time.Second, MaxRetries: 3})
	writer := &fakeWriter{failN: -1}
	f := NewFlusher(acc, writer, logging.Discard(), FlusherConfig{})

	acc.Append(models.FormatStatsd, makePoints(10))
	clock.Advance(time.Second)

	for i := 0; i < 5; i++ {
		assert.Zero(t, flushDue(f))
	}

	assert.Equal(t, 3, writer.Calls(), "no fourth attempt")
	assert.Zero(t, acc.Len())
}

func TestFlusher_RetryThenSuccess(t *testing.T) {
	clock := newFakeClock()
	acc := newTestAccumulator(clock, Config{Size: 10, FlushInterval: time.Hour, MaxRetries: 3})
	writer := &fakeWriter{failN: 1}
	f := NewFlusher(acc, writer, logging.Discard(), FlusherConfig{})

	var completed []string
	f.OnFlushed(func(ctx context.Context, b *Batch) {
		completed = append(completed, b.ID)
	})

	acc.Append(models.FormatPrometheus, makePoints(10))

	assert.Zero(t, flushDue(f))
	assert.Equal(t, 1, acc.Len())
	assert.Equal(t, 1, flushDue(f))
	assert.Zero(t, acc.Len())
	assert.Equal(t, 10, writer.Written())
	assert.Len(t, completed, 1)
}

func TestFlusher_FullBatchFlushedWithoutWaiting(t *testing.T) {
	acc := NewAccumulator(Config{Size: 1000, FlushInterval: time.Hour, MaxRetries: 3})
	writer := &fakeWriter{}
	f := NewFlusher(acc, writer, logging.Discard(), FlusherConfig{Workers: 2})
	f.Start()

	acc.Append(models.FormatStatsd, makePoints(1000))

	assert.Eventually(t, func() bool {
		return writer.Calls() == 1 && acc.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Stop(ctx))
	assert.Equal(t, 1000, writer.Written())
}

func TestFlusher_StopDrainsOpenBatches(t *testing.T) {
	acc := NewAccumulator(Config{Size: 1000, FlushInterval: time.Hour, MaxRetries: 3})
	writer := &fakeWriter{}
	f := NewFlusher(acc, writer, logging.Discard(), FlusherConfig{})
	f.Start()

	acc.Append(models.FormatStatsd, makePoints(10))
	acc.Append(models.FormatCustom, makePoints(20))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Stop(ctx))

	assert.Zero(t, acc.Len())
	assert.Equal(t, 30, writer.Written())
}

func TestFlusher_DrainGivesUpOnPersistentFailure(t *testing.T) {
	acc := NewAccumulator(Config{Size: 1000, FlushInterval: time.Hour, MaxRetries: 2, RetryBackoff: time.Hour})
	writer := &fakeWriter{failN: -1}
	f := NewFlusher(acc, writer, logging.Discard(), FlusherConfig{})

	acc.Append(models.FormatStatsd, makePoints(10))

	require.NoError(t, f.Drain(context.Background()))
	assert.Equal(t, 2, writer.Calls())
	assert.Zero(t, acc.Len())
}

func TestFlusher_DrainRespectsContext(t *testing.T) {
	acc := NewAccumulator(Config{Size: 1000, FlushInterval: time.Hour})
	f := NewFlusher(acc, &fakeWriter{}, logging.Discard(), FlusherConfig{})
	acc.Append(models.FormatStatsd, makePoints(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Drain(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingWriter parks every write until release is closed, ignoring ctx.
type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Write(ctx context.Context, points []models.NormalizedPoint) error {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return nil
}

func TestFlusher_StopHonoursContextWithStuckWriter(t *testing.T) {
	acc := NewAccumulator(Config{Size: 10, FlushInterval: time.Hour, MaxRetries: 3})
	writer := &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	t.Cleanup(func() { close(writer.release) })

	f := NewFlusher(acc, writer, logging.Discard(), FlusherConfig{Workers: 1})
	f.Start()
	acc.Append(models.FormatStatsd, makePoints(10))

	select {
	case <-writer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started writing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := f.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
