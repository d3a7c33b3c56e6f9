package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/batch"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

type recordedPublish struct {
	topic string
	value any
}

type fakePublisher struct {
	published []recordedPublish
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, v any) error {
	f.published = append(f.published, recordedPublish{topic, v})
	return f.err
}

type fakeStorage struct {
	bytes map[string]int64
}

func (f *fakeStorage) RecordStorage(_ context.Context, tenantID string, n int64) error {
	f.bytes[tenantID] += n
	return nil
}

func TestCompletionHook(t *testing.T) {
	pub := &fakePublisher{}
	storage := &fakeStorage{bytes: make(map[string]int64)}
	hook := CompletionHook(pub, storage, logging.Discard())

	b := &batch.Batch{
		ID:     "batch-1",
		Format: models.FormatStatsd,
		Points: []models.NormalizedPoint{
			{Measurement: "a", Tags: map[string]string{models.TagTenantID: "t1"}, Fields: map[string]any{"value": 1.0}},
			{Measurement: "b", Tags: map[string]string{models.TagTenantID: "t1"}, Fields: map[string]any{"value": 2.0}},
			{Measurement: "c", Tags: map[string]string{models.TagTenantID: "t2"}, Fields: map[string]any{"value": 3.0}},
		},
	}
	hook(context.Background(), b)

	require.Len(t, pub.published, 1)
	assert.Equal(t, messaging.SubjectMetricsProcessed, pub.published[0].topic)
	event := pub.published[0].value.(models.BatchCompletion)
	assert.Equal(t, "batch-1", event.BatchID)
	assert.Equal(t, 3, event.Count)
	assert.Equal(t, models.FormatStatsd, event.Format)
	assert.Positive(t, event.TimestampMillis)

	assert.Equal(t, int64(b.Points[0].EstimatedSize()+b.Points[1].EstimatedSize()), storage.bytes["t1"])
	assert.Equal(t, int64(b.Points[2].EstimatedSize()), storage.bytes["t2"])
}

func TestCompletionHook_PublishFailureIsLogged(t *testing.T) {
	pub := &fakePublisher{err: errors.New("bus down")}
	hook := CompletionHook(pub, nil, logging.Discard())

	assert.NotPanics(t, func() {
		hook(context.Background(), &batch.Batch{ID: "b"})
	})
	assert.Len(t, pub.published, 1)
}
