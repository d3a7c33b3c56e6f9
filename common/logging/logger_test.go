package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/common/middleware"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNewWithWriter_Formats(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer

	NewWithWriter(&jsonBuf, slog.LevelInfo, "json").Info("hello")
	NewWithWriter(&textBuf, slog.LevelInfo, "text").Info("hello")

	entry := decodeLine(t, &jsonBuf)
	assert.Equal(t, "hello", entry["msg"])
	assert.Contains(t, textBuf.String(), "msg=hello")
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name       string
		ctx        context.Context
		wantReqID  string
		wantTenant string
	}{
		{
			name:      "request id only",
			ctx:       context.WithValue(context.Background(), middleware.RequestIDKey, "req-1"),
			wantReqID: "req-1",
		},
		{
			name:       "request and tenant",
			ctx:        middleware.WithTenantID(context.WithValue(context.Background(), middleware.RequestIDKey, "req-2"), "tenant-a"),
			wantReqID:  "req-2",
			wantTenant: "tenant-a",
		},
		{
			name: "empty context",
			ctx:  context.Background(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, slog.LevelInfo, "json")

			logger.InfoContext(tt.ctx, "batch flushed", BatchID("b-1"), PointCount(10))

			entry := decodeLine(t, &buf)
			assert.Equal(t, "b-1", entry[FieldBatchID])
			assert.EqualValues(t, 10, entry[FieldPointCount])
			if tt.wantReqID != "" {
				assert.Equal(t, tt.wantReqID, entry[FieldRequestID])
			} else {
				assert.NotContains(t, entry, FieldRequestID)
			}
			if tt.wantTenant != "" {
				assert.Equal(t, tt.wantTenant, entry[FieldTenantID])
			} else {
				assert.NotContains(t, entry, FieldTenantID)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelWarn, "json")

	logger.DebugContext(context.Background(), "debug")
	logger.InfoContext(context.Background(), "info")
	assert.Zero(t, buf.Len())

	logger.ErrorContext(context.Background(), "write failed", Error(errors.New("boom")))
	entry := decodeLine(t, &buf)
	assert.Equal(t, "boom", entry[FieldError])
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, slog.LevelInfo, "json").With(Service("ingest"))

	logger.Info("started")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "ingest", entry[FieldService])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}
