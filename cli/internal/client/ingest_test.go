package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsClient(t *testing.T) {
	client := NewMetricsClient("http://localhost:8088", "k")

	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8088", client.baseURL)
	assert.Equal(t, 10*time.Second, client.client.Timeout)
}

func TestIngest_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ingest", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload IngestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "statsd", payload.Format)
		assert.Len(t, payload.Points, 2)
		assert.Equal(t, "cli-test", payload.Source)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"accepted":2,"rejected":0,"quotaRemaining":-1,"mode":"queued"}`))
	}))
	defer server.Close()

	client := NewMetricsClient(server.URL, "test-key")
	resp, err := client.Ingest(context.Background(), &IngestRequest{
		Format: "statsd",
		Points: []json.RawMessage{json.RawMessage(`"a:1|c"`), json.RawMessage(`"b:2|g"`)},
		Source: "cli-test",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, "queued", resp.Mode)
	assert.Equal(t, int64(-1), resp.QuotaRemaining)
}

func TestIngest_QuotaRefusalIsAResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"accepted":0,"rejected":3,"quotaRemaining":0,"mode":"sync","reason":"quota exceeded: ingest_hourly (100/100)"}`))
	}))
	defer server.Close()

	resp, err := NewMetricsClient(server.URL, "k").Ingest(context.Background(), &IngestRequest{Format: "custom"})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Rejected)
	assert.Contains(t, resp.Reason, "ingest_hourly")
}

func TestIngest_RateLimitedIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"status":429,"code":"rate_limited","title":"Too Many Requests","detail":"slow down"}]}`))
	}))
	defer server.Close()

	_, err := NewMetricsClient(server.URL, "k").Ingest(context.Background(), &IngestRequest{Format: "custom"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limited", apiErr.Code)
}

func TestIngest_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"status":401,"code":"unauthorized","title":"Unauthorized","detail":"invalid API key"}]}`))
	}))
	defer server.Close()

	_, err := NewMetricsClient(server.URL, "bad").Ingest(context.Background(), &IngestRequest{Format: "custom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestIngest_PlainTextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewMetricsClient(server.URL, "k").Ingest(context.Background(), &IngestRequest{Format: "custom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestIngestRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ingest/prometheus", r.URL.Path)
		assert.Equal(t, "scraper", r.URL.Query().Get("source"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "up 1\n", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted":1,"rejected":0,"quotaRemaining":99,"mode":"sync"}`))
	}))
	defer server.Close()

	resp, err := NewMetricsClient(server.URL, "k").IngestRaw(context.Background(), "prometheus", []byte("up 1\n"), "scraper")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, int64(99), resp.QuotaRemaining)
}

func TestQuota(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/quota", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tenantId":"t1","allowed":true,"remaining":20,"snapshots":[{"quotaType":"ingest_hourly","usage":80,"limit":100,"ratio":0.8,"state":"warning"}]}`))
	}))
	defer server.Close()

	status, err := NewMetricsClient(server.URL, "k").Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", status.TenantID)
	require.Len(t, status.Snapshots, 1)
	assert.Equal(t, "warning", status.Snapshots[0].State)
}

func TestQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v1/query", r.URL.Path)
		assert.Equal(t, "cpu", q.Get("measurement"))
		assert.Equal(t, "100", q.Get("from"))
		assert.Equal(t, "200", q.Get("to"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "web-1", q.Get("tag.host"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":1,"points":[{"measurement":"cpu","tags":{"host":"web-1"},"fields":{"value":0.5},"timestampMillis":150}]}`))
	}))
	defer server.Close()

	points, err := NewMetricsClient(server.URL, "k").Query(context.Background(), QueryParams{
		Measurement: "cpu",
		From:        100,
		To:          200,
		Limit:       5,
		Tags:        map[string]string{"host": "web-1"},
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(150), points[0].TimestampMillis)
}

func TestQuery_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewMetricsClient(url, "k").Query(context.Background(), QueryParams{})
	assert.Error(t, err)
}
