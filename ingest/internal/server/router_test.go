package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/middleware"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/handlers"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Mock service for testing
type mockIngestService struct {
	format models.Format
}

func (m *mockIngestService) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	return &models.IngestResponse{Accepted: len(req.Points), Mode: models.ModeSync}, nil
}

func (m *mockIngestService) IngestBody(ctx context.Context, apiKey string, format models.Format, body []byte, source string, tags map[string]string) (*models.IngestResponse, error) {
	m.format = format
	return &models.IngestResponse{Accepted: 1, Mode: models.ModeSync}, nil
}

func (m *mockIngestService) Query(ctx context.Context, apiKey string, params models.QueryParams) ([]models.NormalizedPoint, error) {
	return nil, nil
}

func (m *mockIngestService) QuotaForKey(ctx context.Context, apiKey string) (*models.TenantStatus, error) {
	return &models.TenantStatus{TenantID: "t1", Allowed: true, Remaining: -1}, nil
}

func newTestRouter(svc *mockIngestService) http.Handler {
	return NewRouter(handlers.NewIngestHandler(svc, handlers.Options{Logger: logging.Discard()}))
}

func TestNewRouter(t *testing.T) {
	if newTestRouter(&mockIngestService{}) == nil {
		t.Fatal("NewRouter() returned nil")
	}
}

func TestRouter_Endpoints(t *testing.T) {
	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/v1/ingest", `{"format":"json","points":[1]}`, http.StatusOK},
		{http.MethodPost, "/api/v1/ingest/statsd", "a:1|c", http.StatusOK},
		{http.MethodGet, "/api/v1/query", "", http.StatusOK},
		{http.MethodGet, "/api/v1/quota", "", http.StatusOK},
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/api/v1/batches", "", http.StatusNotFound},
		{http.MethodGet, "/metrics", "", http.StatusOK},
	}

	router := newTestRouter(&mockIngestService{})
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("X-API-Key", "test-key")
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, tt.want, rr.Code)
			}
		})
	}
}

func TestRouter_FormatPathValue(t *testing.T) {
	svc := &mockIngestService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/OTLP", strings.NewReader("{}"))
	req.Header.Set("X-API-Key", "test-key")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if svc.format != models.Format("otlp") {
		t.Errorf("Expected format otlp from path, got %q", svc.format)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&mockIngestService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingest", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rr.Code)
	}
}

func TestRouter_UnknownPath(t *testing.T) {
	router := newTestRouter(&mockIngestService{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/services/collector/event", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestRouter_RequestID(t *testing.T) {
	router := newTestRouter(&mockIngestService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if got := rr.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("Expected request ID to be echoed, got %q", got)
	}
}
