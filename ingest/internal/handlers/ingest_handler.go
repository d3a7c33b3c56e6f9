// Package handlers exposes the ingestion service over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/common/httputil"
	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/batch"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/bus"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/dlq"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/normalizer"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/ratelimit"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/service"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/tenants"
)

const (
	defaultMaxBodyBytes = 5 << 20
	defaultQueryLimit   = 1000
	readyTimeout        = 2 * time.Second
)

// IngestService is the subset of service.IngestService the handler needs.
type IngestService interface {
	Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error)
	IngestBody(ctx context.Context, apiKey string, format models.Format, body []byte, source string, tags map[string]string) (*models.IngestResponse, error)
	Query(ctx context.Context, apiKey string, params models.QueryParams) ([]models.NormalizedPoint, error)
	QuotaForKey(ctx context.Context, apiKey string) (*models.TenantStatus, error)
}

// ReadinessCheck is one dependency checked by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// DeadLetterStats reports the dead-letter backlog on /readyz.
type DeadLetterStats interface {
	Stats(ctx context.Context) dlq.Stats
}

// BatchStats reports what the accumulator still holds.
type BatchStats interface {
	PendingPoints() int
	Snapshot(format models.Format) []batch.Info
}

// Options configures an IngestHandler. Zero values are usable.
type Options struct {
	RateLimiter  ratelimit.RateLimiter
	MaxBodyBytes int64
	Checks       []ReadinessCheck
	DeadLetters  DeadLetterStats
	Batches      BatchStats
	Logger       *logging.Logger
}

type IngestHandler struct {
	service      IngestService
	limiter      ratelimit.RateLimiter
	maxBodyBytes int64
	checks       []ReadinessCheck
	deadLetters  DeadLetterStats
	batches      BatchStats
	logger       *logging.Logger
}

func NewIngestHandler(svc IngestService, opts Options) *IngestHandler {
	if opts.RateLimiter == nil {
		opts.RateLimiter = &ratelimit.NoOpRateLimiter{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &IngestHandler{
		service:      svc,
		limiter:      opts.RateLimiter,
		maxBodyBytes: opts.MaxBodyBytes,
		checks:       opts.Checks,
		deadLetters:  opts.DeadLetters,
		batches:      opts.Batches,
		logger:       opts.Logger.With(logging.Service("ingest-http")),
	}
}

// HandleIngest accepts a JSON IngestRequest. The API key may be given in
// the body or in a header; the header wins when both are present.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer r.Body.Close()

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if key := httputil.APIKey(r); key != "" {
		req.TenantAPIKey = key
	}
	if req.TenantAPIKey == "" {
		httputil.WriteUnauthorizedError(w, "API key required")
		return
	}
	if req.Source == "" {
		req.Source = httputil.GetClientIP(r)
	}
	if !h.allow(w, r, req.TenantAPIKey) {
		return
	}

	resp, err := h.service.Ingest(r.Context(), &req)
	h.writeIngestResult(w, r, resp, err)
}

// HandleIngestFormat accepts a raw payload for the format named in the path,
// e.g. an exposition scrape or a batch of StatsD lines.
func (h *IngestHandler) HandleIngestFormat(w http.ResponseWriter, r *http.Request) {
	format := models.Format(strings.ToLower(r.PathValue("format")))

	apiKey := httputil.APIKey(r)
	if apiKey == "" {
		httputil.WriteUnauthorizedError(w, "API key required")
		return
	}
	if !h.allow(w, r, apiKey) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeBodyError(w, err)
		return
	}
	if len(body) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "no_data", "No Data", "request body is empty")
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = httputil.GetClientIP(r)
	}
	tags := httputil.PrefixedParams(r, "tag.")

	resp, err := h.service.IngestBody(r.Context(), apiKey, format, body, source, tags)
	h.writeIngestResult(w, r, resp, err)
}

// HandleQuery returns stored points for the caller's tenant.
func (h *IngestHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	apiKey := httputil.APIKey(r)
	if apiKey == "" {
		httputil.WriteUnauthorizedError(w, "API key required")
		return
	}

	q := r.URL.Query()
	from, ok := httputil.ParseInt64Param(q.Get("from"))
	if !ok {
		httputil.WriteValidationError(w, "from", "must be epoch milliseconds")
		return
	}
	to, ok := httputil.ParseInt64Param(q.Get("to"))
	if !ok {
		httputil.WriteValidationError(w, "to", "must be epoch milliseconds")
		return
	}
	if from > 0 && to > 0 && from > to {
		httputil.WriteValidationError(w, "from", "must not be after to")
		return
	}

	params := models.QueryParams{
		Measurement: q.Get("measurement"),
		Tags:        httputil.PrefixedParams(r, "tag."),
		From:        from,
		To:          to,
		Limit:       httputil.ParseIntParam(q.Get("limit"), defaultQueryLimit),
	}

	points, err := h.service.Query(r.Context(), apiKey, params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if points == nil {
		points = []models.NormalizedPoint{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count":  len(points),
		"points": points,
	})
}

// HandleQuota returns the quota status of the caller's tenant.
func (h *IngestHandler) HandleQuota(w http.ResponseWriter, r *http.Request) {
	apiKey := httputil.APIKey(r)
	if apiKey == "" {
		httputil.WriteUnauthorizedError(w, "API key required")
		return
	}

	status, err := h.service.QuotaForKey(r.Context(), apiKey)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *IngestHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready checks every dependency. Any failing check makes the instance
// not ready.
func (h *IngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	body := map[string]any{
		"status": "ready",
		"checks": checks,
	}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	if h.deadLetters != nil {
		body["deadLetters"] = h.deadLetters.Stats(ctx)
	}
	if h.batches != nil {
		body["batches"] = map[string]int{
			"pendingPoints":  h.batches.PendingPoints(),
			"pendingBatches": len(h.batches.Snapshot("")),
		}
	}
	httputil.WriteJSON(w, status, body)
}

// HandleBatches lists batches waiting in the accumulator, oldest first,
// optionally filtered by ?format=.
func (h *IngestHandler) HandleBatches(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "Not Found", "batch accumulator not attached")
		return
	}

	format := models.Format(strings.ToLower(r.URL.Query().Get("format")))
	if format != "" && !format.Valid() {
		httputil.WriteValidationError(w, "format", "unknown format "+string(format))
		return
	}

	infos := h.batches.Snapshot(format)
	if infos == nil {
		infos = []batch.Info{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"pendingPoints": h.batches.PendingPoints(),
		"batches":       infos,
	})
}

// allow applies the per-key rate limit. Limiter failures admit the request.
func (h *IngestHandler) allow(w http.ResponseWriter, r *http.Request, apiKey string) bool {
	allowed, err := h.limiter.Allow(r.Context(), "apikey:"+tenants.HashKey(apiKey))
	if err != nil {
		h.logger.WarnContext(r.Context(), "Rate limiter unavailable; admitting request", logging.Error(err))
		return true
	}
	if !allowed {
		httputil.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too Many Requests", "request rate limit exceeded for this API key")
		return false
	}
	return true
}

func (h *IngestHandler) writeIngestResult(w http.ResponseWriter, r *http.Request, resp *models.IngestResponse, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if resp.Accepted == 0 && resp.Reason != "" {
		// Quota refusal still carries the structured response.
		httputil.WriteJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	status := http.StatusOK
	if resp.Mode == models.ModeQueued {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *IngestHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, service.ErrInvalidAPIKey):
		httputil.WriteUnauthorizedError(w, "invalid API key")
	case errors.Is(err, normalizer.ErrUnsupportedFormat):
		httputil.WriteError(w, http.StatusUnsupportedMediaType, "unsupported_format", "Unsupported Format", err.Error())
	case errors.Is(err, service.ErrTooManyPoints):
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "too_many_points", "Too Many Points", err.Error())
	case errors.Is(err, service.ErrInvalidBody):
		httputil.WriteError(w, http.StatusBadRequest, "invalid_body", "Invalid Request Body", err.Error())
	case errors.Is(err, bus.ErrBusUnavailable):
		w.Header().Set("Retry-After", "1")
		httputil.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Service Unavailable", "ingestion temporarily unavailable, retry later")
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, http.StatusGatewayTimeout, "timeout", "Timeout", "request timed out")
	default:
		h.logger.ErrorContext(ctx, "Request failed", "path", r.URL.Path, logging.Error(err))
		httputil.WriteInternalError(w, "an internal error occurred")
	}
}

func (h *IngestHandler) writeBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request Too Large", "request body exceeds limit")
		return
	}
	httputil.WriteError(w, http.StatusBadRequest, "invalid_body", "Invalid Request Body", err.Error())
}
