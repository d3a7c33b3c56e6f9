// Package service implements ingestion admission, tenant-scoped queries and
// quota status on top of the processing pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/middleware"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/normalizer"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/processor"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidBody   = errors.New("invalid request body")
	ErrTooManyPoints = errors.New("too many points in request")
)

// KeyValidator resolves API keys to tenants.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) (*models.KeyValidation, error)
}

// QuotaChecker decides admission for a tenant.
type QuotaChecker interface {
	CheckTenant(ctx context.Context, tenantID string) (*models.TenantStatus, error)
}

// Querier reads stored points.
type Querier interface {
	Query(ctx context.Context, params models.QueryParams) ([]models.NormalizedPoint, error)
}

// Config controls admission.
type Config struct {
	SupportedFormats    []models.Format
	MaxPointsPerRequest int
}

// IngestService is the admission boundary for telemetry.
type IngestService struct {
	keys       KeyValidator
	quota      QuotaChecker
	processors processor.Tiered
	store      Querier
	formats    []models.Format
	maxPoints  int
	logger     *logging.Logger
	now        func() time.Time
}

// NewIngestService wires the admission flow. An empty SupportedFormats
// allows every known format.
func NewIngestService(keys KeyValidator, quota QuotaChecker, processors processor.Tiered, store Querier, logger *logging.Logger, cfg Config) *IngestService {
	formats := cfg.SupportedFormats
	if len(formats) == 0 {
		formats = models.AllFormats
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestService{
		keys:       keys,
		quota:      quota,
		processors: processors,
		store:      store,
		formats:    slices.Clone(formats),
		maxPoints:  cfg.MaxPointsPerRequest,
		logger:     logger,
		now:        time.Now,
	}
}

// Supports reports whether format is on the allow-list.
func (s *IngestService) Supports(format models.Format) bool {
	return slices.Contains(s.formats, format)
}

// Ingest admits a request. A quota refusal is reported in the response
// Reason, not as an error. Errors mean the request was not accepted at all.
func (s *IngestService) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResponse, error) {
	format := string(req.Format)

	if !s.Supports(req.Format) {
		metrics.RequestsTotal.WithLabelValues(format, "", "unsupported").Inc()
		return nil, fmt.Errorf("%w: %q", normalizer.ErrUnsupportedFormat, req.Format)
	}
	if s.maxPoints > 0 && len(req.Points) > s.maxPoints {
		metrics.RequestsTotal.WithLabelValues(format, "", "too_large").Inc()
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPoints, len(req.Points), s.maxPoints)
	}

	key, err := s.Authenticate(ctx, req.TenantAPIKey)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(format, "", "unauthorized").Inc()
		return nil, err
	}

	ctx = middleware.WithTenantID(ctx, key.TenantID)
	log := s.logger.With(logging.APIKeyID(key.APIKeyID), logging.Format(format))
	proc := s.processors.For(key.Metered)
	mode := models.ModeSync
	if key.Metered {
		mode = models.ModeQueued
	}

	status, err := s.quota.CheckTenant(ctx, key.TenantID)
	if err != nil {
		// Usage or plan lookups failing must not stop ingestion.
		log.WarnContext(ctx, "Quota check failed; admitting request", logging.Error(err))
		status = &models.TenantStatus{TenantID: key.TenantID, Allowed: true, Remaining: models.Unlimited}
	}

	if !status.Allowed {
		metrics.RequestsTotal.WithLabelValues(format, string(mode), "quota_exceeded").Inc()
		metrics.PointsRejected.WithLabelValues("quota").Add(float64(len(req.Points)))
		log.InfoContext(ctx, "Ingestion refused", "reason", status.Reason, logging.PointCount(len(req.Points)))
		return &models.IngestResponse{
			Accepted:       0,
			Rejected:       len(req.Points),
			QuotaRemaining: 0,
			Mode:           mode,
			Reason:         status.Reason,
		}, nil
	}

	entries := req.Points
	truncated := 0
	reason := ""
	if status.Remaining >= 0 && int64(len(entries)) > status.Remaining {
		truncated = len(entries) - int(status.Remaining)
		entries = entries[:status.Remaining]
		reason = fmt.Sprintf("quota allows %d more points; %d rejected", status.Remaining, truncated)
		metrics.PointsRejected.WithLabelValues("quota").Add(float64(truncated))
	}

	payloads, invalid := buildPayloads(req.Format, entries)
	if invalid > 0 {
		metrics.PointsRejected.WithLabelValues("invalid").Add(float64(invalid))
	}

	ingestedAt := s.now().UnixMilli()
	if req.ClientTimestamp != nil && *req.ClientTimestamp > 0 {
		ingestedAt = *req.ClientTimestamp
	}
	meta := &models.TenantMeta{TenantID: key.TenantID, APIKeyID: key.APIKeyID, Tags: req.Tags}

	resp := &models.IngestResponse{Rejected: truncated + invalid, Mode: mode, Reason: reason}
	for _, p := range payloads {
		raw := &models.RawPoint{
			Source:     req.Source,
			Format:     req.Format,
			Timestamp:  ingestedAt,
			Payload:    p.data,
			TenantMeta: meta,
		}
		res, err := proc.Process(ctx, raw)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(format, string(mode), "error").Inc()
			log.ErrorContext(ctx, "Failed to process payload", logging.Error(err))
			return nil, err
		}
		resp.Mode = res.Mode
		if res.Mode == models.ModeQueued {
			resp.Accepted += p.entries
		} else {
			resp.Accepted += res.Points
			resp.Rejected += res.Dropped
			if res.Dropped > 0 {
				metrics.PointsRejected.WithLabelValues("malformed").Add(float64(res.Dropped))
			}
		}
	}

	resp.QuotaRemaining = models.Unlimited
	if status.Remaining >= 0 {
		resp.QuotaRemaining = max(status.Remaining-int64(resp.Accepted), 0)
	}

	metrics.RequestsTotal.WithLabelValues(format, string(resp.Mode), "accepted").Inc()
	metrics.PointsAccepted.WithLabelValues(format).Add(float64(resp.Accepted))
	log.DebugContext(ctx, "Ingestion accepted",
		logging.PointCount(resp.Accepted),
		"rejected", resp.Rejected,
		"mode", string(resp.Mode))

	return resp, nil
}

// IngestBody admits a raw request body for one format.
func (s *IngestService) IngestBody(ctx context.Context, apiKey string, format models.Format, body []byte, source string, tags map[string]string) (*models.IngestResponse, error) {
	if !s.Supports(format) {
		return nil, fmt.Errorf("%w: %q", normalizer.ErrUnsupportedFormat, format)
	}
	entries, err := SplitBody(format, body)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, &models.IngestRequest{
		TenantAPIKey: apiKey,
		Format:       format,
		Points:       entries,
		Source:       source,
		Tags:         tags,
	})
}

// Authenticate resolves apiKey or returns ErrInvalidAPIKey.
func (s *IngestService) Authenticate(ctx context.Context, apiKey string) (*models.KeyValidation, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	key, err := s.keys.ValidateKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("validate api key: %w", err)
	}
	if !key.Valid {
		return nil, ErrInvalidAPIKey
	}
	return key, nil
}

// Query returns stored points for the tenant owning apiKey. The tenant
// filter always comes from the key, never from params.
func (s *IngestService) Query(ctx context.Context, apiKey string, params models.QueryParams) ([]models.NormalizedPoint, error) {
	key, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	params.TenantID = key.TenantID
	return s.store.Query(ctx, params)
}

// CheckTenantQuota returns the admission status of tenantID.
func (s *IngestService) CheckTenantQuota(ctx context.Context, tenantID string) (*models.TenantStatus, error) {
	return s.quota.CheckTenant(ctx, tenantID)
}

// QuotaForKey returns the admission status of the tenant owning apiKey.
func (s *IngestService) QuotaForKey(ctx context.Context, apiKey string) (*models.TenantStatus, error) {
	key, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return s.quota.CheckTenant(ctx, key.TenantID)
}
