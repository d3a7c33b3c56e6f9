package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/metrics"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// ErrTenantRequired is returned by CheckTenant for an empty tenant ID.
var ErrTenantRequired = errors.New("tenant id required")

// TenantSource is the part of the tenant directory the monitor reads.
type TenantSource interface {
	ActiveTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	PlanLimits(ctx context.Context, plan string) (models.PlanLimits, error)
}

// Config controls the monitor.
type Config struct {
	Thresholds    Thresholds
	LookupTimeout time.Duration // per tenant, covers limits and usage lookups
	AlertTimeout  time.Duration
	Concurrency   int // tenants evaluated in parallel
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:    DefaultThresholds(),
		LookupTimeout: 5 * time.Second,
		AlertTimeout:  5 * time.Second,
		Concurrency:   8,
	}
}

// Monitor evaluates quotas on a timer and on demand for admission.
type Monitor struct {
	tenants TenantSource
	usage   UsageReader
	sink    AlertSink
	cfg     Config
	logger  *logging.Logger
	now     func() time.Time
}

// NewMonitor creates a monitor. sink may be nil, in which case alerts are
// only logged.
func NewMonitor(tenants TenantSource, usage UsageReader, sink AlertSink, logger *logging.Logger, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = def.AlertTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		tenants: tenants,
		usage:   usage,
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Run evaluates every active tenant immediately and then once per
// interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.logger.Info("Quota monitor started", "interval", interval.String())
	defer m.logger.Info("Quota monitor stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.RunCycle(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Quota cycle failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle evaluates every active tenant once. A failure for one tenant is
// logged and counted; only a failure to list tenants is returned.
func (m *Monitor) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.QuotaCycleDuration.Observe(time.Since(start).Seconds()) }()

	listCtx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	tenants, err := m.tenants.ActiveTenants(listCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list active tenants: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.Concurrency)

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			m.evaluateAndAlert(ctx, tenant)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Debug("Quota cycle complete",
		"tenants", len(tenants),
		logging.Duration(time.Since(start).Milliseconds()))
	return nil
}

func (m *Monitor) evaluateAndAlert(ctx context.Context, tenant models.Tenant) {
	lookupCtx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	snapshots, err := m.Evaluate(lookupCtx, tenant)
	cancel()
	if err != nil {
		metrics.QuotaEvaluations.WithLabelValues("error").Inc()
		m.logger.Warn("Quota evaluation failed",
			logging.TenantID(tenant.ID),
			logging.Error(err))
		return
	}
	metrics.QuotaEvaluations.WithLabelValues("success").Inc()

	for _, s := range snapshots {
		alert, ok := Alert(s)
		if !ok {
			continue
		}
		alert.EmittedAt = m.now().UTC()
		metrics.QuotaAlerts.WithLabelValues(string(s.QuotaType), string(s.State)).Inc()
		m.emit(ctx, alert)
	}
}

func (m *Monitor) emit(ctx context.Context, alert models.QuotaAlert) {
	attrs := []any{
		logging.TenantID(alert.TenantID),
		logging.QuotaType(string(alert.QuotaType)),
		logging.Severity(string(alert.Severity)),
		"usage", alert.Usage,
		"limit", alert.Limit,
		"exceeded", alert.Exceeded,
	}
	m.logger.Warn("Quota threshold reached", attrs...)

	if m.sink == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, m.cfg.AlertTimeout)
	defer cancel()
	if err := m.sink.PublishAlert(pubCtx, alert); err != nil {
		m.logger.Error("Failed to publish quota alert", append(attrs, logging.Error(err))...)
	}
}

// Evaluate computes a snapshot for every limited quota of tenant.
func (m *Monitor) Evaluate(ctx context.Context, tenant models.Tenant) ([]models.QuotaSnapshot, error) {
	limits, err := m.tenants.PlanLimits(ctx, tenant.Plan)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan limits: %w", err)
	}

	reader := m.usage
	if p, ok := m.usage.(Prefetcher); ok {
		if reader, err = p.Prefetch(ctx, tenant.ID); err != nil {
			return nil, fmt.Errorf("failed to prefetch usage: %w", err)
		}
	}

	snapshots := make([]models.QuotaSnapshot, 0, len(models.QuotaTypes))
	for _, qt := range models.QuotaTypes {
		limit := limits.Get(qt)
		if limit.Value == models.Unlimited {
			continue
		}
		usage, err := reader.Usage(ctx, tenant.ID, qt)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s usage: %w", qt, err)
		}
		if s, ok := m.cfg.Thresholds.Snapshot(tenant.ID, qt, usage, limit); ok {
			snapshots = append(snapshots, s)
		}
	}
	return snapshots, nil
}

// CheckTenant evaluates tenantID for admission. Ingestion is refused when
// any hard-capped ingest or storage quota is exceeded.
func (m *Monitor) CheckTenant(ctx context.Context, tenantID string) (*models.TenantStatus, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	defer cancel()

	tenant, err := m.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	snapshots, err := m.Evaluate(ctx, *tenant)
	if err != nil {
		return nil, err
	}
	return Status(tenantID, snapshots), nil
}

// Status derives the admission decision from a tenant's snapshots.
func Status(tenantID string, snapshots []models.QuotaSnapshot) *models.TenantStatus {
	status := &models.TenantStatus{
		TenantID:  tenantID,
		Allowed:   true,
		Remaining: models.Unlimited,
		Snapshots: snapshots,
	}
	for _, s := range snapshots {
		if s.QuotaType.GatesIngest() && s.State == models.QuotaExceeded && status.Allowed {
			status.Allowed = false
			status.Reason = fmt.Sprintf("quota exceeded: %s (%d/%d)", s.QuotaType, s.Usage, s.Limit)
		}
		if !s.QuotaType.IsIngest() {
			continue
		}
		remaining := max(s.Limit-s.Usage, 0)
		if status.Remaining == models.Unlimited || remaining < status.Remaining {
			status.Remaining = remaining
		}
	}
	return status
}
