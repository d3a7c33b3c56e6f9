package quota

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/usage"
)

// UsageReader returns the current usage of one quota.
type UsageReader interface {
	Usage(ctx context.Context, tenantID string, qt models.QuotaType) (int64, error)
}

// KeyCounter counts a tenant's active API keys.
type KeyCounter interface {
	CountAPIKeys(ctx context.Context, tenantID string) (int64, error)
}

// StatsReader reads every usage counter of a tenant in one round trip.
type StatsReader interface {
	GetStats(ctx context.Context, tenantID string) (*usage.Stats, error)
}

// Prefetcher loads a tenant's usage once so a whole evaluation reads from
// one consistent snapshot.
type Prefetcher interface {
	Prefetch(ctx context.Context, tenantID string) (UsageReader, error)
}

// CombinedUsage reads api_keys from the tenant directory and every other
// quota type from the usage counters.
type CombinedUsage struct {
	Counters UsageReader
	Keys     KeyCounter
}

func (c CombinedUsage) Usage(ctx context.Context, tenantID string, qt models.QuotaType) (int64, error) {
	if qt == models.QuotaAPIKeys {
		return c.Keys.CountAPIKeys(ctx, tenantID)
	}
	return c.Counters.Usage(ctx, tenantID, qt)
}

// Prefetch reads all counters at once when Counters supports it and falls
// back to per-quota reads otherwise.
func (c CombinedUsage) Prefetch(ctx context.Context, tenantID string) (UsageReader, error) {
	sr, ok := c.Counters.(StatsReader)
	if !ok {
		return c, nil
	}
	stats, err := sr.GetStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return prefetched{stats: stats, combined: c}, nil
}

type prefetched struct {
	stats    *usage.Stats
	combined CombinedUsage
}

func (p prefetched) Usage(ctx context.Context, tenantID string, qt models.QuotaType) (int64, error) {
	if tenantID != p.stats.TenantID {
		return p.combined.Usage(ctx, tenantID, qt)
	}
	if v, ok := p.stats.Value(qt); ok {
		return v, nil
	}
	if qt == models.QuotaAPIKeys {
		return p.combined.Keys.CountAPIKeys(ctx, tenantID)
	}
	return 0, fmt.Errorf("%w: %s", usage.ErrUntracked, qt)
}
