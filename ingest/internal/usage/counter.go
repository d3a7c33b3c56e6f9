// Package usage keeps per-tenant usage counters in Redis.
//
// Designed for multiple ingest instances writing concurrently; any instance
// (or the quota monitor) can read the totals.
//
// Redis Key Structure:
//
//	usage:{tenant}:hourly:{YYYYMMDDHH} - points ingested in the hour (expires 48h)
//	usage:{tenant}:daily:{YYYYMMDD}    - points ingested in the day (expires 7d)
//	usage:{tenant}:monthly:{YYYYMM}    - points ingested in the month (expires 62d)
//	usage:{tenant}:storage             - bytes written to the store
//	usage:{tenant}:instances           - hash of ingest instance -> last seen unix time
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// ErrUntracked is returned for quota types not kept in Redis.
var ErrUntracked = errors.New("quota type not tracked by usage counters")

const (
	hourlyTTL  = 48 * time.Hour
	dailyTTL   = 7 * 24 * time.Hour
	monthlyTTL = 62 * 24 * time.Hour
)

// Stats is the full set of counters for one tenant.
type Stats struct {
	TenantID      string    `json:"tenantId"`
	IngestHourly  int64     `json:"ingestHourly"`
	IngestDaily   int64     `json:"ingestDaily"`
	IngestMonthly int64     `json:"ingestMonthly"`
	StorageBytes  int64     `json:"storageBytes"`
	RetrievedAt   time.Time `json:"retrievedAt"`
}

// Value returns the counter backing qt. ok is false for quota types not
// kept in Redis.
func (s *Stats) Value(qt models.QuotaType) (v int64, ok bool) {
	switch qt {
	case models.QuotaIngestHourly:
		return s.IngestHourly, true
	case models.QuotaIngestDaily:
		return s.IngestDaily, true
	case models.QuotaIngestMonthly:
		return s.IngestMonthly, true
	case models.QuotaStorage:
		return s.StorageBytes, true
	}
	return 0, false
}

// Client records and reads usage counters.
type Client struct {
	redis      *redis.Client
	instanceID string
	now        func() time.Time
}

// NewClient connects to Redis. instanceID should be unique per ingest
// instance (hostname, pod name).
func NewClient(redisURL, instanceID string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewClientFromRedis(client, instanceID), nil
}

// NewClientFromRedis wraps an existing connection.
func NewClientFromRedis(client *redis.Client, instanceID string) *Client {
	return &Client{
		redis:      client,
		instanceID: instanceID,
		now:        time.Now,
	}
}

func hourlyKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("usage:%s:hourly:%s", tenantID, t.UTC().Format("2006010215"))
}

func dailyKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("usage:%s:daily:%s", tenantID, t.UTC().Format("20060102"))
}

func monthlyKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("usage:%s:monthly:%s", tenantID, t.UTC().Format("200601"))
}

func storageKey(tenantID string) string {
	return fmt.Sprintf("usage:%s:storage", tenantID)
}

func instancesKey(tenantID string) string {
	return fmt.Sprintf("usage:%s:instances", tenantID)
}

// RecordIngest adds points to the tenant's hourly, daily and monthly counters.
func (c *Client) RecordIngest(ctx context.Context, tenantID string, points int64) error {
	if points <= 0 {
		return nil
	}
	now := c.now()

	pipe := c.redis.Pipeline()

	hk := hourlyKey(tenantID, now)
	pipe.IncrBy(ctx, hk, points)
	pipe.Expire(ctx, hk, hourlyTTL)

	dk := dailyKey(tenantID, now)
	pipe.IncrBy(ctx, dk, points)
	pipe.Expire(ctx, dk, dailyTTL)

	mk := monthlyKey(tenantID, now)
	pipe.IncrBy(ctx, mk, points)
	pipe.Expire(ctx, mk, monthlyTTL)

	ik := instancesKey(tenantID)
	pipe.HSet(ctx, ik, c.instanceID, strconv.FormatInt(now.Unix(), 10))
	pipe.Expire(ctx, ik, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record ingest usage: %w", err)
	}
	return nil
}

// RecordStorage adds written bytes to the tenant's storage counter.
func (c *Client) RecordStorage(ctx context.Context, tenantID string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if err := c.redis.IncrBy(ctx, storageKey(tenantID), bytes).Err(); err != nil {
		return fmt.Errorf("failed to record storage usage: %w", err)
	}
	return nil
}

// Usage returns the current value of one counter.
func (c *Client) Usage(ctx context.Context, tenantID string, qt models.QuotaType) (int64, error) {
	var key string
	now := c.now()
	switch qt {
	case models.QuotaIngestHourly:
		key = hourlyKey(tenantID, now)
	case models.QuotaIngestDaily:
		key = dailyKey(tenantID, now)
	case models.QuotaIngestMonthly:
		key = monthlyKey(tenantID, now)
	case models.QuotaStorage:
		key = storageKey(tenantID)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUntracked, qt)
	}

	v, err := c.redis.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s usage: %w", qt, err)
	}
	return v, nil
}

// GetStats reads every counter for a tenant in one round trip.
func (c *Client) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	now := c.now()

	pipe := c.redis.Pipeline()
	hourly := pipe.Get(ctx, hourlyKey(tenantID, now))
	daily := pipe.Get(ctx, dailyKey(tenantID, now))
	monthly := pipe.Get(ctx, monthlyKey(tenantID, now))
	storage := pipe.Get(ctx, storageKey(tenantID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}

	return &Stats{
		TenantID:      tenantID,
		IngestHourly:  intOrZero(hourly),
		IngestDaily:   intOrZero(daily),
		IngestMonthly: intOrZero(monthly),
		StorageBytes:  intOrZero(storage),
		RetrievedAt:   now,
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int64 {
	v, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return v
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}
