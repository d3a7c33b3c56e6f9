package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-metrics/common/database"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// PostgresDirectory reads tenants, keys and plans from PostgreSQL.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory connects and pings the database.
func NewPostgresDirectory(ctx context.Context, connString string) (*PostgresDirectory, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDirectory{pool: pool}, nil
}

func (d *PostgresDirectory) Close() {
	d.pool.Close()
}

// Ping checks the database connection.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *PostgresDirectory) ValidateKey(ctx context.Context, apiKey string) (*models.KeyValidation, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT k.id, t.id, t.schema_name, t.plan, t.metered
		FROM api_keys k
		JOIN tenants t ON t.id = k.tenant_id
		WHERE k.key_hash = $1
		  AND k.revoked_at IS NULL
		  AND t.status = 'active'`

	var v models.KeyValidation
	err := d.pool.QueryRow(ctx, query, HashKey(apiKey)).Scan(
		&v.APIKeyID, &v.TenantID, &v.Schema, &v.Plan, &v.Metered,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.KeyValidation{Valid: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate api key: %w", err)
	}

	v.Valid = true
	return &v, nil
}

func (d *PostgresDirectory) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT id, name, plan, schema_name, metered
		FROM tenants
		WHERE id = $1 AND status = 'active'`

	var t models.Tenant
	err := d.pool.QueryRow(ctx, query, tenantID).Scan(&t.ID, &t.Name, &t.Plan, &t.Schema, &t.Metered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

func (d *PostgresDirectory) ActiveTenants(ctx context.Context) ([]models.Tenant, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := d.pool.Query(ctx, `
		SELECT id, name, plan, schema_name, metered
		FROM tenants
		WHERE status = 'active'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Plan, &t.Schema, &t.Metered); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return tenants, nil
}

func (d *PostgresDirectory) PlanLimits(ctx context.Context, plan string) (models.PlanLimits, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT ingest_hourly, ingest_daily, ingest_monthly, api_keys, storage_bytes, storage_hard_cap
		FROM plans
		WHERE name = $1`

	var (
		hourly, daily, monthly, keys, storage int64
		storageHard                           bool
	)
	err := d.pool.QueryRow(ctx, query, plan).Scan(&hourly, &daily, &monthly, &keys, &storage, &storageHard)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, plan)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan limits: %w", err)
	}

	return models.PlanLimits{
		models.QuotaIngestHourly:  {Value: hourly, HardCap: true},
		models.QuotaIngestDaily:   {Value: daily, HardCap: true},
		models.QuotaIngestMonthly: {Value: monthly, HardCap: true},
		models.QuotaAPIKeys:       {Value: keys, HardCap: true},
		models.QuotaStorage:       {Value: storage, HardCap: storageHard},
	}, nil
}

func (d *PostgresDirectory) CountAPIKeys(ctx context.Context, tenantID string) (int64, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var n int64
	err := d.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE tenant_id = $1 AND revoked_at IS NULL`,
		tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return n, nil
}

var _ Directory = (*PostgresDirectory)(nil)
