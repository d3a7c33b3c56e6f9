package tenants

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/common/database"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

const (
	testTenantID = "11111111-1111-1111-1111-111111111111"
	testKeyID    = "22222222-2222-2222-2222-222222222222"
	testAPIKey   = "thm_test_key"
)

// setupTestDatabase starts PostgreSQL, applies the migrations and seeds
// one tenant with one key.
func setupTestDatabase(t *testing.T) *PostgresDirectory {
	if testing.Short() {
		t.Skip("skipping testcontainers test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("telhawk_metrics_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dir, err := NewPostgresDirectory(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(dir.Close)

	migrations, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	status, err := database.MigrateUp(ctx, migrations, connStr)
	require.NoError(t, err)
	require.Equal(t, uint(1), status.Version)

	_, err = dir.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, plan, schema_name, metered) VALUES ($1, 'Acme', 'free', 'tenant_acme', TRUE)`,
		testTenantID)
	require.NoError(t, err)
	_, err = dir.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, key_hash, name) VALUES ($1, $2, $3, 'default')`,
		testKeyID, testTenantID, HashKey(testAPIKey))
	require.NoError(t, err)

	return dir
}

func TestPostgresDirectory(t *testing.T) {
	dir := setupTestDatabase(t)
	ctx := context.Background()

	t.Run("valid key", func(t *testing.T) {
		v, err := dir.ValidateKey(ctx, testAPIKey)
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Equal(t, testTenantID, v.TenantID)
		assert.Equal(t, testKeyID, v.APIKeyID)
		assert.Equal(t, "tenant_acme", v.Schema)
		assert.Equal(t, "free", v.Plan)
		assert.True(t, v.Metered)
	})

	t.Run("unknown key", func(t *testing.T) {
		v, err := dir.ValidateKey(ctx, "bogus")
		require.NoError(t, err)
		assert.False(t, v.Valid)
	})

	t.Run("plan limits", func(t *testing.T) {
		limits, err := dir.PlanLimits(ctx, "free")
		require.NoError(t, err)
		assert.Equal(t, models.Limit{Value: 100000, HardCap: true}, limits.Get(models.QuotaIngestDaily))
		assert.Equal(t, int64(2), limits.Get(models.QuotaAPIKeys).Value)

		_, err = dir.PlanLimits(ctx, "platinum")
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("tenants", func(t *testing.T) {
		tenants, err := dir.ActiveTenants(ctx)
		require.NoError(t, err)
		require.Len(t, tenants, 1)
		assert.Equal(t, "Acme", tenants[0].Name)

		tenant, err := dir.GetTenant(ctx, testTenantID)
		require.NoError(t, err)
		assert.Equal(t, "free", tenant.Plan)

		_, err = dir.GetTenant(ctx, "33333333-3333-3333-3333-333333333333")
		assert.ErrorIs(t, err, ErrTenantNotFound)
	})

	t.Run("count and revoke", func(t *testing.T) {
		n, err := dir.CountAPIKeys(ctx, testTenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = dir.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = NOW() WHERE id = $1`, testKeyID)
		require.NoError(t, err)

		n, err = dir.CountAPIKeys(ctx, testTenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		v, err := dir.ValidateKey(ctx, testAPIKey)
		require.NoError(t, err)
		assert.False(t, v.Valid)
	})
}
