package tenants

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

func TestHashKey(t *testing.T) {
	assert.Len(t, HashKey("abc"), 64)
	assert.Equal(t, HashKey("abc"), HashKey("abc"))
	assert.NotEqual(t, HashKey("abc"), HashKey("abd"))
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	dir.PutTenant(models.Tenant{ID: "b", Plan: "pro", Schema: "tenant_b", Metered: true})
	dir.PutTenant(models.Tenant{ID: "a", Plan: "free", Schema: "tenant_a"})
	keyID := dir.AddKey("b", "secret")
	dir.AddKey("b", "other")

	v, err := dir.ValidateKey(ctx, "secret")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "b", v.TenantID)
	assert.Equal(t, keyID, v.APIKeyID)
	assert.True(t, v.Metered)

	n, err := dir.CountAPIKeys(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	dir.RevokeKey("secret")
	v, err = dir.ValidateKey(ctx, "secret")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	n, err = dir.CountAPIKeys(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tenants, err := dir.ActiveTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, "a", tenants[0].ID)

	_, err = dir.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
