// Package tenants resolves API keys, tenants and plan limits.
package tenants

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrPlanNotFound   = errors.New("plan not found")
)

// Directory is the read side of the tenant store.
type Directory interface {
	// ValidateKey resolves a raw API key. Unknown or revoked keys return
	// Valid=false with a nil error; errors are reserved for lookup failures.
	ValidateKey(ctx context.Context, apiKey string) (*models.KeyValidation, error)
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	ActiveTenants(ctx context.Context) ([]models.Tenant, error)
	PlanLimits(ctx context.Context, plan string) (models.PlanLimits, error)
	CountAPIKeys(ctx context.Context, tenantID string) (int64, error)
}

// HashKey returns the stored form of an API key.
func HashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
