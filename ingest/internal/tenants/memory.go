package tenants

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// MemoryDirectory is an in-process Directory for tests and single-node
// development.
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]models.Tenant
	plans   map[string]models.PlanLimits
	keys    map[string]memoryKey // by key hash
}

type memoryKey struct {
	id       string
	tenantID string
	revoked  bool
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenants: make(map[string]models.Tenant),
		plans:   make(map[string]models.PlanLimits),
		keys:    make(map[string]memoryKey),
	}
}

func (d *MemoryDirectory) PutPlan(name string, limits models.PlanLimits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plans[name] = maps.Clone(limits)
}

func (d *MemoryDirectory) PutTenant(t models.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.ID] = t
}

// AddKey registers apiKey for tenantID and returns the key ID.
func (d *MemoryDirectory) AddKey(tenantID, apiKey string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New().String()
	d.keys[HashKey(apiKey)] = memoryKey{id: id, tenantID: tenantID}
	return id
}

func (d *MemoryDirectory) RevokeKey(apiKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := HashKey(apiKey)
	if k, ok := d.keys[h]; ok {
		k.revoked = true
		d.keys[h] = k
	}
}

func (d *MemoryDirectory) ValidateKey(_ context.Context, apiKey string) (*models.KeyValidation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	k, ok := d.keys[HashKey(apiKey)]
	if !ok || k.revoked {
		return &models.KeyValidation{Valid: false}, nil
	}
	t, ok := d.tenants[k.tenantID]
	if !ok {
		return &models.KeyValidation{Valid: false}, nil
	}
	return &models.KeyValidation{
		Valid:    true,
		TenantID: t.ID,
		Schema:   t.Schema,
		Plan:     t.Plan,
		APIKeyID: k.id,
		Metered:  t.Metered,
	}, nil
}

func (d *MemoryDirectory) GetTenant(_ context.Context, tenantID string) (*models.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return &t, nil
}

func (d *MemoryDirectory) ActiveTenants(_ context.Context) ([]models.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := slices.Collect(maps.Values(d.tenants))
	slices.SortFunc(out, func(a, b models.Tenant) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (d *MemoryDirectory) PlanLimits(_ context.Context, plan string) (models.PlanLimits, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	limits, ok := d.plans[plan]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, plan)
	}
	return maps.Clone(limits), nil
}

func (d *MemoryDirectory) CountAPIKeys(_ context.Context, tenantID string) (int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int64
	for _, k := range d.keys {
		if k.tenantID == tenantID && !k.revoked {
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (d *MemoryDirectory) Ping(context.Context) error {
	return nil
}

var _ Directory = (*MemoryDirectory)(nil)
