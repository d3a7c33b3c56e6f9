package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-metrics/common/logging"
	"github.com/telhawk-systems/telhawk-metrics/common/messaging"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/tenants"
	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/usage"
)

type fakeUsage struct {
	mu     sync.Mutex
	values map[string]map[models.QuotaType]int64
	fail   map[string]error
	block  map[string]bool
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{
		values: make(map[string]map[models.QuotaType]int64),
		fail:   make(map[string]error),
		block:  make(map[string]bool),
	}
}

func (f *fakeUsage) set(tenantID string, qt models.QuotaType, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[tenantID] == nil {
		f.values[tenantID] = make(map[models.QuotaType]int64)
	}
	f.values[tenantID][qt] = v
}

func (f *fakeUsage) Usage(ctx context.Context, tenantID string, qt models.QuotaType) (int64, error) {
	f.mu.Lock()
	err, block := f.fail[tenantID], f.block[tenantID]
	v := f.values[tenantID][qt]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []models.QuotaAlert
}

func (r *recordingSink) PublishAlert(_ context.Context, a models.QuotaAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingSink) byTenant(id string) []models.QuotaAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.QuotaAlert
	for _, a := range r.alerts {
		if a.TenantID == id {
			out = append(out, a)
		}
	}
	return out
}

func setupMonitor(t *testing.T) (*Monitor, *tenants.MemoryDirectory, *fakeUsage, *recordingSink) {
	t.Helper()
	dir := tenants.NewMemoryDirectory()
	dir.PutPlan("free", models.PlanLimits{
		models.QuotaIngestHourly:  {Value: models.Unlimited, HardCap: true},
		models.QuotaIngestDaily:   {Value: 100, HardCap: true},
		models.QuotaIngestMonthly: {Value: 1000, HardCap: true},
		models.QuotaAPIKeys:       {Value: 2, HardCap: true},
		models.QuotaStorage:       {Value: 100},
	})

	usage := newFakeUsage()
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.LookupTimeout = 200 * time.Millisecond
	m := NewMonitor(dir, CombinedUsage{Counters: usage, Keys: dir}, sink, logging.Discard(), cfg)
	return m, dir, usage, sink
}

func TestMonitor_RunCycleEmitsAlerts(t *testing.T) {
	m, dir, usage, sink := setupMonitor(t)
	dir.PutTenant(models.Tenant{ID: "warn", Plan: "free"})
	dir.PutTenant(models.Tenant{ID: "crit", Plan: "free"})
	dir.PutTenant(models.Tenant{ID: "over", Plan: "free"})
	dir.PutTenant(models.Tenant{ID: "fine", Plan: "free"})

	usage.set("warn", models.QuotaIngestDaily, 81)
	usage.set("crit", models.QuotaIngestDaily, 96)
	usage.set("over", models.QuotaIngestDaily, 100)
	usage.set("fine", models.QuotaIngestDaily, 10)
	usage.set("fine", models.QuotaIngestHourly, 1<<40)

	require.NoError(t, m.RunCycle(context.Background()))

	warn := sink.byTenant("warn")
	require.Len(t, warn, 1)
	assert.Equal(t, models.SeverityWarning, warn[0].Severity)
	assert.False(t, warn[0].Exceeded)

	crit := sink.byTenant("crit")
	require.Len(t, crit, 1)
	assert.Equal(t, models.SeverityCritical, crit[0].Severity)
	assert.False(t, crit[0].Exceeded)

	over := sink.byTenant("over")
	require.Len(t, over, 1)
	assert.Equal(t, models.SeverityCritical, over[0].Severity)
	assert.True(t, over[0].Exceeded)
	assert.False(t, over[0].EmittedAt.IsZero())

	assert.Empty(t, sink.byTenant("fine"))
}

func TestMonitor_APIKeyQuotaFromDirectory(t *testing.T) {
	m, dir, _, sink := setupMonitor(t)
	dir.PutTenant(models.Tenant{ID: "keys", Plan: "free"})
	dir.AddKey("keys", "a")
	dir.AddKey("keys", "b")

	require.NoError(t, m.RunCycle(context.Background()))

	alerts := sink.byTenant("keys")
	require.Len(t, alerts, 1)
	assert.Equal(t, models.QuotaAPIKeys, alerts[0].QuotaType)
	assert.True(t, alerts[0].Exceeded)
}

func TestMonitor_FailuresAreIsolated(t *testing.T) {
	m, dir, usage, sink := setupMonitor(t)
	dir.PutTenant(models.Tenant{ID: "broken", Plan: "free"})
	dir.PutTenant(models.Tenant{ID: "slow", Plan: "free"})
	dir.PutTenant(models.Tenant{ID: "noplan", Plan: "platinum"})
	dir.PutTenant(models.Tenant{ID: "healthy", Plan: "free"})

	usage.fail["broken"] = errors.New("redis down")
	usage.block["slow"] = true
	usage.set("healthy", models.QuotaIngestDaily, 99)

	start := time.Now()
	require.NoError(t, m.RunCycle(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, sink.byTenant("healthy"), 1)
	assert.Empty(t, sink.byTenant("broken"))
	assert.Empty(t, sink.byTenant("slow"))
}

type failingSource struct{ *tenants.MemoryDirectory }

func (failingSource) ActiveTenants(context.Context) ([]models.Tenant, error) {
	return nil, errors.New("db down")
}

func TestMonitor_RunCycleListFailure(t *testing.T) {
	dir := tenants.NewMemoryDirectory()
	m := NewMonitor(failingSource{dir}, newFakeUsage(), nil, logging.Discard(), DefaultConfig())
	assert.Error(t, m.RunCycle(context.Background()))
}

func TestMonitor_NoHysteresis(t *testing.T) {
	m, dir, usage, sink := setupMonitor(t)
	dir.PutTenant(models.Tenant{ID: "flap", Plan: "free"})
	ctx := context.Background()

	usage.set("flap", models.QuotaIngestDaily, 80)
	require.NoError(t, m.RunCycle(ctx))
	usage.set("flap", models.QuotaIngestDaily, 79)
	require.NoError(t, m.RunCycle(ctx))
	usage.set("flap", models.QuotaIngestDaily, 80)
	require.NoError(t, m.RunCycle(ctx))

	assert.Len(t, sink.byTenant("flap"), 2)
}

func TestMonitor_CheckTenant(t *testing.T) {
	m, dir, usage, _ := setupMonitor(t)
	dir.PutTenant(models.Tenant{ID: "t1", Plan: "free"})
	ctx := context.Background()

	usage.set("t1", models.QuotaIngestDaily, 40)
	usage.set("t1", models.QuotaIngestMonthly, 500)
	status, err := m.CheckTenant(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, int64(60), status.Remaining)
	assert.Empty(t, status.Reason)

	usage.set("t1", models.QuotaIngestDaily, 100)
	status, err = m.CheckTenant(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, int64(0), status.Remaining)
	assert.Contains(t, status.Reason, string(models.QuotaIngestDaily))

	_, err = m.CheckTenant(ctx, "missing")
	assert.ErrorIs(t, err, tenants.ErrTenantNotFound)

	_, err = m.CheckTenant(ctx, "")
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestMonitor_CheckTenantWithRedisCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	counters := usage.NewClientFromRedis(rdb, "quota-test")

	dir := tenants.NewMemoryDirectory()
	dir.PutPlan("free", models.PlanLimits{
		models.QuotaIngestDaily: {Value: 100, HardCap: true},
		models.QuotaAPIKeys:     {Value: 2, HardCap: true},
		models.QuotaStorage:     {Value: 1000, HardCap: true},
	})
	dir.PutTenant(models.Tenant{ID: "t1", Plan: "free"})
	dir.AddKey("t1", "tk_one")

	combined := CombinedUsage{Counters: counters, Keys: dir}
	m := NewMonitor(dir, combined, nil, logging.Discard(), DefaultConfig())
	ctx := context.Background()

	require.NoError(t, counters.RecordIngest(ctx, "t1", 30))
	require.NoError(t, counters.RecordStorage(ctx, "t1", 400))

	reader, err := combined.Prefetch(ctx, "t1")
	require.NoError(t, err)
	v, err := reader.Usage(ctx, "t1", models.QuotaStorage)
	require.NoError(t, err)
	assert.Equal(t, int64(400), v)
	v, err = reader.Usage(ctx, "t1", models.QuotaAPIKeys)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	status, err := m.CheckTenant(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Equal(t, int64(70), status.Remaining)

	require.NoError(t, counters.RecordStorage(ctx, "t1", 600))
	status, err = m.CheckTenant(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Contains(t, status.Reason, string(models.QuotaStorage))
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m, dir, usage, sink := setupMonitor(t)
	dir.PutTenant(models.Tenant{ID: "t1", Plan: "free"})
	usage.set("t1", models.QuotaIngestDaily, 90)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 20*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sink.byTenant("t1")) >= 2 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type topicRecorder struct {
	topics []string
}

func (r *topicRecorder) Publish(_ context.Context, topic string, _ any) error {
	r.topics = append(r.topics, topic)
	return nil
}

func TestBusSink_Routing(t *testing.T) {
	rec := &topicRecorder{}
	sink := BusSink{Publisher: rec}
	ctx := context.Background()

	require.NoError(t, sink.PublishAlert(ctx, models.QuotaAlert{Severity: models.SeverityWarning}))
	require.NoError(t, sink.PublishAlert(ctx, models.QuotaAlert{Severity: models.SeverityCritical}))
	require.NoError(t, sink.PublishAlert(ctx, models.QuotaAlert{Severity: models.SeverityCritical, Exceeded: true}))

	assert.Equal(t, []string{
		messaging.SubjectQuotaWarning,
		messaging.SubjectQuotaWarning,
		messaging.SubjectQuotaExceeded,
	}, rec.topics)
}
