package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudreap/cloudreap/config"
	"github.com/cloudreap/cloudreap/executor"
	"github.com/cloudreap/cloudreap/gateway"
	"github.com/cloudreap/cloudreap/tracking"
	"github.com/cloudreap/cloudreap/types"
)

// fakeGateway serves canned resource lists per tenant and records deletes.
type fakeGateway struct {
	mu        sync.Mutex
	authFails map[string]bool
	resources map[string]map[types.ResourceType][]types.Resource
	listFails map[string]map[types.ResourceType]bool
	deleted   []string
}

func (g *fakeGateway) Authenticate(ctx context.Context, authURL, tenant string, cred types.Credential) (gateway.Session, error) {
	if g.authFails[tenant] {
		return nil, &gateway.AuthError{Tenant: tenant, Username: cred.Username, Err: errors.New("bad password")}
	}
	return &fakeSession{gw: g, tenant: tenant}, nil
}

type fakeSession struct {
	gw     *fakeGateway
	tenant string
}

func (s *fakeSession) List(ctx context.Context, t types.ResourceType) ([]types.Resource, error) {
	if s.gw.listFails[s.tenant][t] {
		return nil, &gateway.TransientError{Op: "list", Err: errors.New("compute api down")}
	}
	return s.gw.resources[s.tenant][t], nil
}

func (s *fakeSession) Delete(ctx context.Context, t types.ResourceType, id string) error {
	s.gw.mu.Lock()
	defer s.gw.mu.Unlock()
	s.gw.deleted = append(s.gw.deleted, s.tenant+"/"+id)
	return nil
}

func (g *fakeGateway) deletedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deleted...)
}

func testConfig(t *testing.T, tenants ...string) *config.Config {
	t.Helper()

	cfg := &config.Config{
		General: config.GeneralConfig{
			RunEvery:               "1h",
			MaxSimultaneousDeletes: 2,
			TrackingDatabase:       filepath.Join(t.TempDir(), "tracking.db"),
		},
	}
	for _, tenant := range tenants {
		cfg.Cleanup = append(cfg.Cleanup, config.CleanupSpec{
			AuthURL:     "https://keystone.example.com:5000/v2.0",
			Tenant:      tenant,
			Credentials: []types.Credential{{Username: "cleaner", Password: "secret"}},
			Instances:   &config.ResourcePolicy{RemoveIfOlderThan: "1d"},
			Images:      &config.ResourcePolicy{RemoveIfOlderThan: "31d", RemoveOnlyIfUnused: true},
		})
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, gw gateway.Gateway) (*Runner, *executor.Pool, *tracking.Store) {
	t.Helper()

	store, err := tracking.Open(cfg.General.TrackingDatabase, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var r *Runner
	pool := executor.NewPool(gw, store, cfg.General.MaxSimultaneousDeletes, zerolog.Nop(),
		func(task executor.Task, outcome types.Outcome) { r.HandleResult(task, outcome) })
	r = New(cfg, gw, store, pool, zerolog.Nop())

	pool.Start(context.Background())
	t.Cleanup(pool.Shutdown)

	return r, pool, store
}

func oldInstance(id string) types.Resource {
	return types.Resource{
		ID:        id,
		Name:      "vm-" + id,
		Type:      types.TypeInstance,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}
}

func TestRunOnceDeletesStaleResources(t *testing.T) {
	cfg := testConfig(t, "sandbox")
	gw := &fakeGateway{
		resources: map[string]map[types.ResourceType][]types.Resource{
			"sandbox": {
				types.TypeInstance: {
					oldInstance("stale"),
					{ID: "fresh", Name: "vm-fresh", Type: types.TypeInstance, CreatedAt: time.Now().Add(-time.Hour)},
				},
				types.TypeImage: {
					{ID: "busy", Name: "img-busy", Type: types.TypeImage, CreatedAt: time.Now().Add(-40 * 24 * time.Hour), InUse: true},
				},
			},
		},
	}

	r, _, store := newRunner(t, cfg, gw)
	report := r.RunOnce(context.Background())

	assert.Equal(t, []string{"sandbox/stale"}, gw.deletedIDs())
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 3, report.ResourcesListed)
	assert.False(t, report.Incomplete)

	row, found := store.Get("sandbox", types.TypeInstance, "stale")
	require.True(t, found)
	assert.Equal(t, types.OutcomeSuccess, row.Outcome)

	// The in-use image was observed, not attacked.
	row, found = store.Get("sandbox", types.TypeImage, "busy")
	require.True(t, found)
	assert.Equal(t, 0, row.Attempts)
}

func TestRunContinuesPastFailingTenant(t *testing.T) {
	cfg := testConfig(t, "broken", "healthy")
	gw := &fakeGateway{
		authFails: map[string]bool{"broken": true},
		resources: map[string]map[types.ResourceType][]types.Resource{
			"healthy": {types.TypeInstance: {oldInstance("stale")}},
		},
	}

	r, _, _ := newRunner(t, cfg, gw)
	report := r.RunOnce(context.Background())

	assert.Equal(t, 1, report.TenantsFailed)
	assert.Equal(t, []string{"healthy/stale"}, gw.deletedIDs(), "healthy tenant must still be cleaned")
	assert.Equal(t, 1, report.Deleted)
}

func TestRunContinuesPastFailingResourceType(t *testing.T) {
	cfg := testConfig(t, "sandbox")
	gw := &fakeGateway{
		listFails: map[string]map[types.ResourceType]bool{
			"sandbox": {types.TypeInstance: true},
		},
		resources: map[string]map[types.ResourceType][]types.Resource{
			"sandbox": {
				types.TypeImage: {
					{ID: "dusty", Name: "img-dusty", Type: types.TypeImage, CreatedAt: time.Now().Add(-40 * 24 * time.Hour)},
				},
			},
		},
	}

	r, _, _ := newRunner(t, cfg, gw)
	report := r.RunOnce(context.Background())

	assert.Equal(t, []string{"sandbox/dusty"}, gw.deletedIDs(), "images must be cleaned even when instance listing fails")
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 0, report.TenantsFailed)
}

func TestSecondRunSkipsAlreadyDeleted(t *testing.T) {
	cfg := testConfig(t, "sandbox")
	gw := &fakeGateway{
		resources: map[string]map[types.ResourceType][]types.Resource{
			"sandbox": {types.TypeInstance: {oldInstance("stale")}},
		},
	}

	r, _, _ := newRunner(t, cfg, gw)
	first := r.RunOnce(context.Background())
	require.Equal(t, 1, first.Deleted)

	// Resource gone from the cloud after deletion.
	gw.resources["sandbox"][types.TypeInstance] = nil

	second := r.RunOnce(context.Background())
	assert.Equal(t, 0, second.Candidates)
	assert.Equal(t, 0, second.Deleted)
	assert.Len(t, gw.deletedIDs(), 1, "no duplicate delete calls across runs")
}

func TestCancelledRunIsIncomplete(t *testing.T) {
	cfg := testConfig(t, "sandbox")
	gw := &fakeGateway{}

	r, _, _ := newRunner(t, cfg, gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := r.RunOnce(ctx)

	assert.True(t, report.Incomplete)
	assert.Empty(t, gw.deletedIDs())
}
