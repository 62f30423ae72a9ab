package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

type fakeProber struct {
	result bool
}

func (p *fakeProber) Probe(context.Context, model.Endpoint, time.Duration) bool {
	return p.result
}

func newTestDiscovery(adapter *runtime.FakeAdapter, store registry.Store, prober HealthProber) *Discovery {
	cfg := DefaultConfig()
	return New(adapter, store, hookbus.New(zerolog.Nop()), prober, cfg, zerolog.Nop())
}

func TestBuildService_RequiredLabel(t *testing.T) {
	adapter := runtime.NewFakeAdapter()
	adapter.Seed(runtime.ContainerSummary{
		ID:   "c1",
		Name: "web",
		Labels: map[string]string{
			"selfstart.enable": "true",
			"selfstart.type":   "web",
			"selfstart.port":   "8080",
		},
		State: "running",
	})
	adapter.Seed(runtime.ContainerSummary{
		ID:     "c2",
		Name:   "unrelated",
		Labels: map[string]string{},
		State:  "running",
	})

	store := registry.NewMemory()
	d := newTestDiscovery(adapter, store, nil)
	d.discoveryTick(context.Background())

	services, err := store.ListServices(context.Background())
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "web", services[0].Name)
	assert.Equal(t, model.ServiceTypeWeb, services[0].ServiceType)
	assert.Equal(t, 8080, services[0].Endpoints[0].Port)
	assert.Equal(t, model.ServiceStatusRunning, services[0].Status)
}

func TestResolveHost_PrefersProjectNetwork(t *testing.T) {
	c := runtime.ContainerSummary{
		Name: "svc",
		Networks: map[string]string{
			"bridge":          "172.17.0.2",
			"myproj_default":  "10.0.0.5",
		},
	}
	assert.Equal(t, "10.0.0.5", resolveHost(c, "myproj"))
}

func TestResolveHost_FallsBackToName(t *testing.T) {
	c := runtime.ContainerSummary{Name: "svc"}
	assert.Equal(t, "svc", resolveHost(c, "myproj"))
}

func TestHealthTick_TransitionsRunningToUnhealthy(t *testing.T) {
	store := registry.NewMemory()
	svc := &model.Service{
		Name:        "web",
		ContainerID: "c1",
		ServiceType: model.ServiceTypeWeb,
		Status:      model.ServiceStatusRunning,
		Endpoints:   []model.Endpoint{{Protocol: "http", Host: "web", Port: 80, HealthPath: "/health"}},
	}
	require.NoError(t, store.UpsertService(context.Background(), svc, time.Minute))

	prober := &fakeProber{result: false}
	d := newTestDiscovery(runtime.NewFakeAdapter(), store, prober)
	d.healthTick(context.Background())

	got, err := store.GetService(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusUnhealthy, got.Status)
	assert.Equal(t, 0.0, got.HealthScore)
}

func TestHealthTick_RecoversUnhealthyToRunning(t *testing.T) {
	store := registry.NewMemory()
	svc := &model.Service{
		Name:        "web",
		ContainerID: "c1",
		ServiceType: model.ServiceTypeWeb,
		Status:      model.ServiceStatusUnhealthy,
		Endpoints:   []model.Endpoint{{Protocol: "http", Host: "web", Port: 80, HealthPath: "/health"}},
	}
	require.NoError(t, store.UpsertService(context.Background(), svc, time.Minute))

	prober := &fakeProber{result: true}
	d := newTestDiscovery(runtime.NewFakeAdapter(), store, prober)
	d.healthTick(context.Background())

	got, err := store.GetService(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, model.ServiceStatusRunning, got.Status)
}

func TestCleanupTick_EvictsExpired(t *testing.T) {
	store := registry.NewMemory()
	svc := &model.Service{
		Name:        "stale",
		ContainerID: "c1",
		ServiceType: model.ServiceTypeWeb,
		Status:      model.ServiceStatusRunning,
		LastSeen:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, store.UpsertService(context.Background(), svc, 0))

	d := newTestDiscovery(runtime.NewFakeAdapter(), store, nil)
	d.cfg.ServiceTTL = time.Minute
	d.cleanupTick(context.Background())

	_, err := store.GetService(context.Background(), "stale")
	assert.Error(t, err)
}
