package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.StartupTimeout = 2 * time.Second
	cfg.DependencyTimeout = 2 * time.Second
	return cfg
}

func newTestOrchestrator() (*Orchestrator, *runtime.FakeAdapter, registry.Store) {
	adapter := runtime.NewFakeAdapter()
	store := registry.NewMemory()
	o := New(adapter, store, hookbus.New(zerolog.Nop()), testConfig(), zerolog.Nop())
	return o, adapter, store
}

func TestRegister_PersistsConfig(t *testing.T) {
	o, _, store := newTestOrchestrator()
	ctx := context.Background()
	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "web", Image: "nginx"}))

	cfg, err := store.GetContainerConfig(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "nginx", cfg.Image)
}

func TestStart_RejectsAlreadyRunningWithoutForce(t *testing.T) {
	o, _, store := newTestOrchestrator()
	ctx := context.Background()
	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "web", Image: "nginx"}))
	require.NoError(t, store.UpsertContainerStatus(ctx, &model.ContainerStatus{Name: "web", State: model.ContainerStateRunning}, time.Hour))

	err := o.Start(ctx, "web", false)
	require.Error(t, err)
	assert.Equal(t, orcherr.KindConflict, orcherr.KindOf(err))
}

func TestStart_RunsPipelineToRunning(t *testing.T) {
	o, adapter, store := newTestOrchestrator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "web", Image: "nginx"}))
	require.NoError(t, o.Start(ctx, "web", false))

	go o.worker(ctx)

	require.Eventually(t, func() bool {
		status, err := store.GetContainerStatus(ctx, "web")
		return err == nil && status.State == model.ContainerStateRunning
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, adapter.StartCalls, 1)
}

func TestStart_QueueFullReturnsBackendError(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	o.cfg.QueueCapacity = 1
	o.queue = make(chan startRequest, 1)
	ctx := context.Background()

	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "a", Image: "x"}))
	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "b", Image: "x"}))

	require.NoError(t, o.Start(ctx, "a", false))
	err := o.Start(ctx, "b", false)
	require.Error(t, err)
	assert.Equal(t, orcherr.KindBackendError, orcherr.KindOf(err))
}

func TestEnsureDependencies_DetectsCycle(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	ctx := context.Background()
	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "a", Image: "x", Dependencies: []string{"b"}}))
	require.NoError(t, o.Register(ctx, &model.ContainerConfig{Name: "b", Image: "x", Dependencies: []string{"a"}}))

	cfg, err := o.store.GetContainerConfig(ctx, "a")
	require.NoError(t, err)
	err = o.ensureDependencies(ctx, cfg, map[string]bool{"a": true})
	require.Error(t, err)
	assert.Equal(t, orcherr.KindValidation, orcherr.KindOf(err))
}

func TestStop_TransitionsToStopped(t *testing.T) {
	o, adapter, store := newTestOrchestrator()
	ctx := context.Background()
	adapter.Seed(runtime.ContainerSummary{ID: "c1", Name: "web", State: "running"})
	require.NoError(t, store.UpsertContainerStatus(ctx, &model.ContainerStatus{
		Name: "web", State: model.ContainerStateRunning, ContainerID: "c1",
	}, time.Hour))

	require.NoError(t, o.Stop(ctx, "web", false))

	status, err := store.GetContainerStatus(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, model.ContainerStateStopped, status.State)
	assert.Empty(t, status.ContainerID)
	assert.Contains(t, adapter.StopCalls, "c1")
}

func TestStatus_NotFound(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	_, err := o.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, orcherr.KindNotFound, orcherr.KindOf(err))
}

func TestHealthTick_MarksUnhealthyAfterTwoFailures(t *testing.T) {
	o, adapter, store := newTestOrchestrator()
	ctx := context.Background()

	cfg := &model.ContainerConfig{
		Name:  "web",
		Image: "nginx",
		HealthCheck: &model.HealthCheck{
			Exec: []string{"false"},
		},
	}
	require.NoError(t, o.Register(ctx, cfg))
	adapter.Seed(runtime.ContainerSummary{ID: "c1", Name: "web", State: "running"})
	adapter.ExecFunc = func(id string, cmd []string) (runtime.ExecResult, error) {
		return runtime.ExecResult{ExitCode: 1}, nil
	}
	require.NoError(t, store.UpsertContainerStatus(ctx, &model.ContainerStatus{
		Name: "web", State: model.ContainerStateRunning, ContainerID: "c1",
	}, time.Hour))

	o.healthTick(ctx)
	status, _ := store.GetContainerStatus(ctx, "web")
	assert.Equal(t, model.ContainerStateRunning, status.State)

	o.healthTick(ctx)
	status, _ = store.GetContainerStatus(ctx, "web")
	assert.Equal(t, model.ContainerStateUnhealthy, status.State)
}
