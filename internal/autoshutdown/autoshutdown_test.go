package autoshutdown

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

type fakeOrchestrator struct {
	startCalls   []string
	stopCalls    []string
	restartCalls []string
}

func (f *fakeOrchestrator) Start(_ context.Context, name string, _ bool) error {
	f.startCalls = append(f.startCalls, name)
	return nil
}

func (f *fakeOrchestrator) Stop(_ context.Context, name string, _ bool) error {
	f.stopCalls = append(f.stopCalls, name)
	return nil
}

func (f *fakeOrchestrator) Restart(_ context.Context, name string) error {
	f.restartCalls = append(f.restartCalls, name)
	return nil
}

type fakeProbe struct {
	connections map[string]int64
}

func (f *fakeProbe) ActiveConnections(service string) int64 { return f.connections[service] }

func newTestAutoShutdown(t *testing.T, store registry.Store, orch Orchestrator, probe ActivityProbe) *AutoShutdown {
	t.Helper()
	return New(runtime.NewFakeAdapter(), store, orch, hookbus.New(zerolog.Nop()), probe, DefaultConfig(), zerolog.Nop())
}

func TestTargetSet_IncludeExcludeAndTags(t *testing.T) {
	services := []*model.Service{
		{Name: "web-1"},
		{Name: "web-2"},
		{Name: "db-1", Labels: map[string]string{labelTags: "batch,nightly"}},
	}
	filter := model.ContainerFilter{Include: []string{"web-*"}, Exclude: []string{"web-2"}}
	out := targetSet(filter, services)
	require.Len(t, out, 1)
	assert.Equal(t, "web-1", out[0].Name)

	tagFilter := model.ContainerFilter{Tags: []string{"batch"}}
	out = targetSet(tagFilter, services)
	require.Len(t, out, 1)
	assert.Equal(t, "db-1", out[0].Name)
}

func TestIsProtected_MinUptime(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	require.NoError(t, store.UpsertContainerStatus(ctx, &model.ContainerStatus{Name: "web", StartedAt: &started}, 0))

	a := newTestAutoShutdown(t, store, &fakeOrchestrator{}, nil)
	rule := &model.ShutdownRule{ID: "r1", Name: "r1", MinUptime: time.Hour}
	svc := &model.Service{Name: "web"}
	assert.True(t, a.isProtected(ctx, rule, svc))

	rule.MinUptime = time.Second
	assert.False(t, a.isProtected(ctx, rule, svc))
}

func TestIsProtected_ActiveConnections(t *testing.T) {
	store := registry.NewMemory()
	probe := &fakeProbe{connections: map[string]int64{"web": 3}}
	a := newTestAutoShutdown(t, store, &fakeOrchestrator{}, probe)

	rule := &model.ShutdownRule{ID: "r1", Name: "r1", ProtectIfConnected: true}
	svc := &model.Service{Name: "web"}
	assert.True(t, a.isProtected(context.Background(), rule, svc))
}

func TestEvaluateLowResources_BelowCeiling(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.AppendMetrics(ctx, "web", model.MetricsPoint{CPUPercent: 2, MemoryPercent: 5, Timestamp: time.Now()}, time.Hour))

	a := newTestAutoShutdown(t, store, &fakeOrchestrator{}, nil)
	rule := &model.ShutdownRule{ID: "r1", Name: "r1", Condition: model.ConditionLowResources,
		Thresholds: model.ShutdownThresholds{CPUPercent: 10, MemoryPercent: 10}}
	met, err := a.evaluateLowResources(ctx, rule, &model.Service{Name: "web"})
	require.NoError(t, err)
	assert.True(t, met)
}

func TestEvaluateLowResources_IgnoresNetwork(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.AppendMetrics(ctx, "web", model.MetricsPoint{
		CPUPercent: 2, MemoryPercent: 5, NetworkOutMbps: 9999, Timestamp: time.Now(),
	}, time.Hour))

	a := newTestAutoShutdown(t, store, &fakeOrchestrator{}, nil)
	rule := &model.ShutdownRule{ID: "r1", Name: "r1", Condition: model.ConditionLowResources,
		Thresholds: model.ShutdownThresholds{CPUPercent: 10, MemoryPercent: 10, NetworkMbps: 1}}
	met, err := a.evaluateLowResources(ctx, rule, &model.Service{Name: "web"})
	require.NoError(t, err)
	assert.True(t, met, "low_resources must not factor in network throughput")
}

func TestEvaluateIdleTime_RequiresZeroConnections(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.AppendMetrics(ctx, "web", model.MetricsPoint{
		CPUPercent: 1, NetworkInMbps: 0.1, NetworkOutMbps: 0.1, Timestamp: time.Now(),
	}, time.Hour))

	rule := &model.ShutdownRule{ID: "r1", Name: "r1", Condition: model.ConditionIdleTime,
		Thresholds: model.ShutdownThresholds{CPUPercent: 10, NetworkMbps: 1}}

	busy := &fakeProbe{connections: map[string]int64{"web": 1}}
	a := newTestAutoShutdown(t, store, &fakeOrchestrator{}, busy)
	met, err := a.evaluateIdleTime(ctx, rule, &model.Service{Name: "web"})
	require.NoError(t, err)
	assert.False(t, met, "idle_time must require zero active connections")

	idle := &fakeProbe{connections: map[string]int64{}}
	a2 := newTestAutoShutdown(t, store, &fakeOrchestrator{}, idle)
	met, err = a2.evaluateIdleTime(ctx, rule, &model.Service{Name: "web"})
	require.NoError(t, err)
	assert.True(t, met)
}

func TestIsProtected_UploadingByThroughput(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.AppendMetrics(ctx, "web", model.MetricsPoint{NetworkOutMbps: 50, Timestamp: time.Now()}, time.Hour))

	a := newTestAutoShutdown(t, store, &fakeOrchestrator{}, nil)
	rule := &model.ShutdownRule{ID: "r1", Name: "r1", ProtectIfUploading: true,
		Thresholds: model.ShutdownThresholds{NetworkMbps: 1}}
	svc := &model.Service{Name: "web"}
	assert.True(t, a.isProtected(ctx, rule, svc))
}

func TestEvaluateSchedule_TimeRange(t *testing.T) {
	a := newTestAutoShutdown(t, registry.NewMemory(), &fakeOrchestrator{}, nil)
	rule := &model.ShutdownRule{
		ID: "r1", Name: "r1", Condition: model.ConditionSchedule,
		TimeRanges: []model.TimeRange{{Start: "22:00", End: "06:00"}},
		DaysOfWeek: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday},
	}
	night := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	noon := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	assert.True(t, a.evaluateSchedule(rule, night))
	assert.False(t, a.evaluateSchedule(rule, noon))
}

func TestParseCron_MatchesExpectedMinute(t *testing.T) {
	sched, err := parseCron("30 2 * * *")
	require.NoError(t, err)
	assert.True(t, sched.Matches(time.Date(2026, 1, 5, 2, 30, 0, 0, time.UTC)))
	assert.False(t, sched.Matches(time.Date(2026, 1, 5, 2, 31, 0, 0, time.UTC)))
}

func TestParseCron_StepAndRange(t *testing.T) {
	sched, err := parseCron("*/15 9-17 * * 1-5")
	require.NoError(t, err)
	assert.True(t, sched.Matches(time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC))) // Monday
	assert.False(t, sched.Matches(time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)))
	assert.False(t, sched.Matches(time.Date(2026, 1, 4, 9, 15, 0, 0, time.UTC))) // Sunday
}

func TestEvaluateOne_GracePeriodThenAction(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	orch := &fakeOrchestrator{}
	a := newTestAutoShutdown(t, store, orch, nil)

	rule := &model.ShutdownRule{
		ID: "r1", Name: "r1", Enabled: true,
		Condition: model.ConditionInactivity, Action: model.ActionStop,
		Thresholds:  model.ShutdownThresholds{InactivitySecs: 0},
		GracePeriod: 0,
	}
	svc := &model.Service{Name: "web"}

	a.evaluateOne(ctx, rule, svc)
	assert.Contains(t, orch.stopCalls, "web")

	logs, err := store.ListShutdownLogs(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
}

func TestEvaluateOne_ProtectedNeverActs(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	orch := &fakeOrchestrator{}
	probe := &fakeProbe{connections: map[string]int64{"web": 1}}
	a := newTestAutoShutdown(t, store, orch, probe)

	rule := &model.ShutdownRule{
		ID: "r1", Name: "r1", Enabled: true,
		Condition: model.ConditionInactivity, Action: model.ActionStop,
		ProtectIfConnected: true,
		GracePeriod:        0,
	}
	svc := &model.Service{Name: "web"}

	a.evaluateOne(ctx, rule, svc)
	assert.Empty(t, orch.stopCalls)
}

func TestExecuteAction_ScaleDownHalves(t *testing.T) {
	store := registry.NewMemory()
	orch := &fakeOrchestrator{}
	a := newTestAutoShutdown(t, store, orch, nil)

	svc := &model.Service{Name: "web", CurrentReplicas: 4, MinReplicas: 1}
	require.NoError(t, a.executeAction(context.Background(), &model.ShutdownRule{Action: model.ActionScaleDown}, svc))
	assert.Equal(t, 2, svc.CurrentReplicas)
	assert.Contains(t, orch.stopCalls, "web")
}
