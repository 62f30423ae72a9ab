package autoscaler

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
	startCalls []string
	stopCalls  []string
	failStart  bool
}

func (f *fakeOrchestrator) Start(_ context.Context, name string, _ bool) error {
	f.startCalls = append(f.startCalls, name)
	if f.failStart {
		return assertError{}
	}
	return nil
}

func (f *fakeOrchestrator) Stop(_ context.Context, name string, _ bool) error {
	f.stopCalls = append(f.stopCalls, name)
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func newTestScaler(t *testing.T, store registry.Store, orch Orchestrator) *AutoScaler {
	t.Helper()
	return New(runtime.NewFakeAdapter(), store, orch, hookbus.New(zerolog.Nop()), nil, DefaultConfig(), zerolog.Nop())
}

func TestPredict_RisingTrend(t *testing.T) {
	series := []float64{10, 20, 30, 40, 50}
	got := predict(series, 10)
	assert.Greater(t, got, 50.0)
}

func TestPredict_EmptySeries(t *testing.T) {
	assert.Equal(t, 0.0, predict(nil, 10))
}

func TestPredict_NeverNegative(t *testing.T) {
	series := []float64{50, 40, 30, 20, 10, 0}
	got := predict(series, 10)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestMeansOf(t *testing.T) {
	window := []model.MetricsPoint{
		{CPUPercent: 10, MemoryPercent: 20, NetworkInMbps: 1, NetworkOutMbps: 2},
		{CPUPercent: 30, MemoryPercent: 40, NetworkInMbps: 3, NetworkOutMbps: 1},
	}
	cpu, mem, net := meansOf(window)
	assert.Equal(t, 20.0, cpu)
	assert.Equal(t, 30.0, mem)
	assert.Equal(t, 2.5, net) // max(1,2)=2, max(3,1)=3 -> mean(2,3)=2.5
}

func TestEvaluate_ScalesUpWhenCPUExceedsThreshold(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()

	svc := &model.Service{Name: "web", ServiceType: model.ServiceTypeWeb, Status: model.ServiceStatusRunning, ContainerID: "c1", MinReplicas: 1, MaxReplicas: 5, CurrentReplicas: 1}
	require.NoError(t, store.UpsertService(ctx, svc, 0))

	policy := &model.ScalingPolicy{
		ServiceName: "web", Enabled: true,
		CPUScaleUpThreshold: 70, MemoryScaleUpThreshold: 90, NetworkScaleUpThreshold: 100,
		CPUScaleDownThreshold: 10, MemoryScaleDownThreshold: 10, NetworkScaleDownThreshold: 10,
		ScaleUpCooldown: time.Minute, ScaleDownCooldown: time.Minute,
		EvaluationPeriods: 2, EvaluationInterval: time.Minute,
		MinReplicas: 1, MaxReplicas: 5,
	}
	require.NoError(t, store.UpsertScalingPolicy(ctx, policy))

	now := time.Now()
	require.NoError(t, store.AppendMetrics(ctx, "web", model.MetricsPoint{CPUPercent: 90, Timestamp: now.Add(-time.Minute)}, time.Hour))
	require.NoError(t, store.AppendMetrics(ctx, "web", model.MetricsPoint{CPUPercent: 95, Timestamp: now}, time.Hour))

	orch := &fakeOrchestrator{}
	scaler := newTestScaler(t, store, orch)
	scaler.evaluate(ctx, policy)

	updated, err := store.GetService(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.CurrentReplicas)
	assert.Equal(t, []string{"web"}, orch.startCalls)

	events, err := store.ListScalingEvents(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ScalingDirectionUp, events[0].Direction)
	assert.True(t, events[0].Success)
}

func TestEvaluate_RespectsCooldown(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()

	svc := &model.Service{Name: "web", Status: model.ServiceStatusRunning, ContainerID: "c1", MaxReplicas: 5, CurrentReplicas: 1}
	require.NoError(t, store.UpsertService(ctx, svc, 0))
	require.NoError(t, store.AppendScalingEvent(ctx, &model.ScalingEvent{ServiceName: "web", Timestamp: time.Now(), Success: true}))

	policy := &model.ScalingPolicy{
		ServiceName: "web", Enabled: true,
		CPUScaleUpThreshold: 1, MemoryScaleUpThreshold: 1, NetworkScaleUpThreshold: 1,
		ScaleUpCooldown: time.Hour, ScaleDownCooldown: time.Hour,
		EvaluationPeriods: 1, EvaluationInterval: time.Minute,
		MaxReplicas: 5,
	}

	orch := &fakeOrchestrator{}
	scaler := newTestScaler(t, store, orch)
	scaler.evaluate(ctx, policy)

	assert.Empty(t, orch.startCalls)
}

func TestManualScale_BypassesCooldown(t *testing.T) {
	store := registry.NewMemory()
	ctx := context.Background()
	svc := &model.Service{Name: "web", Status: model.ServiceStatusRunning, ContainerID: "c1", MaxReplicas: 5, CurrentReplicas: 1}
	require.NoError(t, store.UpsertService(ctx, svc, 0))
	require.NoError(t, store.AppendScalingEvent(ctx, &model.ScalingEvent{ServiceName: "web", Timestamp: time.Now(), Success: true}))

	orch := &fakeOrchestrator{}
	scaler := newTestScaler(t, store, orch)
	require.NoError(t, scaler.ManualScale(ctx, "web", 3))

	events, err := store.ListScalingEvents(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.ScalingTriggerManual, events[1].Trigger)
}
