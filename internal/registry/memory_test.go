package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

func TestMemory_ServiceRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	svc := &model.Service{Name: "web", ServiceType: model.ServiceTypeWeb, Status: model.ServiceStatusStopped, MaxReplicas: 1}
	if err := m.UpsertService(ctx, svc, time.Minute); err != nil {
		t.Fatalf("UpsertService: %v", err)
	}

	got, err := m.GetService(ctx, "web")
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if got.Name != svc.Name || got.ServiceType != svc.ServiceType || got.Status != svc.Status {
		t.Fatalf("round-tripped service mismatch: %+v vs %+v", got, svc)
	}
	if got.Revision != 1 {
		t.Fatalf("expected first revision to be 1, got %d", got.Revision)
	}

	if err := m.UpsertService(ctx, svc, time.Minute); err != nil {
		t.Fatalf("second UpsertService: %v", err)
	}
	got2, _ := m.GetService(ctx, "web")
	if got2.Revision != 2 {
		t.Fatalf("expected revision to bump to 2, got %d", got2.Revision)
	}
}

func TestMemory_ServiceTTLEviction(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	svc := &model.Service{Name: "ephemeral", ServiceType: model.ServiceTypeUtility, Status: model.ServiceStatusStopped}
	if err := m.UpsertService(ctx, svc, time.Millisecond); err != nil {
		t.Fatalf("UpsertService: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := m.GetService(ctx, "ephemeral"); !errors.Is(err, orcherr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL expiry, got %v", err)
	}

	evicted := m.EvictExpiredServices(time.Now())
	_ = evicted // GetService only hides the expired entry; the explicit reaper is what deletes it
}

func TestMemory_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetService(context.Background(), "missing")
	if !errors.Is(err, orcherr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_ScalingEventsCapped(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < maxScalingEvents+10; i++ {
		ev := &model.ScalingEvent{ServiceName: "app", Direction: model.ScalingDirectionUp, Timestamp: time.Now()}
		if err := m.AppendScalingEvent(ctx, ev); err != nil {
			t.Fatalf("AppendScalingEvent: %v", err)
		}
	}
	events, err := m.ListScalingEvents(ctx, "app", 0)
	if err != nil {
		t.Fatalf("ListScalingEvents: %v", err)
	}
	if len(events) != maxScalingEvents {
		t.Fatalf("expected events capped at %d, got %d", maxScalingEvents, len(events))
	}
}

func TestMemory_RoundRobinIndexWraps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seen := make([]int, 5)
	for i := range seen {
		idx, err := m.NextRoundRobinIndex(ctx, "t1", 3)
		if err != nil {
			t.Fatalf("NextRoundRobinIndex: %v", err)
		}
		seen[i] = idx
	}
	want := []int{0, 1, 2, 0, 1}
	for i, v := range seen {
		if v != want[i] {
			t.Fatalf("index[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestMemory_ProxyTargetRejectsUnknownPolicy(t *testing.T) {
	m := NewMemory()
	err := m.UpsertProxyTarget(context.Background(), &model.ProxyTarget{Name: "t", Policy: "bogus"})
	if !errors.Is(err, orcherr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMemory_ShutdownRuleValidation(t *testing.T) {
	m := NewMemory()
	err := m.UpsertShutdownRule(context.Background(), &model.ShutdownRule{
		Name: "bad", Condition: model.ConditionSchedule, Action: model.ActionStop,
	})
	if !errors.Is(err, orcherr.ErrValidation) {
		t.Fatalf("expected ErrValidation for schedule rule missing cron/time-ranges, got %v", err)
	}
}

func TestMemory_MetricsRetentionTrims(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	old := model.MetricsPoint{Timestamp: now.Add(-2 * time.Hour)}
	fresh := model.MetricsPoint{Timestamp: now}

	if err := m.AppendMetrics(ctx, "svc", old, time.Hour); err != nil {
		t.Fatalf("AppendMetrics: %v", err)
	}
	if err := m.AppendMetrics(ctx, "svc", fresh, time.Hour); err != nil {
		t.Fatalf("AppendMetrics: %v", err)
	}

	pts, err := m.ListMetrics(ctx, "svc")
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(pts) != 1 {
		t.Fatalf("expected stale point trimmed on append, got %d points", len(pts))
	}
}
