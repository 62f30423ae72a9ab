package model

import (
	"testing"
	"time"
)

func TestService_Validate(t *testing.T) {
	s := &Service{
		Name:            "web",
		ServiceType:     ServiceTypeWeb,
		Status:          ServiceStatusRunning,
		ContainerID:     "abc123",
		MinReplicas:     1,
		MaxReplicas:     3,
		CurrentReplicas: 2,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid service, got %v", err)
	}

	s.ContainerID = ""
	if err := s.Validate(); err == nil {
		t.Fatal("expected error: running status requires container_id")
	}
}

func TestService_Validate_ReplicaBounds(t *testing.T) {
	s := &Service{
		Name: "db", ServiceType: ServiceTypeDatabase, Status: ServiceStatusStopped,
		MinReplicas: 2, MaxReplicas: 1, CurrentReplicas: 1,
	}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error: min > max")
	}
}

func TestService_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Service{LastSeen: now.Add(-31 * time.Second)}
	if !s.Expired(30*time.Second, now) {
		t.Fatal("expected service to be expired")
	}
	if s.Expired(0, now) {
		t.Fatal("ttl<=0 should mean never expires")
	}
}

func TestScalingPolicy_Validate(t *testing.T) {
	p := &ScalingPolicy{
		ServiceName:               "app",
		CPUScaleUpThreshold:       80,
		CPUScaleDownThreshold:     30,
		MemoryScaleUpThreshold:    85,
		MemoryScaleDownThreshold:  40,
		NetworkScaleUpThreshold:   100,
		NetworkScaleDownThreshold: 20,
		EvaluationInterval:        time.Minute,
		ScaleUpCooldown:           5 * time.Minute,
		ScaleDownCooldown:         10 * time.Minute,
		MinReplicas:               1,
		MaxReplicas:               5,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid policy, got %v", err)
	}

	bad := *p
	bad.CPUScaleDownThreshold = 90
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error: down >= up threshold")
	}

	badCooldown := *p
	badCooldown.ScaleUpCooldown = 10 * time.Second
	if err := badCooldown.Validate(); err == nil {
		t.Fatal("expected error: cooldown < evaluation interval")
	}
}

func TestShutdownRule_Validate_ScheduleExclusivity(t *testing.T) {
	base := ShutdownRule{Name: "nightly", Condition: ConditionSchedule, Action: ActionStop}

	neither := base
	if err := neither.Validate(); err == nil {
		t.Fatal("expected error: neither cron nor time ranges set")
	}

	cronOnly := base
	cronOnly.CronExpr = "0 2 * * *"
	if err := cronOnly.Validate(); err != nil {
		t.Fatalf("cron-only should validate: %v", err)
	}

	rangesOnly := base
	rangesOnly.TimeRanges = []TimeRange{{Start: "22:00", End: "23:00"}}
	rangesOnly.DaysOfWeek = []time.Weekday{time.Monday}
	if err := rangesOnly.Validate(); err != nil {
		t.Fatalf("ranges-only should validate: %v", err)
	}

	both := base
	both.CronExpr = "0 2 * * *"
	both.TimeRanges = rangesOnly.TimeRanges
	both.DaysOfWeek = rangesOnly.DaysOfWeek
	if err := both.Validate(); err == nil {
		t.Fatal("expected error: both cron and time ranges set")
	}
}

func TestBackend_HealthRatio(t *testing.T) {
	b := &Backend{}
	if b.HealthRatio() != 1.0 {
		t.Fatalf("fresh backend should default to healthy ratio, got %v", b.HealthRatio())
	}
	b.SuccessCount, b.ErrorCount = 3, 1
	if got := b.HealthRatio(); got != 0.75 {
		t.Fatalf("HealthRatio() = %v, want 0.75", got)
	}
}

func TestBackend_Selectable(t *testing.T) {
	b := &Backend{Status: BackendMaintenance}
	if b.Selectable() {
		t.Fatal("maintenance backend must never be selectable")
	}
	b.Status = BackendDraining
	if b.Selectable() {
		t.Fatal("draining backend must never be selectable")
	}
	b.Status = BackendHealthy
	if !b.Selectable() {
		t.Fatal("healthy backend should be selectable")
	}
}

func TestProxyTarget_Validate_RejectsUnknownPolicy(t *testing.T) {
	target := &ProxyTarget{Name: "web", Policy: SelectionPolicy("bogus")}
	if err := target.Validate(); err == nil {
		t.Fatal("expected error for unsupported policy")
	}
}
