package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

type ttlEntry[T any] struct {
	value    T
	expireAt time.Time // zero means never expires
}

func (e ttlEntry[T]) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// Memory is an in-process Store, read-mostly with single-producer writes
// per record. It is the default store and the one used by every
// control-loop unit test.
type Memory struct {
	mu sync.RWMutex

	services    map[string]ttlEntry[*model.Service]
	metrics     map[string][]model.MetricsPoint
	configs     map[string]*model.ContainerConfig
	statuses    map[string]ttlEntry[*model.ContainerStatus]
	policies    map[string]*model.ScalingPolicy
	events      map[string][]*model.ScalingEvent
	targets     map[string]*model.ProxyTarget
	rrCounters  map[string]int
	rules       map[string]*model.ShutdownRule
	shutdownLog map[string][]*model.ShutdownLog

	metricsRetention map[string]time.Duration
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		services:         make(map[string]ttlEntry[*model.Service]),
		metrics:          make(map[string][]model.MetricsPoint),
		configs:          make(map[string]*model.ContainerConfig),
		statuses:         make(map[string]ttlEntry[*model.ContainerStatus]),
		policies:         make(map[string]*model.ScalingPolicy),
		events:           make(map[string][]*model.ScalingEvent),
		targets:          make(map[string]*model.ProxyTarget),
		rrCounters:       make(map[string]int),
		rules:            make(map[string]*model.ShutdownRule),
		shutdownLog:      make(map[string][]*model.ShutdownLog),
		metricsRetention: make(map[string]time.Duration),
	}
}

func (m *Memory) Close() error { return nil }

// --- Services ---

func (m *Memory) UpsertService(_ context.Context, svc *model.Service, ttl time.Duration) error {
	if svc == nil || svc.Name == "" {
		return orcherr.Validation("registry.UpsertService", "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *svc
	if existing, ok := m.services[svc.Name]; ok && existing.value != nil {
		cp.Revision = existing.value.Revision + 1
	} else {
		cp.Revision = 1
	}

	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	m.services[svc.Name] = ttlEntry[*model.Service]{value: &cp, expireAt: expireAt}
	return nil
}

func (m *Memory) GetService(_ context.Context, name string) (*model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.services[name]
	if !ok || e.expired(time.Now()) {
		return nil, orcherr.NotFound("registry.GetService", name, nil)
	}
	cp := *e.value
	return &cp, nil
}

func (m *Memory) ListServices(_ context.Context) ([]*model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	out := make([]*model.Service, 0, len(m.services))
	for _, e := range m.services {
		if e.expired(now) {
			continue
		}
		cp := *e.value
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteService(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, name)
	return nil
}

// EvictExpiredServices removes services whose TTL has elapsed and returns
// their names, used by Discovery's cleanup loop.
func (m *Memory) EvictExpiredServices(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted []string
	for name, e := range m.services {
		if e.expired(now) {
			evicted = append(evicted, name)
			delete(m.services, name)
		}
	}
	return evicted
}

// --- Metrics ---

func (m *Memory) AppendMetrics(_ context.Context, service string, pt model.MetricsPoint, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[service] = append(m.metrics[service], pt)
	m.metricsRetention[service] = retention
	m.trimMetricsLocked(service, time.Now())
	return nil
}

func (m *Memory) trimMetricsLocked(service string, now time.Time) {
	retention, ok := m.metricsRetention[service]
	if !ok || retention <= 0 {
		return
	}
	cutoff := now.Add(-retention)
	pts := m.metrics[service]
	i := 0
	for i < len(pts) && pts[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.metrics[service] = append([]model.MetricsPoint(nil), pts[i:]...)
	}
}

func (m *Memory) ListMetrics(_ context.Context, service string) ([]model.MetricsPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pts := m.metrics[service]
	out := make([]model.MetricsPoint, len(pts))
	copy(out, pts)
	return out, nil
}

func (m *Memory) TrimMetricsBefore(_ context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for service := range m.metrics {
		m.trimMetricsLocked(service, before.Add(m.metricsRetention[service]))
	}
	return nil
}

// --- Container configs / status ---

func (m *Memory) UpsertContainerConfig(_ context.Context, cfg *model.ContainerConfig) error {
	if cfg == nil || cfg.Name == "" {
		return orcherr.Validation("registry.UpsertContainerConfig", "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.configs[cfg.Name] = &cp
	return nil
}

func (m *Memory) GetContainerConfig(_ context.Context, name string) (*model.ContainerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	if !ok {
		return nil, orcherr.NotFound("registry.GetContainerConfig", name, nil)
	}
	cp := *cfg
	return &cp, nil
}

func (m *Memory) ListContainerConfigs(_ context.Context) ([]*model.ContainerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ContainerConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpsertContainerStatus(_ context.Context, status *model.ContainerStatus, ttl time.Duration) error {
	if status == nil || status.Name == "" {
		return orcherr.Validation("registry.UpsertContainerStatus", "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	cp := *status
	m.statuses[status.Name] = ttlEntry[*model.ContainerStatus]{value: &cp, expireAt: expireAt}
	return nil
}

func (m *Memory) GetContainerStatus(_ context.Context, name string) (*model.ContainerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.statuses[name]
	if !ok || e.expired(time.Now()) {
		return nil, orcherr.NotFound("registry.GetContainerStatus", name, nil)
	}
	cp := *e.value
	return &cp, nil
}

// --- Scaling policies / events ---

func (m *Memory) UpsertScalingPolicy(_ context.Context, p *model.ScalingPolicy) error {
	if p == nil || p.ServiceName == "" {
		return orcherr.Validation("registry.UpsertScalingPolicy", "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.policies[p.ServiceName] = &cp
	return nil
}

func (m *Memory) GetScalingPolicy(_ context.Context, service string) (*model.ScalingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[service]
	if !ok {
		return nil, orcherr.NotFound("registry.GetScalingPolicy", service, nil)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListScalingPolicies(_ context.Context) ([]*model.ScalingPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ScalingPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out, nil
}

const maxScalingEvents = 100

func (m *Memory) AppendScalingEvent(_ context.Context, ev *model.ScalingEvent) error {
	if ev == nil || ev.ServiceName == "" {
		return orcherr.Validation("registry.AppendScalingEvent", "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.events[ev.ServiceName], ev)
	if len(list) > maxScalingEvents {
		list = list[len(list)-maxScalingEvents:]
	}
	m.events[ev.ServiceName] = list
	return nil
}

func (m *Memory) ListScalingEvents(_ context.Context, service string, limit int) ([]*model.ScalingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.events[service]
	if limit > 0 && limit < len(list) {
		list = list[len(list)-limit:]
	}
	out := make([]*model.ScalingEvent, len(list))
	copy(out, list)
	return out, nil
}

// --- Proxy targets ---

func (m *Memory) UpsertProxyTarget(_ context.Context, t *model.ProxyTarget) error {
	if t == nil {
		return orcherr.Validation("registry.UpsertProxyTarget", "", nil)
	}
	if err := t.Validate(); err != nil {
		return orcherr.Validation("registry.UpsertProxyTarget", t.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.targets[t.Name] = &cp
	return nil
}

func (m *Memory) GetProxyTarget(_ context.Context, name string) (*model.ProxyTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[name]
	if !ok {
		return nil, orcherr.NotFound("registry.GetProxyTarget", name, nil)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListProxyTargets(_ context.Context) ([]*model.ProxyTarget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ProxyTarget, 0, len(m.targets))
	for _, t := range m.targets {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) NextRoundRobinIndex(_ context.Context, target string, modulus int) (int, error) {
	if modulus <= 0 {
		return 0, orcherr.Validation("registry.NextRoundRobinIndex", target, nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.rrCounters[target] % modulus
	m.rrCounters[target] = idx + 1
	return idx, nil
}

// --- Shutdown rules / logs ---

func (m *Memory) UpsertShutdownRule(_ context.Context, r *model.ShutdownRule) error {
	if r == nil || r.Name == "" {
		return orcherr.Validation("registry.UpsertShutdownRule", "", nil)
	}
	if err := r.Validate(); err != nil {
		return orcherr.Validation("registry.UpsertShutdownRule", r.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.ID == "" {
		cp.ID = cp.Name
	}
	m.rules[cp.ID] = &cp
	return nil
}

func (m *Memory) ListShutdownRules(_ context.Context) ([]*model.ShutdownRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ShutdownRule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AppendShutdownLog(_ context.Context, l *model.ShutdownLog) error {
	if l == nil || l.RuleID == "" {
		return orcherr.Validation("registry.AppendShutdownLog", "", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLog[l.RuleID] = append(m.shutdownLog[l.RuleID], l)
	return nil
}

func (m *Memory) ListShutdownLogs(_ context.Context, ruleID string, limit int) ([]*model.ShutdownLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.shutdownLog[ruleID]
	if limit > 0 && limit < len(list) {
		list = list[len(list)-limit:]
	}
	out := make([]*model.ShutdownLog, len(list))
	copy(out, list)
	return out, nil
}

var _ Store = (*Memory)(nil)
