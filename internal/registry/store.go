// Package registry implements the Registry Store: the durable KV+TTL and
// small relational tier that owns the canonical copy of services,
// policies, rules, and events. Two implementations satisfy the same
// Store interface: an in-memory store used by default and by tests,
// and a modernc.org/sqlite backed store for the relational tier that
// embeds the in-memory store for the KV surface.
package registry

import (
	"context"
	"time"

	"github.com/cuemby/selfstart/internal/model"
)

// Store is the opaque KV+relational contract, narrowed to the
// operations every control loop actually calls. Every
// control loop is implementation-agnostic against this interface, never
// against a concrete store.
type Store interface {
	// Services (KV, TTL = service_ttl).
	UpsertService(ctx context.Context, svc *model.Service, ttl time.Duration) error
	GetService(ctx context.Context, name string) (*model.Service, error)
	ListServices(ctx context.Context) ([]*model.Service, error)
	DeleteService(ctx context.Context, name string) error

	// Metrics (list-push + trim, TTL = retention).
	AppendMetrics(ctx context.Context, service string, pt model.MetricsPoint, retention time.Duration) error
	ListMetrics(ctx context.Context, service string) ([]model.MetricsPoint, error)
	TrimMetricsBefore(ctx context.Context, before time.Time) error

	// Container configs and orchestrator status.
	UpsertContainerConfig(ctx context.Context, cfg *model.ContainerConfig) error
	GetContainerConfig(ctx context.Context, name string) (*model.ContainerConfig, error)
	ListContainerConfigs(ctx context.Context) ([]*model.ContainerConfig, error)
	UpsertContainerStatus(ctx context.Context, status *model.ContainerStatus, ttl time.Duration) error
	GetContainerStatus(ctx context.Context, name string) (*model.ContainerStatus, error)

	// Scaling policies and events (events capped at 100, 7-day TTL upstream).
	UpsertScalingPolicy(ctx context.Context, p *model.ScalingPolicy) error
	GetScalingPolicy(ctx context.Context, service string) (*model.ScalingPolicy, error)
	ListScalingPolicies(ctx context.Context) ([]*model.ScalingPolicy, error)
	AppendScalingEvent(ctx context.Context, ev *model.ScalingEvent) error
	ListScalingEvents(ctx context.Context, service string, limit int) ([]*model.ScalingEvent, error)

	// Proxy targets.
	UpsertProxyTarget(ctx context.Context, t *model.ProxyTarget) error
	GetProxyTarget(ctx context.Context, name string) (*model.ProxyTarget, error)
	ListProxyTargets(ctx context.Context) ([]*model.ProxyTarget, error)

	// Round robin counter: shared through the store when available;
	// callers fall back to a local atomic counter on StoreError.
	NextRoundRobinIndex(ctx context.Context, target string, modulus int) (int, error)

	// Shutdown rules and logs (relational tier).
	UpsertShutdownRule(ctx context.Context, r *model.ShutdownRule) error
	ListShutdownRules(ctx context.Context) ([]*model.ShutdownRule, error)
	AppendShutdownLog(ctx context.Context, l *model.ShutdownLog) error
	ListShutdownLogs(ctx context.Context, ruleID string, limit int) ([]*model.ShutdownLog, error)

	Close() error
}
