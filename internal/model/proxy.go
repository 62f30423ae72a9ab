package model

import (
	"fmt"
	"time"
)

// SelectionPolicy is a reverse-proxy target's backend-selection strategy.
type SelectionPolicy string

const (
	PolicyRoundRobin       SelectionPolicy = "round_robin"
	PolicyLeastConnections SelectionPolicy = "least_connections"
	PolicyWeighted         SelectionPolicy = "weighted"
	PolicyIPHash           SelectionPolicy = "ip_hash"
	PolicyHealthBased      SelectionPolicy = "health_based"
)

func (p SelectionPolicy) Valid() error {
	switch p {
	case PolicyRoundRobin, PolicyLeastConnections, PolicyWeighted, PolicyIPHash, PolicyHealthBased:
		return nil
	default:
		return fmt.Errorf("unsupported selection policy %q", string(p))
	}
}

// BackendStatus is a backend's health/availability state.
type BackendStatus string

const (
	BackendHealthy     BackendStatus = "healthy"
	BackendUnhealthy   BackendStatus = "unhealthy"
	BackendDraining    BackendStatus = "draining"
	BackendMaintenance BackendStatus = "maintenance"
)

func (s BackendStatus) Valid() error {
	switch s {
	case BackendHealthy, BackendUnhealthy, BackendDraining, BackendMaintenance:
		return nil
	default:
		return fmt.Errorf("unknown backend status %q", string(s))
	}
}

// Backend is a concrete (host, port) pair behind a proxy target.
type Backend struct {
	ID                 string        `json:"id"`
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Weight             int           `json:"weight"`
	MaxConnections     int           `json:"max_connections"`
	CurrentConnections int64         `json:"current_connections"`
	Status             BackendStatus `json:"status"`
	LastHealthCheck    time.Time     `json:"last_health_check"`
	ResponseTimeEMA    time.Duration `json:"response_time_ema"`
	SuccessCount       int64         `json:"success_count"`
	ErrorCount         int64         `json:"error_count"`
}

// Addr is the dial target "host:port".
func (b *Backend) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// HealthRatio is success / (success + error), 1.0 when neither has ever
// been recorded (a fresh backend is assumed healthy).
func (b *Backend) HealthRatio() float64 {
	total := b.SuccessCount + b.ErrorCount
	if total == 0 {
		return 1.0
	}
	return float64(b.SuccessCount) / float64(total)
}

// Selectable reports whether the backend can be chosen by the selector
// for the next request: maintenance and draining backends are never
// selectable, and a backend at its max_connections is treated as
// unhealthy for that request until a connection frees up.
func (b *Backend) Selectable() bool {
	if b.Status != BackendHealthy {
		return false
	}
	if b.MaxConnections > 0 && b.CurrentConnections >= int64(b.MaxConnections) {
		return false
	}
	return true
}

// ProxyTarget is a named backend pool sharing a selection policy.
type ProxyTarget struct {
	Name                    string          `json:"name"`
	Policy                  SelectionPolicy `json:"policy"`
	HealthCheckPath         string          `json:"health_check_path"`
	HealthCheckInterval     time.Duration   `json:"health_check_interval"`
	HealthCheckTimeout      time.Duration   `json:"health_check_timeout"`
	MaxRetries              int             `json:"max_retries"`
	RetryDelay              time.Duration   `json:"retry_delay"`
	CircuitBreakerThreshold int             `json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration   `json:"circuit_breaker_timeout"`
	StickySessions          bool            `json:"sticky_sessions"`
}

func (t *ProxyTarget) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target name is required")
	}
	return t.Policy.Valid()
}
