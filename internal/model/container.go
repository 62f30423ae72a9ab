package model

import (
	"fmt"
	"time"
)

// ContainerState is the orchestrator's per-container lifecycle state.
type ContainerState string

const (
	ContainerStateStopped   ContainerState = "stopped"
	ContainerStateStarting  ContainerState = "starting"
	ContainerStateRunning   ContainerState = "running"
	ContainerStateStopping  ContainerState = "stopping"
	ContainerStateError     ContainerState = "error"
	ContainerStateUnhealthy ContainerState = "unhealthy"
)

func (s ContainerState) Valid() error {
	switch s {
	case ContainerStateStopped, ContainerStateStarting, ContainerStateRunning,
		ContainerStateStopping, ContainerStateError, ContainerStateUnhealthy:
		return nil
	default:
		return fmt.Errorf("unknown container state %q", string(s))
	}
}

// CanTransition reports whether the container state machine allows
// moving from s to next. "any -> stopped" (gone-from-runtime) is always
// allowed and handled separately by callers.
func (s ContainerState) CanTransition(next ContainerState) bool {
	switch s {
	case ContainerStateStopped:
		return next == ContainerStateStarting
	case ContainerStateStarting:
		return next == ContainerStateRunning || next == ContainerStateError
	case ContainerStateRunning:
		return next == ContainerStateStopping || next == ContainerStateUnhealthy
	case ContainerStateStopping:
		return next == ContainerStateStopped
	case ContainerStateUnhealthy:
		return next == ContainerStateRunning || next == ContainerStateError
	case ContainerStateError:
		return false
	default:
		return false
	}
}

// HealthCheck describes how the orchestrator's health loop probes a
// managed container: either an HTTP GET or a shell exec with exit==0.
type HealthCheck struct {
	HTTPPath string        `json:"http_path,omitempty"`
	HTTPPort int           `json:"http_port,omitempty"`
	Exec     []string      `json:"exec,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

func (h *HealthCheck) Enabled() bool {
	return h != nil && (h.HTTPPath != "" || len(h.Exec) > 0)
}

// ContainerConfig is a persisted, idempotent-on-name startup declaration.
type ContainerConfig struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Ports           map[int]int       `json:"ports,omitempty"`
	Environment     map[string]string `json:"environment,omitempty"`
	Volumes         map[string]string `json:"volumes,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	Dependencies    []string          `json:"dependencies,omitempty"`
	HealthCheck     *HealthCheck      `json:"health_check,omitempty"`
	RestartPolicy   string            `json:"restart_policy,omitempty"`
	AutoRemove      bool              `json:"auto_remove,omitempty"`
	StartupTimeout  time.Duration     `json:"startup_timeout,omitempty"`
	ShutdownTimeout time.Duration     `json:"shutdown_timeout,omitempty"`
	// Platform pins image selection to an OS/architecture, e.g. when a
	// multi-arch image must be pulled for a specific target (emulated
	// builds, mixed-architecture clusters). Empty fields let the
	// runtime pick its own default.
	Platform ContainerPlatform `json:"platform,omitempty"`
}

// ContainerPlatform names the OS/architecture a ContainerConfig is
// pinned to, mirroring the OCI image-spec platform object.
type ContainerPlatform struct {
	OS           string `json:"os,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Variant      string `json:"variant,omitempty"`
}

// ContainerStatus is the orchestrator's detailed view of a managed
// container, returned by the Status(name) public contract call.
type ContainerStatus struct {
	Name             string         `json:"name"`
	State            ContainerState `json:"state"`
	ContainerID      string         `json:"container_id,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	LastHealthCheck  *time.Time     `json:"last_health_check,omitempty"`
	RestartCount     int            `json:"restart_count"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}
