// Package model defines the data model shared by every control loop:
// services, container state, scaling policy, metrics points, shutdown
// rules, proxy targets/backends, and the audit record types. Every
// enumeration is a string-based tagged type with a fixed constant set and
// a Valid() method, rejecting unknown wire values at parse time rather
// than silently coercing them.
package model

import (
	"fmt"
	"time"
)

// ServiceType classifies a discovered Service.
type ServiceType string

const (
	ServiceTypeWeb        ServiceType = "web"
	ServiceTypeAPI        ServiceType = "api"
	ServiceTypeDatabase   ServiceType = "database"
	ServiceTypeCache      ServiceType = "cache"
	ServiceTypeQueue      ServiceType = "queue"
	ServiceTypeMonitoring ServiceType = "monitoring"
	ServiceTypeUtility    ServiceType = "utility"
)

func (t ServiceType) Valid() error {
	switch t {
	case ServiceTypeWeb, ServiceTypeAPI, ServiceTypeDatabase, ServiceTypeCache,
		ServiceTypeQueue, ServiceTypeMonitoring, ServiceTypeUtility:
		return nil
	default:
		return fmt.Errorf("unknown service_type %q", string(t))
	}
}

// ServiceStatus is the discovery-observed health/lifecycle status.
type ServiceStatus string

const (
	ServiceStatusRunning   ServiceStatus = "running"
	ServiceStatusStarting  ServiceStatus = "starting"
	ServiceStatusStopped   ServiceStatus = "stopped"
	ServiceStatusUnhealthy ServiceStatus = "unhealthy"
	ServiceStatusUnknown   ServiceStatus = "unknown"
)

func (s ServiceStatus) Valid() error {
	switch s {
	case ServiceStatusRunning, ServiceStatusStarting, ServiceStatusStopped,
		ServiceStatusUnhealthy, ServiceStatusUnknown:
		return nil
	default:
		return fmt.Errorf("unknown status %q", string(s))
	}
}

// Endpoint is one network surface a Service exposes.
type Endpoint struct {
	Protocol   string `json:"protocol"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Path       string `json:"path,omitempty"`
	HealthPath string `json:"health_path,omitempty"`
}

// Service is a logical workload discovered from the runtime via labels.
type Service struct {
	Name        string      `json:"name"`
	ContainerID string      `json:"container_id"`
	ServiceType ServiceType `json:"service_type"`
	Labels      map[string]string `json:"labels,omitempty"`

	Endpoints    []Endpoint `json:"endpoints"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`

	Status      ServiceStatus `json:"status"`
	HealthScore float64       `json:"health_score"`

	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`

	AutoScaleEnabled bool `json:"auto_scale_enabled"`
	MinReplicas      int  `json:"min_replicas"`
	MaxReplicas      int  `json:"max_replicas"`
	CurrentReplicas  int  `json:"current_replicas"`

	// Revision is bumped by the store on every UpsertService; nothing in
	// this module reads it back or compares it.
	Revision uint64 `json:"revision"`
}

// Validate enforces the service's invariants: min <= current <= max
// replicas, and status=running implies a non-empty container id.
func (s *Service) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if err := s.ServiceType.Valid(); err != nil {
		return err
	}
	if err := s.Status.Valid(); err != nil {
		return err
	}
	if s.MinReplicas > s.MaxReplicas {
		return fmt.Errorf("min_replicas %d > max_replicas %d", s.MinReplicas, s.MaxReplicas)
	}
	if s.CurrentReplicas < s.MinReplicas || s.CurrentReplicas > s.MaxReplicas {
		return fmt.Errorf("current_replicas %d out of [%d,%d]", s.CurrentReplicas, s.MinReplicas, s.MaxReplicas)
	}
	if s.Status == ServiceStatusRunning && s.ContainerID == "" {
		return fmt.Errorf("status running requires a non-empty container_id")
	}
	return nil
}

// Expired reports whether last_seen has aged past ttl.
func (s *Service) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastSeen) > ttl
}
