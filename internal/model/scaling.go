package model

import (
	"fmt"
	"time"
)

// ScalingPolicy configures the Auto-Scaler's per-axis thresholds, cooldown,
// and prediction behavior for one service.
type ScalingPolicy struct {
	ServiceName string `json:"service_name"`
	Enabled     bool   `json:"enabled"`

	CPUScaleUpThreshold     float64 `json:"cpu_scale_up_threshold"`
	MemoryScaleUpThreshold  float64 `json:"memory_scale_up_threshold"`
	NetworkScaleUpThreshold float64 `json:"network_scale_up_threshold"`

	CPUScaleDownThreshold     float64 `json:"cpu_scale_down_threshold"`
	MemoryScaleDownThreshold  float64 `json:"memory_scale_down_threshold"`
	NetworkScaleDownThreshold float64 `json:"network_scale_down_threshold"`

	ScaleUpCooldown   time.Duration `json:"scale_up_cooldown"`
	ScaleDownCooldown time.Duration `json:"scale_down_cooldown"`

	EvaluationPeriods  int           `json:"evaluation_periods"`
	EvaluationInterval time.Duration `json:"evaluation_interval"`

	MinReplicas int `json:"min_replicas"`
	MaxReplicas int `json:"max_replicas"`

	EnablePrediction bool `json:"enable_prediction"`
}

// Validate enforces the policy's invariants: down < up on every axis,
// and cooldowns must be at least as long as the evaluation interval.
func (p *ScalingPolicy) Validate() error {
	if p.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if p.MinReplicas > p.MaxReplicas {
		return fmt.Errorf("min_replicas %d > max_replicas %d", p.MinReplicas, p.MaxReplicas)
	}
	axes := []struct {
		name       string
		down, up   float64
	}{
		{"cpu", p.CPUScaleDownThreshold, p.CPUScaleUpThreshold},
		{"memory", p.MemoryScaleDownThreshold, p.MemoryScaleUpThreshold},
		{"network", p.NetworkScaleDownThreshold, p.NetworkScaleUpThreshold},
	}
	for _, a := range axes {
		if a.down >= a.up {
			return fmt.Errorf("%s scale_down_threshold (%.2f) must be < scale_up_threshold (%.2f)", a.name, a.down, a.up)
		}
	}
	if p.EvaluationInterval <= 0 {
		return fmt.Errorf("evaluation_interval must be positive")
	}
	if p.ScaleUpCooldown < p.EvaluationInterval {
		return fmt.Errorf("scale_up_cooldown must be >= evaluation_interval")
	}
	if p.ScaleDownCooldown < p.EvaluationInterval {
		return fmt.Errorf("scale_down_cooldown must be >= evaluation_interval")
	}
	return nil
}

// ScalingDirection is the Auto-Scaler's evaluation outcome.
type ScalingDirection string

const (
	ScalingDirectionUp   ScalingDirection = "up"
	ScalingDirectionDown ScalingDirection = "down"
	ScalingDirectionNone ScalingDirection = "none"
)

// ScalingTrigger names what caused a ScalingEvent.
type ScalingTrigger string

const (
	ScalingTriggerCPU      ScalingTrigger = "cpu_threshold"
	ScalingTriggerMemory   ScalingTrigger = "memory_threshold"
	ScalingTriggerNetwork  ScalingTrigger = "network_threshold"
	ScalingTriggerManual   ScalingTrigger = "manual"
)

// MetricsPoint is one sample in a service's metrics ring buffer.
type MetricsPoint struct {
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	NetworkInMbps   float64   `json:"network_in_mbps"`
	NetworkOutMbps  float64   `json:"network_out_mbps"`
	RequestRate     float64   `json:"request_rate"`
	ResponseTimeMs  float64   `json:"response_time_ms"`
	ErrorRate       float64   `json:"error_rate"`
	QueueLength     int       `json:"queue_length"`
	Timestamp       time.Time `json:"timestamp"`
}

// ScalingEvent is an append-only audit record bound to a service.
type ScalingEvent struct {
	ID            string           `json:"id"`
	ServiceName   string           `json:"service_name"`
	Direction     ScalingDirection `json:"direction"`
	Trigger       ScalingTrigger   `json:"trigger"`
	FromReplicas  int              `json:"from_replicas"`
	ToReplicas    int              `json:"to_replicas"`
	Timestamp     time.Time        `json:"timestamp"`
	Success       bool             `json:"success"`
	ErrorMessage  string           `json:"error_message,omitempty"`
}
