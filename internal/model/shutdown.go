package model

import (
	"fmt"
	"time"
)

// ShutdownCondition is the trigger kind a ShutdownRule evaluates.
type ShutdownCondition string

const (
	ConditionInactivity   ShutdownCondition = "inactivity"
	ConditionSchedule     ShutdownCondition = "schedule"
	ConditionLowResources ShutdownCondition = "low_resources"
	ConditionIdleTime     ShutdownCondition = "idle_time"
)

func (c ShutdownCondition) Valid() error {
	switch c {
	case ConditionInactivity, ConditionSchedule, ConditionLowResources, ConditionIdleTime:
		return nil
	default:
		return fmt.Errorf("unknown shutdown condition %q", string(c))
	}
}

// ShutdownAction is what a rule does once its condition and grace period
// are satisfied.
type ShutdownAction string

const (
	ActionStop       ShutdownAction = "stop"
	ActionPause      ShutdownAction = "pause"
	ActionRestart    ShutdownAction = "restart"
	ActionScaleDown  ShutdownAction = "scale_down"
)

func (a ShutdownAction) Valid() error {
	switch a {
	case ActionStop, ActionPause, ActionRestart, ActionScaleDown:
		return nil
	default:
		return fmt.Errorf("unknown shutdown action %q", string(a))
	}
}

// TimeRange is an inclusive HH:MM-HH:MM window used by the schedule
// condition, evaluated against the container's local time-of-day.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ContainerFilter selects the target set a rule applies to: include and
// tags are glob patterns (matched with go-wildcard); exclude removes
// matches after include/tags are applied.
type ContainerFilter struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// ShutdownThresholds bundles the numeric thresholds a rule's condition
// reads; which fields matter depends on Condition.
type ShutdownThresholds struct {
	InactivitySecs  int     `json:"inactivity_secs,omitempty"`
	CPUPercent      float64 `json:"cpu,omitempty"`
	MemoryPercent   float64 `json:"memory,omitempty"`
	NetworkMbps     float64 `json:"net,omitempty"`
}

// ShutdownRule is one autonomous-shutdown policy.
type ShutdownRule struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Enabled  bool              `json:"enabled"`
	Condition ShutdownCondition `json:"condition"`
	Action   ShutdownAction    `json:"action"`

	Filter ContainerFilter `json:"filter"`

	Thresholds ShutdownThresholds `json:"thresholds"`

	CronExpr   string      `json:"cron_expr,omitempty"`
	TimeRanges []TimeRange `json:"time_ranges,omitempty"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`

	GracePeriod time.Duration `json:"grace_period"`

	ProtectIfConnected bool          `json:"protect_if_connected"`
	ProtectIfUploading bool          `json:"protect_if_uploading"`
	MinUptime          time.Duration `json:"min_uptime"`

	AutoRestart      bool   `json:"auto_restart"`
	RestartSchedule  string `json:"restart_schedule,omitempty"`
}

// Validate enforces a schedule rule's invariant: it must carry either a
// cron expression or a non-empty time_ranges list, not both, and not
// neither. days_of_week is optional on the ranges side: an empty list
// matches every day, so it doesn't factor into whether ranges are set.
func (r *ShutdownRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if err := r.Condition.Valid(); err != nil {
		return err
	}
	if err := r.Action.Valid(); err != nil {
		return err
	}
	if r.Condition == ConditionSchedule {
		hasCron := r.CronExpr != ""
		hasRanges := len(r.TimeRanges) > 0
		if hasCron == hasRanges {
			return fmt.Errorf("schedule rule %q must carry exactly one of cron_expr or time_ranges", r.Name)
		}
	}
	return nil
}

// ShutdownLog is an append-only audit record bound to a rule and container.
type ShutdownLog struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	ContainerName string         `json:"container_name"`
	Action        ShutdownAction `json:"action"`
	Timestamp     time.Time      `json:"timestamp"`
	Success       bool           `json:"success"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Protected     bool           `json:"protected,omitempty"`
}
