package autoshutdown

import (
	"context"
	"time"

	"github.com/cuemby/selfstart/internal/model"
)

// evaluateCondition dispatches to the rule's condition kind. true means
// "the container is a candidate for this rule's action right now";
// grace-period bookkeeping happens in the caller.
func (a *AutoShutdown) evaluateCondition(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) (bool, error) {
	switch rule.Condition {
	case model.ConditionInactivity:
		return a.evaluateInactivity(rule, svc), nil
	case model.ConditionLowResources:
		return a.evaluateLowResources(ctx, rule, svc)
	case model.ConditionIdleTime:
		return a.evaluateIdleTime(ctx, rule, svc)
	case model.ConditionSchedule:
		return a.evaluateSchedule(rule, time.Now()), nil
	default:
		return false, rule.Condition.Valid()
	}
}

// evaluateInactivity tracks, per service, the last time the activity
// probe observed a live connection, and fires once that's aged past
// Thresholds.InactivitySecs. A service never seen active is treated as
// inactive starting from the first evaluation.
func (a *AutoShutdown) evaluateInactivity(rule *model.ShutdownRule, svc *model.Service) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	active := a.probe != nil && a.probe.ActiveConnections(svc.Name) > 0
	now := time.Now()
	if active {
		a.lastActive[svc.Name] = now
		return false
	}
	since, ok := a.lastActive[svc.Name]
	if !ok {
		a.lastActive[svc.Name] = now
		since = now
	}
	return now.Sub(since) >= time.Duration(rule.Thresholds.InactivitySecs)*time.Second
}

// evaluateLowResources is an instantaneous check: the most recent
// metrics sample's CPU and memory are both at or below their
// configured ceiling. Network throughput plays no part in this
// condition; idle_time is the one that folds network and connection
// count in.
func (a *AutoShutdown) evaluateLowResources(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) (bool, error) {
	points, err := a.store.ListMetrics(ctx, svc.Name)
	if err != nil {
		return false, err
	}
	if len(points) == 0 {
		return false, nil
	}
	latest := points[len(points)-1]
	return belowResourceCeiling(latest, rule.Thresholds), nil
}

// evaluateIdleTime is an instantaneous check combining three factors:
// low CPU, summed network throughput (rx+tx) at or below the network
// threshold, and zero live connections on the activity probe.
func (a *AutoShutdown) evaluateIdleTime(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) (bool, error) {
	points, err := a.store.ListMetrics(ctx, svc.Name)
	if err != nil {
		return false, err
	}
	if len(points) == 0 {
		return false, nil
	}
	latest := points[len(points)-1]

	lowCPU := rule.Thresholds.CPUPercent <= 0 || latest.CPUPercent <= rule.Thresholds.CPUPercent
	lowNetwork := rule.Thresholds.NetworkMbps <= 0 ||
		(latest.NetworkInMbps+latest.NetworkOutMbps) <= rule.Thresholds.NetworkMbps
	noConnections := a.probe == nil || a.probe.ActiveConnections(svc.Name) == 0

	return lowCPU && lowNetwork && noConnections, nil
}

func belowResourceCeiling(pt model.MetricsPoint, t model.ShutdownThresholds) bool {
	if t.CPUPercent > 0 && pt.CPUPercent > t.CPUPercent {
		return false
	}
	if t.MemoryPercent > 0 && pt.MemoryPercent > t.MemoryPercent {
		return false
	}
	return true
}

// evaluateSchedule reports whether now falls inside the rule's
// shutdown window: either a cron expression match at the current
// minute, or a (time_ranges, days_of_week) pair, per ShutdownRule's
// cron-XOR-ranges invariant enforced at Validate time.
func (a *AutoShutdown) evaluateSchedule(rule *model.ShutdownRule, now time.Time) bool {
	if rule.CronExpr != "" {
		sched, err := parseCron(rule.CronExpr)
		if err != nil {
			a.logger.Warn().Err(err).Str("rule", rule.Name).Msg("schedule: invalid cron expression")
			return false
		}
		return sched.Matches(now)
	}
	return matchesDayOfWeek(rule.DaysOfWeek, now.Weekday()) && matchesAnyTimeRange(rule.TimeRanges, now)
}

func matchesDayOfWeek(days []time.Weekday, today time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == today {
			return true
		}
	}
	return false
}

func matchesAnyTimeRange(ranges []model.TimeRange, now time.Time) bool {
	if len(ranges) == 0 {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	for _, r := range ranges {
		start, err1 := parseHHMM(r.Start)
		end, err2 := parseHHMM(r.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if start <= end {
			if cur >= start && cur <= end {
				return true
			}
		} else {
			// Wraps past midnight, e.g. 22:00-06:00.
			if cur >= start || cur <= end {
				return true
			}
		}
	}
	return false
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
