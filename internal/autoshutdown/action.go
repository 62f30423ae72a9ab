package autoshutdown

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/selfstart/internal/model"
)

// executeAction carries out rule.Action against svc.
func (a *AutoShutdown) executeAction(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) error {
	switch rule.Action {
	case model.ActionStop:
		return a.orchestrator.Stop(ctx, svc.Name, false)
	case model.ActionPause:
		if svc.ContainerID == "" {
			return fmt.Errorf("pause %s: no container id", svc.Name)
		}
		return a.adapter.Pause(ctx, svc.ContainerID)
	case model.ActionRestart:
		return a.orchestrator.Restart(ctx, svc.Name)
	case model.ActionScaleDown:
		return a.scaleDown(ctx, svc)
	default:
		return rule.Action.Valid()
	}
}

// scaleDown halves the service's current replica count (minimum 1,
// never below its configured floor) and lets the orchestrator stop the
// resulting surplus instance; a single-replica service falls back to a
// full stop, since there's nothing left to scale down to.
func (a *AutoShutdown) scaleDown(ctx context.Context, svc *model.Service) error {
	target := svc.CurrentReplicas / 2
	if target < 1 {
		target = 1
	}
	if target < svc.MinReplicas {
		target = svc.MinReplicas
	}
	if target >= svc.CurrentReplicas {
		return a.orchestrator.Stop(ctx, svc.Name, false)
	}
	svc.CurrentReplicas = target
	return a.orchestrator.Stop(ctx, svc.Name, false)
}

// scheduleRestart computes the next fire time for a rule's
// auto_restart and records it so restartTick can bring the container
// back once that time arrives.
func (a *AutoShutdown) scheduleRestart(rule *model.ShutdownRule, service string) {
	next := time.Now().Add(time.Hour)
	if rule.RestartSchedule != "" {
		if sched, err := parseCron(rule.RestartSchedule); err == nil {
			if t, ok := nextMatch(sched, time.Now()); ok {
				next = t
			}
		} else {
			a.logger.Warn().Err(err).Str("rule", rule.Name).Msg("restart: invalid restart_schedule")
		}
	}
	a.mu.Lock()
	a.restarts[service] = next
	a.mu.Unlock()
}

// restartTick brings back any container whose scheduled auto_restart
// time has arrived.
func (a *AutoShutdown) restartTick(ctx context.Context) {
	now := time.Now()
	var due []string

	a.mu.Lock()
	for name, at := range a.restarts {
		if !now.Before(at) {
			due = append(due, name)
			delete(a.restarts, name)
		}
	}
	a.mu.Unlock()

	for _, name := range due {
		if err := a.orchestrator.Start(ctx, name, false); err != nil {
			a.logger.Warn().Err(err).Str("service", name).Msg("restart: scheduled start failed")
		}
	}
}

// nextMatch searches forward from t, at minute resolution, for the
// next time sched matches, bounded to one year out.
func nextMatch(sched schedule, t time.Time) (time.Time, bool) {
	cursor := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 0)
	for cursor.Before(limit) {
		if sched.Matches(cursor) {
			return cursor, true
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, false
}
