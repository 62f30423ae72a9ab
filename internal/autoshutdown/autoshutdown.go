// Package autoshutdown implements Auto-Shutdown: a single evaluation
// loop that walks every enabled ShutdownRule, computes its target
// container set, checks protection predicates and the rule's
// condition, and executes the configured action once a grace period
// has elapsed.
package autoshutdown

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/ids"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

// Config tunes the evaluation loop's period.
type Config struct {
	CheckInterval time.Duration
}

// DefaultConfig returns auto-shutdown's stated default.
func DefaultConfig() Config {
	return Config{CheckInterval: 60 * time.Second}
}

// Orchestrator is the subset of the Container Orchestrator's contract
// auto-shutdown needs to carry out stop/restart/scale_down actions.
type Orchestrator interface {
	Start(ctx context.Context, name string, force bool) error
	Stop(ctx context.Context, name string, force bool) error
	Restart(ctx context.Context, name string) error
}

// ActivityProbe supplies live connection activity the registry store
// doesn't retain (it lives in the reverse proxy's in-memory backend
// state). A nil probe is treated as "no activity" for every container,
// so protect_if_connected and the inactivity condition degrade to
// always-unprotected rather than failing evaluation. Outbound upload
// activity (protect_if_uploading) is read from metrics throughput
// instead, since that's what the network_threshold configuration
// actually measures against.
type ActivityProbe interface {
	ActiveConnections(service string) int64
}

// pendingAction tracks one rule+container pair counting down its grace
// period; notified records whether the t=0 hook has already fired.
type pendingAction struct {
	deadline time.Time
	notified bool
}

// AutoShutdown drives the evaluation loop.
type AutoShutdown struct {
	adapter      runtime.Adapter
	store        registry.Store
	orchestrator Orchestrator
	bus          *hookbus.Bus
	probe        ActivityProbe
	cfg          Config
	logger       zerolog.Logger

	mu         sync.Mutex
	pending    map[string]*pendingAction
	restarts   map[string]time.Time
	lastActive map[string]time.Time
}

// New constructs an AutoShutdown. probe may be nil.
func New(adapter runtime.Adapter, store registry.Store, orch Orchestrator, bus *hookbus.Bus, probe ActivityProbe, cfg Config, logger zerolog.Logger) *AutoShutdown {
	return &AutoShutdown{
		adapter:      adapter,
		store:        store,
		orchestrator: orch,
		bus:          bus,
		probe:        probe,
		cfg:          cfg,
		logger:       logger.With().Str("component", "autoshutdown").Logger(),
		pending:    make(map[string]*pendingAction),
		restarts:   make(map[string]time.Time),
		lastActive: make(map[string]time.Time),
	}
}

// Run drives the evaluation loop until ctx is cancelled.
func (a *AutoShutdown) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *AutoShutdown) tick(ctx context.Context) {
	rules, err := a.store.ListShutdownRules(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("evaluation: list rules failed")
		return
	}
	services, err := a.store.ListServices(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("evaluation: list services failed")
		return
	}

	a.restartTick(ctx)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		targets := targetSet(rule.Filter, services)
		for _, svc := range targets {
			a.evaluateOne(ctx, rule, svc)
		}
	}
}

// evaluateOne runs the protection check, then the rule's condition,
// then grace-period/action handling for one (rule, service) pair.
func (a *AutoShutdown) evaluateOne(ctx context.Context, rule *model.ShutdownRule, svc *model.Service) {
	key := rule.ID + "|" + svc.Name

	protected := a.isProtected(ctx, rule, svc)
	met, err := a.evaluateCondition(ctx, rule, svc)
	if err != nil {
		a.logger.Warn().Err(err).Str("rule", rule.Name).Str("service", svc.Name).Msg("evaluation: condition check failed")
		return
	}

	if protected || !met {
		a.clearPending(key)
		if protected && met {
			a.logActionLog(ctx, rule, svc, true, "")
		}
		return
	}

	a.mu.Lock()
	p, exists := a.pending[key]
	if !exists {
		p = &pendingAction{deadline: time.Now().Add(rule.GracePeriod)}
		a.pending[key] = p
	}
	due := !p.notified
	ready := time.Now().After(p.deadline) || time.Now().Equal(p.deadline)
	if due {
		p.notified = true
	}
	a.mu.Unlock()

	if due {
		a.bus.Publish(hookbus.OnShutdownPending, map[string]any{
			"rule":         rule.Name,
			"service":      svc.Name,
			"grace_period": rule.GracePeriod.String(),
		})
	}

	if !ready {
		return
	}

	a.clearPending(key)
	err = a.executeAction(ctx, rule, svc)
	a.logActionLog(ctx, rule, svc, false, errString(err))

	if err == nil && rule.AutoRestart {
		a.scheduleRestart(rule, svc.Name)
	}
}

func (a *AutoShutdown) clearPending(key string) {
	a.mu.Lock()
	delete(a.pending, key)
	a.mu.Unlock()
}

func (a *AutoShutdown) logActionLog(ctx context.Context, rule *model.ShutdownRule, svc *model.Service, protected bool, errMsg string) {
	log := &model.ShutdownLog{
		ID:            ids.NewULID(),
		RuleID:        rule.ID,
		ContainerName: svc.Name,
		Action:        rule.Action,
		Timestamp:     time.Now(),
		Success:       errMsg == "" && !protected,
		ErrorMessage:  errMsg,
		Protected:     protected,
	}
	if err := a.store.AppendShutdownLog(ctx, log); err != nil {
		a.logger.Warn().Err(err).Str("rule", rule.Name).Str("service", svc.Name).Msg("evaluation: append shutdown log failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
