// Package orchestrator implements the Container Orchestrator: a bounded
// startup pipeline with dependency resolution, a fixed health loop, and
// the public Register/Start/Stop/Restart/Status/Logs contract.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

// Config tunes the startup pipeline and health loop.
type Config struct {
	MaxConcurrentStarts int
	QueueCapacity       int
	StartupTimeout      time.Duration
	DependencyTimeout   time.Duration
	HealthCheckInterval time.Duration
	DefaultStopGrace    time.Duration
	PollInterval        time.Duration
}

// DefaultConfig returns the orchestrator's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStarts: 3,
		QueueCapacity:       64,
		StartupTimeout:      120 * time.Second,
		DependencyTimeout:   300 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		DefaultStopGrace:    30 * time.Second,
		PollInterval:        500 * time.Millisecond,
	}
}

type startRequest struct {
	name  string
	force bool
}

// Orchestrator manages container lifecycle against a runtime Adapter,
// backed by a registry Store for configs and status.
type Orchestrator struct {
	adapter runtime.Adapter
	store   registry.Store
	bus     *hookbus.Bus
	cfg     Config
	logger  zerolog.Logger

	queue chan startRequest
	sf    singleflight.Group

	consecutiveFailures map[string]int
}

// New constructs an Orchestrator. Call Run to start the worker pool and
// health loop; Register/Start/Stop/Restart/Status/Logs are safe to call
// concurrently with Run.
func New(adapter runtime.Adapter, store registry.Store, bus *hookbus.Bus, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		adapter:             adapter,
		store:               store,
		bus:                 bus,
		cfg:                 cfg,
		logger:              logger.With().Str("component", "orchestrator").Logger(),
		queue:               make(chan startRequest, cfg.QueueCapacity),
		consecutiveFailures: make(map[string]int),
	}
}

// Run blocks, driving the startup worker pool and the health loop until
// ctx is cancelled. Workers drain in-flight startups up to the context
// deadline, then abandon.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.MaxConcurrentStarts; i++ {
		g.Go(func() error {
			o.worker(gctx)
			return nil
		})
	}
	g.Go(func() error {
		o.healthLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.queue:
			o.runStartupPipeline(ctx, req)
		}
	}
}

// Register persists a ContainerConfig; idempotent on name.
func (o *Orchestrator) Register(ctx context.Context, cfg *model.ContainerConfig) error {
	if cfg == nil || cfg.Name == "" {
		return orcherr.Validation("orchestrator.Register", "", nil)
	}
	if err := o.store.UpsertContainerConfig(ctx, cfg); err != nil {
		return orcherr.Store("orchestrator.Register", cfg.Name, err)
	}
	return nil
}

// Start enqueues a start intent after resolving dependencies. It
// returns a Conflict if the container is already running or already
// starting (unless force), and a BackendError if the startup queue is
// full (transient; callers retry).
func (o *Orchestrator) Start(ctx context.Context, name string, force bool) error {
	cfg, err := o.store.GetContainerConfig(ctx, name)
	if err != nil {
		return orcherr.NotFound("orchestrator.Start", name, err)
	}

	if status, err := o.store.GetContainerStatus(ctx, name); err == nil && status != nil {
		switch status.State {
		case model.ContainerStateRunning:
			if !force {
				return orcherr.Conflict("orchestrator.Start", name, fmt.Errorf("already running"))
			}
		case model.ContainerStateStarting:
			if !force {
				return orcherr.Conflict("orchestrator.Start", name, fmt.Errorf("already starting"))
			}
		}
	}

	if err := o.ensureDependencies(ctx, cfg, map[string]bool{name: true}); err != nil {
		return err
	}

	select {
	case o.queue <- startRequest{name: name, force: force}:
		return nil
	default:
		return orcherr.Backend("orchestrator.Start", name, fmt.Errorf("startup queue full"))
	}
}

// ensureDependencies recursively guarantees each of cfg's dependencies
// reaches running within DependencyTimeout, rejecting cycles detected
// via the visited path. singleflight collapses concurrent requests to
// start the same shared dependency into one attempt.
func (o *Orchestrator) ensureDependencies(ctx context.Context, cfg *model.ContainerConfig, visited map[string]bool) error {
	for _, dep := range cfg.Dependencies {
		if visited[dep] {
			return orcherr.Validation("orchestrator.Start", dep, fmt.Errorf("dependency cycle detected at %q", dep))
		}

		status, err := o.store.GetContainerStatus(ctx, dep)
		if err == nil && status != nil && status.State == model.ContainerStateRunning {
			continue
		}

		depVisited := make(map[string]bool, len(visited)+1)
		for k := range visited {
			depVisited[k] = true
		}
		depVisited[dep] = true

		depCfg, cfgErr := o.store.GetContainerConfig(ctx, dep)
		if cfgErr != nil {
			return orcherr.NotFound("orchestrator.Start", dep, cfgErr)
		}
		if err := o.ensureDependencies(ctx, depCfg, depVisited); err != nil {
			return err
		}

		_, err, _ = o.sf.Do(dep, func() (any, error) {
			return nil, o.startAndWait(ctx, dep)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// startAndWait enqueues dep (if capacity allows) and polls until it
// reaches running or DependencyTimeout elapses.
func (o *Orchestrator) startAndWait(ctx context.Context, name string) error {
	select {
	case o.queue <- startRequest{name: name}:
	default:
	}

	deadline := time.Now().Add(o.cfg.DependencyTimeout)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		status, err := o.store.GetContainerStatus(ctx, name)
		if err == nil && status != nil {
			if status.State == model.ContainerStateRunning {
				return nil
			}
			if status.State == model.ContainerStateError {
				return orcherr.Backend("orchestrator.Start", name, fmt.Errorf("dependency %q failed to start", name))
			}
		}
		if time.Now().After(deadline) {
			return orcherr.Timeout("orchestrator.Start", name, fmt.Errorf("dependency %q did not become running within timeout", name))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop issues a stop with bounded grace.
func (o *Orchestrator) Stop(ctx context.Context, name string, force bool) error {
	status, err := o.store.GetContainerStatus(ctx, name)
	if err != nil || status == nil {
		return orcherr.NotFound("orchestrator.Stop", name, err)
	}
	if status.State != model.ContainerStateRunning && status.State != model.ContainerStateUnhealthy && !force {
		return orcherr.Conflict("orchestrator.Stop", name, fmt.Errorf("not running"))
	}

	status.State = model.ContainerStateStopping
	if err := o.store.UpsertContainerStatus(ctx, status, time.Hour); err != nil {
		return orcherr.Store("orchestrator.Stop", name, err)
	}
	o.bus.Publish(hookbus.BeforeContainerStop, status)

	grace := o.cfg.DefaultStopGrace
	if status.ContainerID != "" {
		if err := o.adapter.Stop(ctx, status.ContainerID, grace); err != nil {
			o.logger.Warn().Err(err).Str("name", name).Msg("stop: runtime stop failed")
		}
	}

	status.State = model.ContainerStateStopped
	status.ContainerID = ""
	if err := o.store.UpsertContainerStatus(ctx, status, time.Hour); err != nil {
		return orcherr.Store("orchestrator.Stop", name, err)
	}
	o.bus.Publish(hookbus.AfterContainerStop, status)
	return nil
}

// Restart stops then starts with a small gap.
func (o *Orchestrator) Restart(ctx context.Context, name string) error {
	if err := o.Stop(ctx, name, true); err != nil && orcherr.KindOf(err) != orcherr.KindConflict {
		return err
	}
	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	return o.Start(ctx, name, true)
}

// Status returns the current ContainerStatus.
func (o *Orchestrator) Status(ctx context.Context, name string) (*model.ContainerStatus, error) {
	status, err := o.store.GetContainerStatus(ctx, name)
	if err != nil {
		return nil, orcherr.NotFound("orchestrator.Status", name, err)
	}
	return status, nil
}

// Logs pulls log output from the runtime for a managed container.
func (o *Orchestrator) Logs(ctx context.Context, name string, lines int) (io.ReadCloser, error) {
	status, err := o.store.GetContainerStatus(ctx, name)
	if err != nil || status == nil || status.ContainerID == "" {
		return nil, orcherr.NotFound("orchestrator.Logs", name, err)
	}
	rc, err := o.adapter.Logs(ctx, status.ContainerID, lines, true)
	if err != nil {
		return nil, orcherr.Runtime("orchestrator.Logs", name, err)
	}
	return rc, nil
}
