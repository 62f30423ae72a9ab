package orchestrator

import (
	"context"
	"time"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/runtime"
)

// runStartupPipeline executes the four-step worker pipeline (reconcile
// an existing container, create and start, wait for running and the
// health check, record running) for a single start request.
func (o *Orchestrator) runStartupPipeline(ctx context.Context, req startRequest) {
	cfg, err := o.store.GetContainerConfig(ctx, req.name)
	if err != nil {
		o.logger.Warn().Err(err).Str("name", req.name).Msg("pipeline: config missing")
		return
	}

	status := &model.ContainerStatus{Name: req.name, State: model.ContainerStateStarting}
	o.store.UpsertContainerStatus(ctx, status, time.Hour)
	o.bus.Publish(hookbus.BeforeContainerStart, status)

	deadline := time.Now().Add(cfg.StartupTimeout)
	if cfg.StartupTimeout <= 0 {
		deadline = time.Now().Add(o.cfg.StartupTimeout)
	}

	containerID, err := o.reconcileRuntimeState(ctx, cfg)
	if err != nil {
		o.failStatus(ctx, status, err.Error())
		return
	}

	if containerID == "" {
		containerID, err = o.adapter.Create(ctx, runtime.CreateSpec{
			Name:          cfg.Name,
			Image:         cfg.Image,
			Ports:         cfg.Ports,
			Environment:   cfg.Environment,
			Volumes:       cfg.Volumes,
			Labels:        cfg.Labels,
			RestartPolicy: cfg.RestartPolicy,
			AutoRemove:    cfg.AutoRemove,
			Platform: runtime.Platform{
				OS:           cfg.Platform.OS,
				Architecture: cfg.Platform.Architecture,
				Variant:      cfg.Platform.Variant,
			},
		})
		if err != nil {
			o.failStatus(ctx, status, err.Error())
			return
		}
		if err := o.adapter.Start(ctx, containerID); err != nil {
			o.failStatus(ctx, status, err.Error())
			return
		}
	}

	status.ContainerID = containerID
	if !o.pollUntilHealthy(ctx, cfg, containerID, deadline) {
		o.failStatus(ctx, status, "startup timed out waiting for running/health-check")
		return
	}

	now := time.Now()
	status.State = model.ContainerStateRunning
	status.StartedAt = &now
	status.ErrorMessage = ""
	o.store.UpsertContainerStatus(ctx, status, time.Hour)
	o.bus.Publish(hookbus.AfterContainerStart, status)
}

// reconcileRuntimeState implements pipeline step 1: adopt an already
// running container, or remove one stuck in exited/created so Create
// can proceed cleanly.
func (o *Orchestrator) reconcileRuntimeState(ctx context.Context, cfg *model.ContainerConfig) (string, error) {
	existing, err := o.adapter.Get(ctx, cfg.Name)
	if err != nil {
		return "", nil
	}
	switch existing.State {
	case "running":
		return existing.ID, nil
	case "exited", "created":
		if rmErr := o.adapter.Remove(ctx, existing.ID); rmErr != nil {
			return "", rmErr
		}
	}
	return "", nil
}

// pollUntilHealthy implements pipeline step 3.
func (o *Orchestrator) pollUntilHealthy(ctx context.Context, cfg *model.ContainerConfig, containerID string, deadline time.Time) bool {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		summary, err := o.adapter.Get(ctx, containerID)
		if err == nil && summary.State == "running" {
			if !cfg.HealthCheck.Enabled() {
				return true
			}
			if o.probeHealth(ctx, containerID, cfg.HealthCheck) {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) probeHealth(ctx context.Context, containerID string, hc *model.HealthCheck) bool {
	if len(hc.Exec) > 0 {
		res, err := o.adapter.Exec(ctx, containerID, hc.Exec)
		return err == nil && res.ExitCode == 0
	}
	return true
}

func (o *Orchestrator) failStatus(ctx context.Context, status *model.ContainerStatus, msg string) {
	status.State = model.ContainerStateError
	status.ErrorMessage = msg
	o.store.UpsertContainerStatus(ctx, status, time.Hour)
	o.logger.Warn().Str("name", status.Name).Str("error", msg).Msg("pipeline: startup failed")
}

// healthLoop runs the fixed-period reconciliation over all running
// managed containers.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.healthTick(ctx)
		}
	}
}

func (o *Orchestrator) healthTick(ctx context.Context) {
	configs, err := o.store.ListContainerConfigs(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("health loop: list configs failed")
		return
	}
	for _, cfg := range configs {
		status, err := o.store.GetContainerStatus(ctx, cfg.Name)
		if err != nil || status == nil || status.State != model.ContainerStateRunning {
			continue
		}
		o.reconcileHealth(ctx, cfg, status)
	}
}

func (o *Orchestrator) reconcileHealth(ctx context.Context, cfg *model.ContainerConfig, status *model.ContainerStatus) {
	summary, err := o.adapter.Get(ctx, status.ContainerID)
	if err != nil || summary.State != "running" {
		status.State = model.ContainerStateStopped
		status.ContainerID = ""
		o.store.UpsertContainerStatus(ctx, status, time.Hour)
		return
	}

	now := time.Now()
	status.LastHealthCheck = &now

	if !cfg.HealthCheck.Enabled() {
		o.bus.Publish(hookbus.OnHealthCheck, status)
		return
	}

	if o.probeHealth(ctx, status.ContainerID, cfg.HealthCheck) {
		o.consecutiveFailures[cfg.Name] = 0
		if status.State == model.ContainerStateUnhealthy {
			status.State = model.ContainerStateRunning
		}
	} else {
		o.consecutiveFailures[cfg.Name]++
		if o.consecutiveFailures[cfg.Name] >= 2 {
			status.State = model.ContainerStateUnhealthy
		}
	}
	o.store.UpsertContainerStatus(ctx, status, time.Hour)
	o.bus.Publish(hookbus.OnHealthCheck, status)
}
