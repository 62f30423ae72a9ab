// Package discovery implements Service Discovery: three cooperative
// loops (discovery, health, cleanup) that build Service records from
// container labels and keep them current in the registry store.
package discovery

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

const (
	labelEnable         = "selfstart.enable"
	labelType           = "selfstart.type"
	labelPort           = "selfstart.port"
	labelPath           = "selfstart.path"
	labelHealthPath     = "selfstart.health_path"
	labelProtocol       = "selfstart.protocol"
	labelDependencies   = "selfstart.dependencies"
	labelAutoScale      = "selfstart.auto_scale"
	labelMinReplicas    = "selfstart.min_replicas"
	labelMaxReplicas    = "selfstart.max_replicas"
	defaultProjectMarker = "selfstart"
)

// Config tunes the three loop periods and TTLs, mirroring the
// env-driven defaults.
type Config struct {
	DiscoveryInterval   time.Duration
	HealthCheckInterval time.Duration
	ServiceTTL          time.Duration
	HealthCheckTimeout  time.Duration
	// ProjectMarker is the network-name substring Host resolution prefers,
	// e.g. a compose project name.
	ProjectMarker string
}

// DefaultConfig returns discovery's stated defaults.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:   30 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		ServiceTTL:          300 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		ProjectMarker:       defaultProjectMarker,
	}
}

// HealthProber issues a health probe against an endpoint; swappable in
// tests instead of dialing real HTTP.
type HealthProber interface {
	Probe(ctx context.Context, endpoint model.Endpoint, timeout time.Duration) bool
}

// Discovery runs the three loops against a runtime Adapter and a Store.
type Discovery struct {
	adapter runtime.Adapter
	store   registry.Store
	bus     *hookbus.Bus
	prober  HealthProber
	cfg     Config
	logger  zerolog.Logger
}

// New constructs a Discovery. prober may be nil, in which case the
// health loop is a no-op (useful for adapters with no HTTP-reachable
// endpoints in tests).
func New(adapter runtime.Adapter, store registry.Store, bus *hookbus.Bus, prober HealthProber, cfg Config, logger zerolog.Logger) *Discovery {
	return &Discovery{
		adapter: adapter,
		store:   store,
		bus:     bus,
		prober:  prober,
		cfg:     cfg,
		logger:  logger.With().Str("component", "discovery").Logger(),
	}
}

// Run blocks, driving all three loops until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	go d.loop(ctx, d.cfg.DiscoveryInterval, d.discoveryTick)
	go d.loop(ctx, d.cfg.HealthCheckInterval, d.healthTick)
	go d.loop(ctx, d.cfg.ServiceTTL, d.cleanupTick)
	<-ctx.Done()
}

func (d *Discovery) loop(ctx context.Context, period time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// discoveryTick lists all containers, filters by the required label,
// builds a Service per qualifying container, and upserts with TTL.
// Runtime and store errors are logged, never fatal: the loop continues
// on its cadence.
func (d *Discovery) discoveryTick(ctx context.Context) {
	containers, err := d.adapter.ListAll(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("discovery: list containers failed")
		return
	}

	liveContainerIDs := make(map[string]bool, len(containers))
	now := time.Now()
	for _, c := range containers {
		liveContainerIDs[c.ID] = true
		if c.Labels[labelEnable] != "true" {
			continue
		}
		svc := buildService(c, d.cfg.ProjectMarker, now)
		if err := svc.Validate(); err != nil {
			d.logger.Warn().Err(err).Str("container", c.Name).Msg("discovery: built an invalid service")
			continue
		}
		if err := d.store.UpsertService(ctx, svc, d.cfg.ServiceTTL); err != nil {
			d.logger.Warn().Err(err).Str("service", svc.Name).Msg("discovery: upsert failed, degrading to best-effort view")
			continue
		}
		d.bus.Publish(hookbus.OnServiceDiscovery, svc)
	}

	d.reconcileMissing(ctx, liveContainerIDs)
}

// reconcileMissing flips registered services whose container has
// disappeared from the runtime entirely to stopped, within the same
// tick the removal is observed in, rather than waiting for the TTL
// reaper to evict the whole record.
func (d *Discovery) reconcileMissing(ctx context.Context, liveContainerIDs map[string]bool) {
	services, err := d.store.ListServices(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("discovery: list services failed during reconcile")
		return
	}
	for _, svc := range services {
		if svc.Status == model.ServiceStatusStopped {
			continue
		}
		if svc.ContainerID == "" || liveContainerIDs[svc.ContainerID] {
			continue
		}
		svc.Status = model.ServiceStatusStopped
		svc.ContainerID = ""
		if err := d.store.UpsertService(ctx, svc, d.cfg.ServiceTTL); err != nil {
			d.logger.Warn().Err(err).Str("service", svc.Name).Msg("discovery: reconcile upsert failed")
			continue
		}
		d.bus.Publish(hookbus.OnServiceDiscovery, svc)
	}
}

// buildService maps labels on a running container into a Service.
func buildService(c runtime.ContainerSummary, projectMarker string, now time.Time) *model.Service {
	svcType := model.ServiceType(c.Labels[labelType])
	if svcType == "" || svcType.Valid() != nil {
		svcType = model.ServiceTypeUtility
	}

	port := 0
	if p, err := strconv.Atoi(c.Labels[labelPort]); err == nil {
		port = p
	}
	protocol := c.Labels[labelProtocol]
	if protocol == "" {
		protocol = "http"
	}

	var deps []string
	if raw := c.Labels[labelDependencies]; raw != "" {
		for _, dep := range strings.Split(raw, ",") {
			dep = strings.TrimSpace(dep)
			if dep != "" {
				deps = append(deps, dep)
			}
		}
	}

	status := model.ServiceStatusUnknown
	switch c.State {
	case "running":
		status = model.ServiceStatusRunning
	case "created":
		status = model.ServiceStatusStarting
	case "exited", "dead":
		status = model.ServiceStatusStopped
	}

	minReplicas, _ := strconv.Atoi(c.Labels[labelMinReplicas])
	maxReplicas, _ := strconv.Atoi(c.Labels[labelMaxReplicas])
	if maxReplicas == 0 {
		maxReplicas = 1
	}
	currentReplicas := minReplicas
	if currentReplicas == 0 {
		currentReplicas = 1
	}
	if currentReplicas > maxReplicas {
		currentReplicas = maxReplicas
	}

	host := resolveHost(c, projectMarker)

	return &model.Service{
		Name:        c.Name,
		ContainerID: c.ID,
		ServiceType: svcType,
		Labels:      c.Labels,
		Endpoints: []model.Endpoint{{
			Protocol:   protocol,
			Host:       host,
			Port:       port,
			Path:       c.Labels[labelPath],
			HealthPath: c.Labels[labelHealthPath],
		}},
		Dependencies:     deps,
		Status:           status,
		HealthScore:      1.0,
		CreatedAt:        now,
		LastSeen:         now,
		AutoScaleEnabled: c.Labels[labelAutoScale] == "true",
		MinReplicas:      minReplicas,
		MaxReplicas:      maxReplicas,
		CurrentReplicas:  currentReplicas,
	}
}

// resolveHost prefers the container's IP on a network whose name
// contains projectMarker, falling back to the container name so the
// proxy can still resolve it via Docker's embedded DNS.
func resolveHost(c runtime.ContainerSummary, projectMarker string) string {
	for netName, ip := range c.Networks {
		if projectMarker != "" && strings.Contains(netName, projectMarker) && ip != "" {
			return ip
		}
	}
	return c.Name
}

// healthTick probes every endpoint of every known service and updates
// health_score and status.
func (d *Discovery) healthTick(ctx context.Context) {
	if d.prober == nil {
		return
	}
	services, err := d.store.ListServices(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("health loop: list services failed")
		return
	}

	for _, svc := range services {
		if len(svc.Endpoints) == 0 {
			continue
		}
		healthy := 0
		for _, ep := range svc.Endpoints {
			if d.prober.Probe(ctx, ep, d.cfg.HealthCheckTimeout) {
				healthy++
			}
		}
		svc.HealthScore = float64(healthy) / float64(len(svc.Endpoints))

		switch {
		case svc.HealthScore == 0 && svc.Status == model.ServiceStatusRunning:
			svc.Status = model.ServiceStatusUnhealthy
		case svc.HealthScore > 0 && svc.Status == model.ServiceStatusUnhealthy:
			svc.Status = model.ServiceStatusRunning
		}

		if err := d.store.UpsertService(ctx, svc, d.cfg.ServiceTTL); err != nil {
			d.logger.Warn().Err(err).Str("service", svc.Name).Msg("health loop: upsert failed")
			continue
		}
		d.bus.Publish(hookbus.OnHealthCheck, svc)
	}
}

// cleanupTick evicts services whose last_seen has aged past ServiceTTL.
func (d *Discovery) cleanupTick(ctx context.Context) {
	services, err := d.store.ListServices(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("cleanup loop: list services failed")
		return
	}
	now := time.Now()
	for _, svc := range services {
		if svc.Expired(d.cfg.ServiceTTL, now) {
			if err := d.store.DeleteService(ctx, svc.Name); err != nil {
				d.logger.Warn().Err(err).Str("service", svc.Name).Msg("cleanup loop: evict failed")
				continue
			}
			d.logger.Info().Str("service", svc.Name).Msg("evicted expired service")
		}
	}
}
