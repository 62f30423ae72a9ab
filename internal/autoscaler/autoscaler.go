// Package autoscaler implements the Auto-Scaler: three loops (metrics
// collection, decision, retention cleanup) driving UP/DOWN/NONE
// decisions, with an optional weighted-moving-average prediction
// blended into the raw mean.
package autoscaler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/ids"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

// cooldownLookback bounds how far back lastScalingAction scans past
// failed events to find the last successful one.
const cooldownLookback = 20

// Config tunes the three loop periods.
type Config struct {
	MetricsInterval   time.Duration
	DecisionInterval  time.Duration
	MetricsRetention  time.Duration
	PredictionSamples int
}

// DefaultConfig returns the auto-scaler's stated defaults.
func DefaultConfig() Config {
	return Config{
		MetricsInterval:   30 * time.Second,
		DecisionInterval:  60 * time.Second,
		MetricsRetention:  3600 * time.Second,
		PredictionSamples: 10,
	}
}

// Orchestrator is the subset of the Container Orchestrator's contract
// the scaler needs to converge replica counts.
type Orchestrator interface {
	Start(ctx context.Context, name string, force bool) error
	Stop(ctx context.Context, name string, force bool) error
}

// CollaboratorMetrics supplies plug-in application metrics (request
// rate, response time, error rate); a nil value is treated as all-zero.
type CollaboratorMetrics interface {
	Collect(ctx context.Context, service string) (requestRate, responseTimeMs, errorRate float64)
}

// AutoScaler drives metric collection and scaling decisions.
type AutoScaler struct {
	adapter      runtime.Adapter
	store        registry.Store
	orchestrator Orchestrator
	bus          *hookbus.Bus
	collaborator CollaboratorMetrics
	cfg          Config
	logger       zerolog.Logger

	lastStats map[string]runtime.Stats

	cpuGauge    prometheus.Gauge
	decisionCtr *prometheus.CounterVec
}

// New constructs an AutoScaler. collaborator may be nil.
func New(adapter runtime.Adapter, store registry.Store, orch Orchestrator, bus *hookbus.Bus, collaborator CollaboratorMetrics, cfg Config, logger zerolog.Logger) *AutoScaler {
	return &AutoScaler{
		adapter:      adapter,
		store:        store,
		orchestrator: orch,
		bus:          bus,
		collaborator: collaborator,
		cfg:          cfg,
		logger:       logger.With().Str("component", "autoscaler").Logger(),
		lastStats:    make(map[string]runtime.Stats),
		cpuGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "selfstart_autoscaler_last_cpu_percent",
			Help: "Most recently sampled CPU percent across all scaled services.",
		}),
		decisionCtr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "selfstart_autoscaler_decisions_total",
			Help: "Count of scaling decisions by direction.",
		}, []string{"direction"}),
	}
}

// Collectors exposes the scaler's prometheus collectors for
// registration by the HTTP server's /api/v2/metrics/prometheus handler.
func (a *AutoScaler) Collectors() []prometheus.Collector {
	return []prometheus.Collector{a.cpuGauge, a.decisionCtr}
}

// Run drives all three loops until ctx is cancelled.
func (a *AutoScaler) Run(ctx context.Context) {
	go a.loop(ctx, a.cfg.MetricsInterval, a.collectTick)
	go a.loop(ctx, a.cfg.DecisionInterval, a.decisionTick)
	go a.loop(ctx, a.cfg.MetricsRetention, a.cleanupTick)
	<-ctx.Done()
}

func (a *AutoScaler) loop(ctx context.Context, period time.Duration, tick func(context.Context)) {
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

// collectTick samples stats for every service with a container and
// derives CPU/memory/network metrics.
func (a *AutoScaler) collectTick(ctx context.Context) {
	services, err := a.store.ListServices(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("metrics loop: list services failed")
		return
	}

	for _, svc := range services {
		if svc.ContainerID == "" {
			continue
		}
		stats, err := a.adapter.Stats(ctx, svc.ContainerID)
		if err != nil {
			a.logger.Warn().Err(err).Str("service", svc.Name).Msg("metrics loop: stats fetch failed")
			continue
		}

		windowSeconds := a.cfg.MetricsInterval.Seconds()
		var rxMbps, txMbps float64
		if prev, ok := a.lastStats[svc.Name]; ok {
			rxMbps = runtime.NetworkMbps(deltaUint(stats.NetworkRxBytes, prev.NetworkRxBytes), windowSeconds)
			txMbps = runtime.NetworkMbps(deltaUint(stats.NetworkTxBytes, prev.NetworkTxBytes), windowSeconds)
		}
		a.lastStats[svc.Name] = stats

		var reqRate, respMs, errRate float64
		if a.collaborator != nil {
			reqRate, respMs, errRate = a.collaborator.Collect(ctx, svc.Name)
		}

		pt := model.MetricsPoint{
			CPUPercent:     stats.CPUPercent(),
			MemoryPercent:  stats.MemoryPercent(),
			NetworkInMbps:  rxMbps,
			NetworkOutMbps: txMbps,
			RequestRate:    reqRate,
			ResponseTimeMs: respMs,
			ErrorRate:      errRate,
			Timestamp:      time.Now(),
		}
		if err := a.store.AppendMetrics(ctx, svc.Name, pt, a.cfg.MetricsRetention); err != nil {
			a.logger.Warn().Err(err).Str("service", svc.Name).Msg("metrics loop: append failed")
			continue
		}
		a.cpuGauge.Set(pt.CPUPercent)
		a.bus.Publish(hookbus.OnMetricsCollection, pt)
	}
}

func deltaUint(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// cleanupTick trims metrics samples older than MetricsRetention.
func (a *AutoScaler) cleanupTick(ctx context.Context) {
	if err := a.store.TrimMetricsBefore(ctx, time.Now().Add(-a.cfg.MetricsRetention)); err != nil {
		a.logger.Warn().Err(err).Msg("cleanup loop: trim failed")
	}
}

// lastScalingAction reads the timestamp of the most recent successful
// ScalingEvent for a service, zero time if none recorded. Failed events
// are skipped: a failure leaves the cooldown timer untouched so the
// next decision cycle retries instead of waiting out the cooldown.
func (a *AutoScaler) lastScalingAction(ctx context.Context, service string) time.Time {
	events, err := a.store.ListScalingEvents(ctx, service, cooldownLookback)
	if err != nil {
		return time.Time{}
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Success {
			return events[i].Timestamp
		}
	}
	return time.Time{}
}

// ManualScale bypasses thresholds and cooldown, recording a ScalingEvent
// with trigger=manual.
func (a *AutoScaler) ManualScale(ctx context.Context, service string, replicas int) error {
	svc, err := a.store.GetService(ctx, service)
	if err != nil {
		return orcherr.NotFound("autoscaler.ManualScale", service, err)
	}
	from := svc.CurrentReplicas
	direction := model.ScalingDirectionNone
	if replicas > from {
		direction = model.ScalingDirectionUp
	} else if replicas < from {
		direction = model.ScalingDirectionDown
	}

	success := a.converge(ctx, svc, from, replicas)
	ev := &model.ScalingEvent{
		ID:           ids.NewULID(),
		ServiceName:  service,
		Direction:    direction,
		Trigger:      model.ScalingTriggerManual,
		FromReplicas: from,
		ToReplicas:   replicas,
		Timestamp:    time.Now(),
		Success:      success,
	}
	if err := a.store.AppendScalingEvent(ctx, ev); err != nil {
		return orcherr.Store("autoscaler.ManualScale", service, err)
	}
	a.bus.Publish(hookbus.OnScalingEvent, ev)
	a.decisionCtr.WithLabelValues(string(direction)).Inc()
	return nil
}

// converge invokes the orchestrator to reach the target replica count
// for svc; its return value becomes the ScalingEvent's success field.
func (a *AutoScaler) converge(ctx context.Context, svc *model.Service, from, to int) bool {
	svc.CurrentReplicas = to
	if err := a.store.UpsertService(ctx, svc, 0); err != nil {
		a.logger.Warn().Err(err).Str("service", svc.Name).Msg("converge: upsert failed")
		return false
	}
	if to > from {
		if err := a.orchestrator.Start(ctx, svc.Name, false); err != nil {
			a.logger.Warn().Err(err).Str("service", svc.Name).Msg("converge: start failed")
			return false
		}
	} else if to < from {
		if err := a.orchestrator.Stop(ctx, svc.Name, false); err != nil {
			a.logger.Warn().Err(err).Str("service", svc.Name).Msg("converge: stop failed")
			return false
		}
	}
	return true
}
