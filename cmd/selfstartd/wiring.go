package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/autoscaler"
	"github.com/cuemby/selfstart/internal/autoshutdown"
	"github.com/cuemby/selfstart/internal/discovery"
	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/orchestrator"
	"github.com/cuemby/selfstart/internal/proxy"
	"github.com/cuemby/selfstart/internal/registry"
	"github.com/cuemby/selfstart/internal/runtime"
)

// dependencies holds every wired control loop and shared collaborator,
// passed to the HTTP server so handlers call into the same instances
// the background loops drive.
type dependencies struct {
	adapter      runtime.Adapter
	store        registry.Store
	bus          *hookbus.Bus
	wsHub        *hookbus.WSHub
	discovery    *discovery.Discovery
	orchestrator *orchestrator.Orchestrator
	proxy        *proxy.Proxy
	autoscaler   *autoscaler.AutoScaler
	autoshutdown *autoshutdown.AutoShutdown
}

// openStore opens the registry store named by dsn. An empty dsn
// (REDIS_URL unset) selects the in-memory store used by default and by
// single-node deployments; a non-empty dsn is treated as a
// modernc.org/sqlite data source name, resolving the env var's
// Redis-shaped name to whichever relational backend is actually wired
// (an Open Question decision recorded in the grounding ledger).
func openStore(dsn string) (registry.Store, error) {
	if dsn == "" {
		return registry.NewMemory(), nil
	}
	return registry.OpenSQLite(dsn)
}

// dialRuntime constructs the Docker-backed Adapter and confirms it can
// actually reach the runtime, so a dead socket fails fast at startup
// rather than on the first orchestrator operation.
func dialRuntime(ctx context.Context, logger zerolog.Logger) (runtime.Adapter, error) {
	adapter, err := runtime.NewDockerAdapter(logger)
	if err != nil {
		return nil, err
	}
	if _, err := adapter.ListAll(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

func wireDependencies(adapter runtime.Adapter, store registry.Store, logger zerolog.Logger) *dependencies {
	bus := hookbus.New(logger)
	wsHub := hookbus.NewWSHub(logger)

	for _, point := range []hookbus.Point{
		hookbus.BeforeContainerStart, hookbus.AfterContainerStart,
		hookbus.BeforeContainerStop, hookbus.AfterContainerStop,
		hookbus.OnScalingEvent, hookbus.OnHealthCheck,
		hookbus.OnServiceDiscovery, hookbus.OnShutdownPending,
	} {
		bus.Subscribe(point, wsHub.Subscriber())
	}

	disco := discovery.New(adapter, store, bus, discovery.NewHTTPProber(), discovery.DefaultConfig(), logger)
	orch := orchestrator.New(adapter, store, bus, orchestrator.DefaultConfig(), logger)
	prox := proxy.New(store, bus, logger)
	scaler := autoscaler.New(adapter, store, orch, bus, nil, autoscaler.DefaultConfig(), logger)
	shutdown := autoshutdown.New(adapter, store, orch, bus, prox, autoshutdown.DefaultConfig(), logger)

	return &dependencies{
		adapter:      adapter,
		store:        store,
		bus:          bus,
		wsHub:        wsHub,
		discovery:    disco,
		orchestrator: orch,
		proxy:        prox,
		autoscaler:   scaler,
		autoshutdown: shutdown,
	}
}
