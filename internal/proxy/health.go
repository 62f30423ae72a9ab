package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
)

// RunHealthChecks drives every registered target's active health
// check at its own HealthCheckInterval until ctx is cancelled. A
// backend in maintenance is skipped; the first passing probe after a
// failure logs a recovery and returns it to healthy.
func (p *Proxy) RunHealthChecks(ctx context.Context) {
	started := make(map[string]bool)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			for name, ts := range p.targets {
				if !started[name] {
					started[name] = true
					go p.healthCheckLoop(ctx, ts)
				}
			}
			p.mu.RUnlock()
		}
	}
}

func (p *Proxy) healthCheckLoop(ctx context.Context, ts *targetState) {
	ts.mu.RLock()
	interval := ts.target.HealthCheckInterval
	ts.mu.RUnlock()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeTarget(ctx, ts)
		}
	}
}

func (p *Proxy) probeTarget(ctx context.Context, ts *targetState) {
	ts.mu.RLock()
	path := ts.target.HealthCheckPath
	timeout := ts.target.HealthCheckTimeout
	backends := append([]*backendState(nil), ts.backends...)
	targetName := ts.target.Name
	ts.mu.RUnlock()

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if path == "" {
		path = "/"
	}

	for _, bs := range backends {
		if bs.backend.Status == model.BackendMaintenance {
			continue
		}
		wasUnhealthy := bs.backend.Status == model.BackendUnhealthy
		ok := p.probeOne(ctx, bs.backend, path, timeout)
		bs.backend.LastHealthCheck = time.Now()

		if ok {
			bs.backend.Status = model.BackendHealthy
			if wasUnhealthy {
				p.logger.Info().Str("backend", bs.backend.Addr()).Str("target", targetName).Msg("backend recovered")
			}
		} else {
			bs.backend.Status = model.BackendUnhealthy
		}
		p.bus.Publish(hookbus.OnHealthCheck, bs.backend)
	}
}

func (p *Proxy) probeOne(ctx context.Context, b *model.Backend, path string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", b.Addr(), path)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
