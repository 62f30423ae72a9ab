// Package proxy implements the Reverse Proxy: named backend pools with
// pluggable selection policies, per-backend circuit breakers, active
// health checks, sticky sessions, and bounded retry across backends.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/selfstart/internal/hookbus"
	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
	"github.com/cuemby/selfstart/internal/proxy/circuit"
	"github.com/cuemby/selfstart/internal/registry"
)

// Response is the result of a proxied call.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

type backendState struct {
	backend *model.Backend
	breaker *circuit.Breaker
}

type targetState struct {
	mu       sync.RWMutex
	target   model.ProxyTarget
	backends []*backendState
	// localRR is the fallback round-robin counter used when the store
	// reports a StoreError.
	localRR       uint64
	stickySession map[string]string
}

// Proxy is the Reverse Proxy component.
type Proxy struct {
	store  registry.Store
	bus    *hookbus.Bus
	client *http.Client
	logger zerolog.Logger

	mu      sync.RWMutex
	targets map[string]*targetState
}

// New constructs a Proxy against store for durable target config and
// bus for lifecycle/health notifications.
func New(store registry.Store, bus *hookbus.Bus, logger zerolog.Logger) *Proxy {
	return &Proxy{
		store:  store,
		bus:    bus,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("component", "proxy").Logger(),
		targets: make(map[string]*targetState),
	}
}

// RegisterTarget creates or replaces a named backend pool.
func (p *Proxy) RegisterTarget(ctx context.Context, target model.ProxyTarget) error {
	if err := target.Validate(); err != nil {
		return orcherr.Validation("proxy.RegisterTarget", target.Name, err)
	}
	if err := p.store.UpsertProxyTarget(ctx, &target); err != nil {
		return orcherr.Store("proxy.RegisterTarget", target.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.targets[target.Name]; ok {
		existing.mu.Lock()
		existing.target = target
		existing.mu.Unlock()
		return nil
	}
	p.targets[target.Name] = &targetState{target: target, stickySession: make(map[string]string)}
	return nil
}

// AddBackend registers a backend with the named target.
func (p *Proxy) AddBackend(target string, backend *model.Backend) error {
	ts, err := p.targetState(target)
	if err != nil {
		return err
	}
	if backend.Status == "" {
		backend.Status = model.BackendHealthy
	}
	if err := backend.Status.Valid(); err != nil {
		return orcherr.Validation("proxy.AddBackend", target, err)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	breakerCfg := circuit.Config{
		FailureThreshold: ts.target.CircuitBreakerThreshold,
		Timeout:          ts.target.CircuitBreakerTimeout,
	}
	ts.backends = append(ts.backends, &backendState{
		backend: backend,
		breaker: circuit.New(backend.Addr(), breakerCfg, p.logger),
	})
	return nil
}

// RemoveBackend drops a backend (by Addr) from the named target.
func (p *Proxy) RemoveBackend(target, addr string) error {
	ts, err := p.targetState(target)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := ts.backends[:0]
	for _, b := range ts.backends {
		if b.backend.Addr() != addr {
			out = append(out, b)
		}
	}
	ts.backends = out
	return nil
}

// SetMaintenance toggles maintenance mode for a backend; a backend in
// maintenance is unaffected by probes and never selected.
func (p *Proxy) SetMaintenance(target, addr string, on bool) error {
	ts, err := p.targetState(target)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, b := range ts.backends {
		if b.backend.Addr() == addr {
			if on {
				b.backend.Status = model.BackendMaintenance
			} else {
				b.backend.Status = model.BackendHealthy
			}
			return nil
		}
	}
	return orcherr.NotFound("proxy.SetMaintenance", addr, nil)
}

// Targets lists the names of every registered target.
func (p *Proxy) Targets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.targets))
	for name := range p.targets {
		out = append(out, name)
	}
	return out
}

// Backends returns a snapshot copy of target's current backends, safe
// for a caller to inspect without racing the health/select loops.
func (p *Proxy) Backends(target string) ([]model.Backend, error) {
	ts, err := p.targetState(target)
	if err != nil {
		return nil, err
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]model.Backend, 0, len(ts.backends))
	for _, b := range ts.backends {
		out = append(out, *b.backend)
	}
	return out, nil
}

// ActiveConnections sums CurrentConnections across every backend
// registered under target, satisfying autoshutdown.ActivityProbe.
func (p *Proxy) ActiveConnections(target string) int64 {
	ts, err := p.targetState(target)
	if err != nil {
		return 0
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	var total int64
	for _, b := range ts.backends {
		total += b.backend.CurrentConnections
	}
	return total
}

func (p *Proxy) targetState(name string) (*targetState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ts, ok := p.targets[name]
	if !ok {
		return nil, orcherr.NotFound("proxy.target", name, nil)
	}
	return ts, nil
}

// Proxy forwards a request to targetName, selecting a backend per the
// target's policy, retrying on connection failures and breaker
// refusals (never after response headers are received), and
// hygienizing headers in both directions.
func (p *Proxy) Proxy(ctx context.Context, targetName, method, path string, headers http.Header, body []byte, clientIP, sessionID string) (*Response, error) {
	ts, err := p.targetState(targetName)
	if err != nil {
		return nil, err
	}

	ts.mu.RLock()
	maxRetries := ts.target.MaxRetries
	retryDelay := ts.target.RetryDelay
	ts.mu.RUnlock()

	var lastErr error
	tried := make(map[string]bool)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		bs, pinned, err := p.selectBackend(ts, clientIP, sessionID, tried)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		tried[bs.backend.Addr()] = true

		if !bs.breaker.Allow() {
			lastErr = orcherr.Backend("proxy.Proxy", bs.backend.Addr(), circuit.ErrOpen)
			if attempt < maxRetries {
				time.Sleep(retryDelay)
				continue
			}
			return nil, lastErr
		}

		atomic.AddInt64(&bs.backend.CurrentConnections, 1)
		resp, connErr := p.forward(ctx, bs.backend, method, path, headers, body, clientIP)
		atomic.AddInt64(&bs.backend.CurrentConnections, -1)

		if connErr != nil {
			bs.breaker.RecordFailure()
			atomic.AddInt64(&bs.backend.ErrorCount, 1)
			lastErr = orcherr.Backend("proxy.Proxy", bs.backend.Addr(), connErr)
			if attempt < maxRetries {
				time.Sleep(retryDelay)
				continue
			}
			return nil, lastErr
		}

		bs.breaker.RecordSuccess()
		atomic.AddInt64(&bs.backend.SuccessCount, 1)
		if sessionID != "" && ts.target.StickySessions && !pinned {
			ts.mu.Lock()
			ts.stickySession[sessionID] = bs.backend.Addr()
			ts.mu.Unlock()
		}
		return resp, nil
	}
	return nil, lastErr
}


func (p *Proxy) forward(ctx context.Context, b *model.Backend, method, path string, headers http.Header, body []byte, clientIP string) (*Response, error) {
	url := fmt.Sprintf("http://%s%s", b.Addr(), path)
	var reader io.Reader
	if len(body) > 0 {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header = hygienicRequestHeaders(headers, clientIP, b.Addr())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:  resp.StatusCode,
		Headers: hygienicResponseHeaders(resp.Header),
		Body:    data,
	}, nil
}
