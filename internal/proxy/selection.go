package proxy

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync/atomic"

	"github.com/cuemby/selfstart/internal/model"
	"github.com/cuemby/selfstart/internal/orcherr"
)

// selectBackend applies the target's selection policy over the
// healthy, untried backends, honoring a pinned sticky session first.
func (p *Proxy) selectBackend(ts *targetState, clientIP, sessionID string, tried map[string]bool) (*backendState, bool, error) {
	ts.mu.RLock()
	policy := ts.target.Policy
	sticky := ts.target.StickySessions
	pinnedAddr, hasPin := ts.stickySession[sessionID]
	candidates := make([]*backendState, 0, len(ts.backends))
	for _, b := range ts.backends {
		if b.backend.Selectable() && !tried[b.backend.Addr()] {
			candidates = append(candidates, b)
		}
	}
	ts.mu.RUnlock()

	if sticky && sessionID != "" && hasPin && !tried[pinnedAddr] {
		for _, b := range candidates {
			if b.backend.Addr() == pinnedAddr {
				return b, true, nil
			}
		}
	}

	if len(candidates) == 0 {
		return nil, false, orcherr.Backend("proxy.selectBackend", ts.target.Name, errNoHealthyBackends)
	}

	switch policy {
	case model.PolicyLeastConnections:
		return leastConnections(candidates), false, nil
	case model.PolicyWeighted:
		return weighted(candidates), false, nil
	case model.PolicyIPHash:
		return ipHash(candidates, clientIP), false, nil
	case model.PolicyHealthBased:
		return healthBased(candidates), false, nil
	default:
		return p.roundRobin(ts, candidates), false, nil
	}
}

var errNoHealthyBackends = newSelectionError("no healthy backends available")

type selectionError string

func newSelectionError(msg string) error { return selectionError(msg) }
func (e selectionError) Error() string    { return string(e) }

// roundRobin increments a counter through the registry store when
// available so the index is shared across proxy instances; on a store
// error it falls back to a local atomic counter, favoring availability
// over perfect fairness.
func (p *Proxy) roundRobin(ts *targetState, candidates []*backendState) *backendState {
	idx, err := p.store.NextRoundRobinIndex(context.Background(), ts.target.Name, len(candidates))
	if err != nil {
		n := atomic.AddUint64(&ts.localRR, 1) - 1
		idx = int(n % uint64(len(candidates)))
	}
	return candidates[idx]
}

func leastConnections(candidates []*backendState) *backendState {
	best := candidates[0]
	for _, b := range candidates[1:] {
		if b.backend.CurrentConnections < best.backend.CurrentConnections {
			best = b
		}
	}
	return best
}

// weighted picks proportionally to Weight; a zero-sum weight pool
// degenerates to uniform selection.
func weighted(candidates []*backendState) *backendState {
	total := 0
	for _, b := range candidates {
		w := b.backend.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total == 0 {
		return candidates[0]
	}
	r := rand.Intn(total)
	for _, b := range candidates {
		w := b.backend.Weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return b
		}
		r -= w
	}
	return candidates[len(candidates)-1]
}

func ipHash(candidates []*backendState, clientIP string) *backendState {
	h := fnv.New32a()
	h.Write([]byte(clientIP))
	idx := int(h.Sum32()) % len(candidates)
	if idx < 0 {
		idx += len(candidates)
	}
	return candidates[idx]
}

func healthBased(candidates []*backendState) *backendState {
	best := candidates[0]
	for _, b := range candidates[1:] {
		if b.backend.HealthRatio() > best.backend.HealthRatio() {
			best = b
		}
	}
	return best
}
