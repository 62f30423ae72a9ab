package main

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// peerLimiter tracks a per-client-IP token bucket for the forwarding
// path: one limiter per peer, with a background sweep evicting peers
// gone quiet.
type peerLimiter struct {
	mu      sync.Mutex
	entries map[string]*peerEntry
	limit   rate.Limit
	burst   int
}

type peerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newPeerLimiter(perSecond float64, burst int) *peerLimiter {
	pl := &peerLimiter{
		entries: make(map[string]*peerEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
	go pl.sweep()
	return pl
}

func (pl *peerLimiter) allow(peer string) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	e, ok := pl.entries[peer]
	if !ok {
		e = &peerEntry{limiter: rate.NewLimiter(pl.limit, pl.burst)}
		pl.entries[peer] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

func (pl *peerLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		pl.mu.Lock()
		for k, e := range pl.entries {
			if time.Since(e.lastSeen) > 10*time.Minute {
				delete(pl.entries, k)
			}
		}
		pl.mu.Unlock()
	}
}

// withRateLimit rejects a peer exceeding limiter with 429 before next
// is invoked, applied to the reverse-proxy forwarding route.
func withRateLimit(limiter *peerLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			peer = host
		}
		if !limiter.allow(peer) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
