// Package circuit implements a per-backend circuit breaker:
// closed/open/half-open states, a failure threshold to trip, and a
// timeout before a single half-open trial either closes or re-opens
// the breaker.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is one of closed, open, half-open.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures breaker behavior: per-target
// circuit_breaker_threshold / circuit_breaker_timeout.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig mirrors the usual breaker defaults: a single half-open
// trial either closes or re-opens the breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// ErrOpen is returned by Execute when the breaker refuses a call.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker is a per-backend circuit breaker.
type Breaker struct {
	mu sync.RWMutex

	name   string
	config Config
	logger zerolog.Logger

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	halfOpenProbeInFlight bool

	totalFailures  int64
	totalSuccesses int64
	totalTrips     int64
}

// New constructs a closed breaker for the named backend.
func New(name string, cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Breaker{
		name:   name,
		config: cfg,
		logger: logger.With().Str("component", "proxy.circuit").Str("backend", name).Logger(),
		state:  StateClosed,
	}
}

// Allow reports whether a call should proceed, transitioning open ->
// half-open once Timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.Timeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenProbeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker once SuccessThreshold trials pass
// in half-open, or is a no-op in closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	b.totalSuccesses++

	if b.state == StateHalfOpen {
		b.halfOpenProbeInFlight = false
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure trips the breaker from closed once FailureThreshold
// consecutive failures accrue, or immediately re-opens a half-open
// breaker on its single trial's failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.totalFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.halfOpenProbeInFlight = false
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.transitionTo(StateOpen)
	b.openedAt = time.Now()
	b.halfOpenProbeInFlight = false
	b.totalTrips++
	b.logger.Warn().Int("failures", b.consecutiveFailures).Msg("circuit breaker tripped")
}

func (b *Breaker) transitionTo(next State) {
	if b.state == next {
		return
	}
	b.state = next
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Execute runs op if the breaker allows it, recording the outcome.
func (b *Breaker) Execute(op func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := op(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
