// Package hookbus is the in-process, typed publish/subscribe bus every
// control loop publishes on to notify external collaborators (webhooks,
// metrics, the websocket event stream).
package hookbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Point enumerates the fixed set of hook points control loops publish to.
type Point string

const (
	BeforeContainerStart Point = "before_container_start"
	AfterContainerStart  Point = "after_container_start"
	BeforeContainerStop  Point = "before_container_stop"
	AfterContainerStop   Point = "after_container_stop"
	OnServiceDiscovery   Point = "on_service_discovery"
	OnScalingEvent       Point = "on_scaling_event"
	OnHealthCheck        Point = "on_health_check"
	OnMetricsCollection  Point = "on_metrics_collection"
	OnAPIRequest         Point = "on_api_request"
	OnWebhookTrigger     Point = "on_webhook_trigger"
	OnShutdownPending    Point = "on_shutdown_pending"
)

// Valid reports whether p is one of the enumerated hook points.
func (p Point) Valid() bool {
	switch p {
	case BeforeContainerStart, AfterContainerStart, BeforeContainerStop, AfterContainerStop,
		OnServiceDiscovery, OnScalingEvent, OnHealthCheck, OnMetricsCollection,
		OnAPIRequest, OnWebhookTrigger, OnShutdownPending:
		return true
	default:
		return false
	}
}

// Event is a single publication on the bus.
type Event struct {
	Point     Point
	Data      any
	Timestamp time.Time
}

// Subscriber receives events published to a hook point.
type Subscriber func(Event)

// SubscriberError captures a single subscriber's outcome for a publish,
// including a recovered panic, so one bad subscriber never breaks others.
type SubscriberError struct {
	Index int
	Err   error
}

// Bus is the typed pub/sub. Delivery is best-effort and synchronous
// within the publishing goroutine: no queuing, no ordering guarantees
// across hook points, subscribers invoked in registration order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Point][]Subscriber
	logger zerolog.Logger
}

// New returns an empty Bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Point][]Subscriber),
		logger: logger.With().Str("component", "hookbus").Logger(),
	}
}

// Subscribe registers fn for point, returning an unsubscribe func.
func (b *Bus) Subscribe(point Point, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[point] = append(b.subs[point], fn)
	idx := len(b.subs[point]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[point]
		if idx < len(list) {
			list[idx] = nil
		}
	}
}

// Publish delivers data to every subscriber of point, in registration
// order, isolating panics so one subscriber's failure never prevents
// the rest from running.
func (b *Bus) Publish(point Point, data any) []SubscriberError {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[point]...)
	b.mu.RUnlock()

	evt := Event{Point: point, Data: data, Timestamp: time.Now()}
	var errs []SubscriberError
	for i, fn := range subs {
		if fn == nil {
			continue
		}
		if err := b.deliver(fn, evt); err != nil {
			errs = append(errs, SubscriberError{Index: i, Err: err})
			b.logger.Warn().Err(err).Str("point", string(point)).Int("subscriber", i).Msg("hook subscriber failed")
		}
	}
	return errs
}

func (b *Bus) deliver(fn Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{recovered: r}
		}
	}()
	fn(evt)
	return nil
}

type panicError struct {
	recovered any
}

func (p panicError) Error() string {
	return "hook subscriber panicked"
}
