package runtime

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/selfstart/internal/orcherr"
)

// FakeAdapter is an in-memory Adapter for unit tests across Discovery,
// the Orchestrator, and the Auto-Scaler: a swap point for each RPC,
// with recorded calls for assertions.
type FakeAdapter struct {
	mu         sync.Mutex
	containers map[string]ContainerSummary
	stats      map[string]Stats
	nextID     int

	StatsFunc func(id string) (Stats, error)
	ExecFunc  func(id string, cmd []string) (ExecResult, error)

	StartCalls  []string
	StopCalls   []string
	PauseCalls  []string
	RemoveCalls []string
}

// NewFakeAdapter returns an empty fake; use Seed to pre-populate containers.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		containers: make(map[string]ContainerSummary),
		stats:      make(map[string]Stats),
	}
}

// Seed registers a container directly, bypassing Create, for discovery
// and health-loop tests that start from an already-running fixture.
func (f *FakeAdapter) Seed(c ContainerSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[c.ID] = c
}

// SetStats configures the stats returned for a given container id.
func (f *FakeAdapter) SetStats(id string, s Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[id] = s
}

func (f *FakeAdapter) ListAll(_ context.Context) ([]ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContainerSummary, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *FakeAdapter) Get(_ context.Context, nameOrID string) (ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[nameOrID]; ok {
		return c, nil
	}
	for _, c := range f.containers {
		if c.Name == nameOrID {
			return c, nil
		}
	}
	return ContainerSummary{}, orcherr.NotFound("runtime.Get", nameOrID, nil)
}

func (f *FakeAdapter) Create(_ context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "fake-" + itoa(f.nextID)
	f.containers[id] = ContainerSummary{
		ID:     id,
		Name:   spec.Name,
		Image:  spec.Image,
		State:  "created",
		Labels: spec.Labels,
	}
	return id, nil
}

func (f *FakeAdapter) Start(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StartCalls = append(f.StartCalls, id)
	c, ok := f.containers[id]
	if !ok {
		return orcherr.NotFound("runtime.Start", id, nil)
	}
	c.State = "running"
	f.containers[id] = c
	return nil
}

func (f *FakeAdapter) Stop(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, id)
	c, ok := f.containers[id]
	if !ok {
		return orcherr.NotFound("runtime.Stop", id, nil)
	}
	c.State = "exited"
	f.containers[id] = c
	return nil
}

func (f *FakeAdapter) Pause(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PauseCalls = append(f.PauseCalls, id)
	c, ok := f.containers[id]
	if !ok {
		return orcherr.NotFound("runtime.Pause", id, nil)
	}
	c.State = "paused"
	f.containers[id] = c
	return nil
}

func (f *FakeAdapter) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemoveCalls = append(f.RemoveCalls, id)
	delete(f.containers, id)
	delete(f.stats, id)
	return nil
}

func (f *FakeAdapter) Stats(_ context.Context, id string) (Stats, error) {
	if f.StatsFunc != nil {
		return f.StatsFunc(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stats[id]
	if !ok {
		return Stats{}, orcherr.NotFound("runtime.Stats", id, nil)
	}
	return s, nil
}

func (f *FakeAdapter) Logs(_ context.Context, id string, _ int, _ bool) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *FakeAdapter) Exec(_ context.Context, id string, cmd []string) (ExecResult, error) {
	if f.ExecFunc != nil {
		return f.ExecFunc(id, cmd)
	}
	return ExecResult{ExitCode: 0}, nil
}

var _ Adapter = (*FakeAdapter)(nil)
