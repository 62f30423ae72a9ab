// Package runtime is the opaque Runtime Adapter: list, inspect, create,
// start, stop, remove, stats, logs, exec against a container runtime.
// The production implementation wraps
// github.com/docker/docker/client; tests use the in-memory Fake.
package runtime

import (
	"context"
	"io"
	"time"
)

// ContainerSummary is the minimal view of a runtime container used by
// Service Discovery to build a Service from labels.
type ContainerSummary struct {
	ID     string
	Name   string
	Image  string
	State  string // "running", "exited", "created", ...
	Labels map[string]string
	// Networks maps network name to the container's IP on that network,
	// used by discovery's host-resolution preference rule.
	Networks map[string]string
}

// CreateSpec declares a container to be created by the orchestrator.
type CreateSpec struct {
	Name          string
	Image         string
	Ports         map[int]int
	Environment   map[string]string
	Volumes       map[string]string
	Labels        map[string]string
	RestartPolicy string
	AutoRemove    bool
	// Platform pins the image/container to a specific OS/architecture
	// (e.g. "linux"/"arm64"), matching Docker's own multi-arch pull
	// behavior. Empty fields let the daemon pick its default platform.
	Platform Platform
}

// Platform is the OS/architecture pair a container is created for. It
// maps directly onto the OCI image-spec platform object the Docker
// Engine API accepts alongside ContainerCreate.
type Platform struct {
	OS           string
	Architecture string
	Variant      string
}

func (p Platform) empty() bool {
	return p.OS == "" && p.Architecture == "" && p.Variant == ""
}

// Stats mirrors the Docker Engine stats shape:
// cpu_stats/precpu_stats/memory_stats/networks. Field names are kept
// close to the Docker API so CPU/memory/network derivation reads the
// same formulas as the upstream documentation.
type Stats struct {
	CPUTotalUsage    uint64
	PreCPUTotalUsage uint64
	SystemCPUUsage   uint64
	PreSystemUsage   uint64
	OnlineCPUs       uint32
	MemoryUsage      uint64
	MemoryLimit      uint64
	NetworkRxBytes   uint64
	NetworkTxBytes   uint64
	SampledAt        time.Time
}

// ExecResult is the outcome of an exec-based health check or admin command.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Adapter is the opaque container-runtime contract every control loop
// depends on by interface, never by concrete client.
type Adapter interface {
	ListAll(ctx context.Context) ([]ContainerSummary, error)
	Get(ctx context.Context, nameOrID string) (ContainerSummary, error)
	Create(ctx context.Context, spec CreateSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Pause(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (Stats, error)
	Logs(ctx context.Context, id string, tail int, timestamps bool) (io.ReadCloser, error)
	Exec(ctx context.Context, id string, cmd []string) (ExecResult, error)
}

// CPUPercent derives CPU % the way the Docker Engine documents it:
// (cpu_delta / system_delta) * 100.
func (s Stats) CPUPercent() float64 {
	cpuDelta := float64(s.CPUTotalUsage) - float64(s.PreCPUTotalUsage)
	systemDelta := float64(s.SystemCPUUsage) - float64(s.PreSystemUsage)
	if systemDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	return (cpuDelta / systemDelta) * 100.0
}

// MemoryPercent derives memory % as usage/limit.
func (s Stats) MemoryPercent() float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return (float64(s.MemoryUsage) / float64(s.MemoryLimit)) * 100.0
}

// NetworkMbps converts byte deltas over windowSeconds into Mbps:
// bytes * 8 / (1024^2 * window_seconds).
func NetworkMbps(deltaBytes uint64, windowSeconds float64) float64 {
	if windowSeconds <= 0 {
		return 0
	}
	return (float64(deltaBytes) * 8) / (1024 * 1024) / windowSeconds
}
