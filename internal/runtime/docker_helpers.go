package runtime

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-connections/nat"
)

// toPortBindings builds the nat.PortMap/PortSet pair ContainerCreate
// expects from the simple int->int map in CreateSpec.
func toPortBindings(ports map[int]int) (nat.PortMap, nat.PortSet) {
	bindings := nat.PortMap{}
	exposed := nat.PortSet{}
	for containerPort, hostPort := range ports {
		p := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", hostPort)}}
		exposed[p] = struct{}{}
	}
	return bindings, exposed
}

// dockerStatsJSON mirrors the subset of the Docker Engine stats response
// this package needs; decoded independently of the SDK's own (frequently
// renamed) stats struct so a client-library bump can't silently change
// our wire parsing.
type dockerStatsJSON struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

func decodeStats(r io.Reader) (Stats, error) {
	var raw dockerStatsJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Stats{}, err
	}

	var rxTotal, txTotal uint64
	for _, n := range raw.Networks {
		rxTotal += n.RxBytes
		txTotal += n.TxBytes
	}

	return Stats{
		CPUTotalUsage:    raw.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotalUsage: raw.PreCPUStats.CPUUsage.TotalUsage,
		SystemCPUUsage:   raw.CPUStats.SystemCPUUsage,
		PreSystemUsage:   raw.PreCPUStats.SystemCPUUsage,
		OnlineCPUs:       raw.CPUStats.OnlineCPUs,
		MemoryUsage:      raw.MemoryStats.Usage,
		MemoryLimit:      raw.MemoryStats.Limit,
		NetworkRxBytes:   rxTotal,
		NetworkTxBytes:   txTotal,
		SampledAt:        time.Now(),
	}, nil
}
