package engineclient

import (
	"time"

	"github.com/cuemby/engineeye/pkg/enginetypes"
)

// apiVersion is prefixed onto every request path. Pinned to a v1.43-
// compatible engine HTTP API.
const apiVersion = "/v1.43"

// apiContainerSummary mirrors one element of GET /containers/json.
type apiContainerSummary struct {
	Id      string            `json:"Id"`
	Names   []string          `json:"Names"`
	Image   string            `json:"Image"`
	Command string            `json:"Command"`
	Created int64             `json:"Created"`
	State   string            `json:"State"`
	Status  string            `json:"Status"`
	Ports   []apiPort         `json:"Ports"`
	Labels  map[string]string `json:"Labels"`
	HostConfig struct {
		NetworkMode string `json:"NetworkMode"`
	} `json:"HostConfig"`
}

type apiPort struct {
	IP          string `json:"IP"`
	PrivatePort int    `json:"PrivatePort"`
	PublicPort  int    `json:"PublicPort"`
	Type        string `json:"Type"`
}

func (s apiContainerSummary) toContainer() enginetypes.Container {
	name := s.Id
	if len(s.Names) > 0 {
		name = trimLeadingSlash(s.Names[0])
	}
	ports := make([]enginetypes.PortMapping, 0, len(s.Ports))
	for _, p := range s.Ports {
		ports = append(ports, enginetypes.PortMapping{
			IP:          p.IP,
			PublicPort:  uint16(p.PublicPort),
			PrivatePort: uint16(p.PrivatePort),
			Type:        p.Type,
		})
	}
	return enginetypes.Container{
		ID:          s.Id,
		Name:        name,
		Image:       s.Image,
		Command:     s.Command,
		CreatedAt:   time.Unix(s.Created, 0).UTC(),
		State:       enginetypes.ContainerState(s.State),
		Status:      s.Status,
		Ports:       ports,
		Labels:      s.Labels,
		NetworkMode: s.HostConfig.NetworkMode,
	}
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

// apiContainerInspect mirrors the subset of GET /containers/{id}/json that
// the store and detail view need. Container.Env is deliberately not carried
// here, so environment values (which may hold secrets) never leave the
// decoder.
type apiContainerInspect struct {
	Id    string `json:"Id"`
	Name  string `json:"Name"`
	Image string `json:"Image"`
	State struct {
		Status     string `json:"Status"`
		Running    bool   `json:"Running"`
		Paused     bool   `json:"Paused"`
		Restarting bool   `json:"Restarting"`
		Health     *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
	Created string `json:"Created"`
}

// apiStats mirrors GET /containers/{id}/stats, the fields actually used by
// the cpu/memory/network/block-io computations in stats.go.
type apiStats struct {
	Read    time.Time `json:"read"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage    uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint64 `json:"online_cpus"`
		PercpuUsage    []uint64 `json:"percpu_usage"`
	} `json:"cpu_stats"`
	PrecpuStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
		Stats struct {
			Cache         uint64 `json:"cache"`
			InactiveFile  uint64 `json:"inactive_file"`
		} `json:"stats"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
	BlkioStats struct {
		IoServiceBytesRecursive []apiBlkioEntry `json:"io_service_bytes_recursive"`
	} `json:"blkio_stats"`
}

type apiBlkioEntry struct {
	Op    string `json:"op"`
	Value uint64 `json:"value"`
}

// onlineCPUs returns the engine-reported online CPU count, falling back to
// counting per-cpu usage entries when online_cpus is absent (older engines).
func (s *apiStats) onlineCPUs() uint64 {
	if s.CPUStats.OnlineCPUs > 0 {
		return s.CPUStats.OnlineCPUs
	}
	if n := len(s.CPUStats.PercpuUsage); n > 0 {
		return uint64(n)
	}
	return 1
}
