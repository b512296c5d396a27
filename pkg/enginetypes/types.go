// Package enginetypes defines the domain model shared by every other
// package in engineeye: containers, their stats, derived aggregates,
// metrics history points, host configuration, and section rules.
package enginetypes

import "time"

// ContainerState is the lifecycle state of a container as reported by the
// engine.
type ContainerState string

const (
	StateRunning    ContainerState = "running"
	StatePaused     ContainerState = "paused"
	StateRestarting ContainerState = "restarting"
	StateExited     ContainerState = "exited"
	StateCreated    ContainerState = "created"
	StateDead       ContainerState = "dead"
	StateRemoving   ContainerState = "removing"
)

// PortMapping describes a single published port.
type PortMapping struct {
	PrivatePort uint16
	PublicPort  uint16
	Type        string // "tcp" or "udp"
	IP          string
}

// Container is the stable view of an engine-reported container. Id is
// immutable for the container's lifetime; every other field may change
// between refreshes.
type Container struct {
	ID          string
	Name        string
	Image       string
	Command     string
	CreatedAt   time.Time
	State       ContainerState
	Status      string
	Ports       []PortMapping
	Labels      map[string]string
	NetworkMode string
}

// ContainerStats is one sample of a container's resource usage.
type ContainerStats struct {
	ContainerID string
	SampledAt   time.Time
	CPUPercent  float64
	MemoryUsed  uint64
	MemoryLimit uint64
	NetRxBytes  uint64
	NetTxBytes  uint64
	BlockRead   uint64
	BlockWrite  uint64
}

// MemoryPercent returns MemoryUsed/MemoryLimit*100, or 0 if the limit is
// unset.
func (s ContainerStats) MemoryPercent() float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return float64(s.MemoryUsed) / float64(s.MemoryLimit) * 100
}

// Health is the overall health classification of an AggregateSnapshot.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
	HealthUnknown  Health = "unknown"
)

// AggregateSnapshot is the derived summary computed from the current
// container list and stats map. See ComputeAggregate for the function
// that produces it.
type AggregateSnapshot struct {
	CPUPercent    float64
	MemoryUsed    uint64
	MemoryLimit   uint64
	CountByState  map[ContainerState]int
	TotalCount    int
	RunningCount  int
	ComputedAt    time.Time
	Health        Health
}

// SeriesKind identifies one of the four tracked aggregate time series.
type SeriesKind string

const (
	SeriesCPUPercent    SeriesKind = "cpu_percent"
	SeriesMemoryPercent SeriesKind = "memory_percent"
	SeriesNetRxRate     SeriesKind = "net_rx_rate"
	SeriesDiskReadRate  SeriesKind = "disk_read_rate"
)

// HistoryPoint is one (instant, value) sample in a MetricsHistory series.
type HistoryPoint struct {
	At    time.Time
	Value float64
}

// ConnectionKind selects which Transport variant a HostConfig uses.
type ConnectionKind string

const (
	ConnLocalSocket ConnectionKind = "local-socket"
	ConnSSHTunnel   ConnectionKind = "ssh-tunnel"
	ConnTCPTLS      ConnectionKind = "tcp-tls"
)

// EngineKind hints at the default socket path for local connections.
type EngineKind string

const (
	EngineDocker EngineKind = "docker"
	EnginePodman EngineKind = "podman"
)

// HostConfig describes one engine endpoint the store can connect to.
type HostConfig struct {
	ID             string
	DisplayName    string
	ConnectionKind ConnectionKind
	Engine         EngineKind

	// Local socket
	SocketPath string

	// SSH tunnel
	SSHHostname   string
	SSHUser       string
	SSHPort       int
	RemoteSocket  string
	RemoteTCPPort int

	// TCP-TLS
	TCPHost string
	TCPPort int
}

// DefaultSocketPath returns the conventional engine socket path for the
// host's EngineKind, used when SocketPath is unset.
func (h HostConfig) DefaultSocketPath() string {
	switch h.Engine {
	case EnginePodman:
		return "/run/podman/podman.sock"
	default:
		return "/var/run/docker.sock"
	}
}

// MatchType is the predicate kind a SectionRule uses.
type MatchType string

const (
	MatchNameContains  MatchType = "name-contains"
	MatchImageContains MatchType = "image-contains"
	MatchLabelEquals   MatchType = "label-equals"
	MatchNameRegex     MatchType = "name-regex"
)

// SectionRule is one membership predicate; a Section's membership is the
// OR of its rules.
type SectionRule struct {
	Match   MatchType
	Pattern string
	// Key is only meaningful for MatchLabelEquals ("key=value" split on
	// Pattern would be ambiguous if the value itself contains '=').
	Key string
}

// Section is a user-defined, purely view-layer grouping of containers.
type Section struct {
	ID    string
	Name  string
	Rules []SectionRule
}
