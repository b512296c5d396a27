package enginetypes

import "time"

// ComputeAggregate derives an AggregateSnapshot from the current container
// list and per-container stats map, per the health rule: critical if
// total>0 and running==0; warning if aggregate cpu>90 or
// memory-used/memory-limit>0.95; unknown if total==0; healthy otherwise.
func ComputeAggregate(containers []Container, stats map[string]ContainerStats, computedAt time.Time) AggregateSnapshot {
	snap := AggregateSnapshot{
		CountByState: make(map[ContainerState]int, len(containers)),
		ComputedAt:   computedAt,
	}

	for _, c := range containers {
		snap.CountByState[c.State]++
		if c.State == StateRunning {
			snap.RunningCount++
		}
	}
	snap.TotalCount = len(containers)

	for _, s := range stats {
		snap.CPUPercent += s.CPUPercent
		snap.MemoryUsed += s.MemoryUsed
		snap.MemoryLimit += s.MemoryLimit
	}

	switch {
	case snap.TotalCount == 0:
		snap.Health = HealthUnknown
	case snap.RunningCount == 0:
		snap.Health = HealthCritical
	case snap.CPUPercent > 90 || (snap.MemoryLimit > 0 && float64(snap.MemoryUsed)/float64(snap.MemoryLimit) > 0.95):
		snap.Health = HealthWarning
	default:
		snap.Health = HealthHealthy
	}

	return snap
}
