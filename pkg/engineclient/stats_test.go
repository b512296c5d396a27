package engineclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleWithCPU(totalUsage, systemUsage uint64, online uint64) *apiStats {
	s := &apiStats{}
	s.CPUStats.CPUUsage.TotalUsage = totalUsage
	s.CPUStats.SystemUsage = systemUsage
	s.CPUStats.OnlineCPUs = online
	return s
}

func TestCPUPercent_S1Scenario(t *testing.T) {
	prev := sampleWithCPU(400, 900, 2)
	cur := sampleWithCPU(500, 1000, 2)

	got := cpuPercent(cur, prev)
	require.InDelta(t, 200.0, got, 1e-9)
}

func TestCPUPercent_ZeroSystemDeltaIsZero(t *testing.T) {
	prev := sampleWithCPU(400, 900, 2)
	cur := sampleWithCPU(500, 900, 2)

	require.Zero(t, cpuPercent(cur, prev))
}

func TestCPUPercent_NegativeSystemDeltaIsZero(t *testing.T) {
	prev := sampleWithCPU(400, 900, 2)
	cur := sampleWithCPU(500, 800, 2)

	require.Zero(t, cpuPercent(cur, prev))
}

func TestOnlineCPUs_FallsBackToPercpuLength(t *testing.T) {
	s := &apiStats{}
	s.CPUStats.PercpuUsage = []uint64{1, 2, 3, 4}

	require.EqualValues(t, 4, s.onlineCPUs())
}

func TestOnlineCPUs_DefaultsToOne(t *testing.T) {
	s := &apiStats{}
	require.EqualValues(t, 1, s.onlineCPUs())
}

func TestToContainerStats_MemoryAndNetworkTotals(t *testing.T) {
	cur := sampleWithCPU(500, 1000, 2)
	cur.MemoryStats.Usage = 104857600
	cur.MemoryStats.Limit = 1073741824
	cur.Networks = map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	}{
		"eth0": {RxBytes: 100, TxBytes: 200},
		"eth1": {RxBytes: 50, TxBytes: 25},
	}
	prev := sampleWithCPU(400, 900, 2)

	stats := toContainerStats("a", cur, prev)
	require.EqualValues(t, 150, stats.NetRxBytes)
	require.EqualValues(t, 225, stats.NetTxBytes)
	require.EqualValues(t, 104857600, stats.MemoryUsed)
	require.EqualValues(t, 1073741824, stats.MemoryLimit)
	require.InDelta(t, 9.765625, stats.MemoryPercent(), 1e-6)
}

func TestBlockIOTotals_SumsReadAndWrite(t *testing.T) {
	s := &apiStats{}
	s.BlkioStats.IoServiceBytesRecursive = []apiBlkioEntry{
		{Op: "Read", Value: 10},
		{Op: "Write", Value: 20},
		{Op: "Read", Value: 5},
		{Op: "Sync", Value: 999},
	}
	read, write := blockIOTotals(s)
	require.EqualValues(t, 15, read)
	require.EqualValues(t, 20, write)
}
