package engineclient

import (
	"bufio"
	"context"
	"encoding/json"
	"iter"

	"github.com/cuemby/engineeye/pkg/enginerr"
	"github.com/cuemby/engineeye/pkg/enginetypes"
)

// cpuPercent implements the documented formula: when the system delta is
// zero (container briefly paused, or the engine hasn't accumulated a
// second sample yet) the result is defined as 0, never infinity or NaN.
func cpuPercent(cur, prev *apiStats) float64 {
	cpuDelta := float64(cur.CPUStats.CPUUsage.TotalUsage) - float64(prev.CPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(cur.CPUStats.SystemUsage) - float64(prev.CPUStats.SystemUsage)
	if sysDelta <= 0 {
		return 0
	}
	return (cpuDelta / sysDelta) * float64(cur.onlineCPUs()) * 100
}

func networkTotals(s *apiStats) (rx, tx uint64) {
	for _, n := range s.Networks {
		rx += n.RxBytes
		tx += n.TxBytes
	}
	return rx, tx
}

func blockIOTotals(s *apiStats) (read, write uint64) {
	for _, e := range s.BlkioStats.IoServiceBytesRecursive {
		switch e.Op {
		case "Read", "read":
			read += e.Value
		case "Write", "write":
			write += e.Value
		}
	}
	return read, write
}

func toContainerStats(containerID string, cur, prev *apiStats) enginetypes.ContainerStats {
	rx, tx := networkTotals(cur)
	blkRead, blkWrite := blockIOTotals(cur)
	return enginetypes.ContainerStats{
		ContainerID: containerID,
		SampledAt:   cur.Read,
		CPUPercent:  cpuPercent(cur, prev),
		MemoryUsed:  cur.MemoryStats.Usage,
		MemoryLimit: cur.MemoryStats.Limit,
		NetRxBytes:  rx,
		NetTxBytes:  tx,
		BlockRead:   blkRead,
		BlockWrite:  blkWrite,
	}
}

// StatsOnce requests stats?stream=false. The engine packs two consecutive
// raw samples ("precpu" and "cpu") into that single response, so one round
// trip is normally enough to compute a real cpu-percent delta. Some engines
// report a zero precpu system-usage on the first sample taken right after
// a container starts; in that case we issue a second non-streaming request
// and diff the two raw responses instead.
func (c *Client) StatsOnce(ctx context.Context, containerID string) (enginetypes.ContainerStats, error) {
	first, err := c.rawStatsOnce(ctx, containerID)
	if err != nil {
		return enginetypes.ContainerStats{}, err
	}

	prev := &apiStats{}
	prev.CPUStats.CPUUsage.TotalUsage = first.PrecpuStats.CPUUsage.TotalUsage
	prev.CPUStats.SystemUsage = first.PrecpuStats.SystemUsage

	if first.PrecpuStats.SystemUsage == 0 {
		second, err := c.rawStatsOnce(ctx, containerID)
		if err != nil {
			return enginetypes.ContainerStats{}, err
		}
		return toContainerStats(containerID, second, first), nil
	}

	return toContainerStats(containerID, first, prev), nil
}

func (c *Client) rawStatsOnce(ctx context.Context, containerID string) (*apiStats, error) {
	resp, err := c.do(ctx, "GET", "/containers/"+containerID+"/stats", query{"stream": "false"}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, 200); err != nil {
		return nil, err
	}

	var raw apiStats
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, enginerr.Wrap(enginerr.ParseError, "decoding stats response", err)
	}
	return &raw, nil
}

// StatsStream requests stats?stream=true, an indefinitely long response
// body with one JSON object per line. Each yielded sample's cpu-percent is
// computed against the raw sample immediately before it in the same
// stream; the very first line has no predecessor, so it is read and
// discarded before the sequence starts yielding.
func (c *Client) StatsStream(ctx context.Context, containerID string) iter.Seq2[enginetypes.ContainerStats, error] {
	return func(yield func(enginetypes.ContainerStats, error) bool) {
		resp, err := c.do(ctx, "GET", "/containers/"+containerID+"/stats", query{"stream": "true"}, nil)
		if err != nil {
			yield(enginetypes.ContainerStats{}, err)
			return
		}
		defer resp.Body.Close()
		if err := checkStatus(resp, 200); err != nil {
			yield(enginetypes.ContainerStats{}, err)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		var prev *apiStats
		for scanner.Scan() {
			if ctx.Err() != nil {
				yield(enginetypes.ContainerStats{}, enginerr.New(enginerr.Cancelled, "stats stream cancelled"))
				return
			}

			var cur apiStats
			if err := json.Unmarshal(scanner.Bytes(), &cur); err != nil {
				if !yield(enginetypes.ContainerStats{}, enginerr.Wrap(enginerr.ParseError, "decoding stats line", err)) {
					return
				}
				continue
			}

			if prev == nil {
				prev = &cur
				continue
			}
			sample := toContainerStats(containerID, &cur, prev)
			prev = &cur
			if !yield(sample, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(enginetypes.ContainerStats{}, enginerr.Wrap(enginerr.ConnectionFailed, "reading stats stream", err))
		}
	}
}
