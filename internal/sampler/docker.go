package sampler

import (
	"context"
	"strings"

	"case-bench/internal/runtime"

	"github.com/docker/docker/api/types"
)

// DockerReader reads one instance's cgroup accounting counters through the
// container engine.
type DockerReader struct {
	client   *runtime.Client
	instance *runtime.Instance
}

func NewDockerReader(client *runtime.Client, instance *runtime.Instance) *DockerReader {
	return &DockerReader{client: client, instance: instance}
}

func (r *DockerReader) ReadSample(ctx context.Context) (Sample, error) {
	stats, err := r.client.ReadStats(ctx, r.instance)
	if err != nil {
		return Sample{}, err
	}
	return parseStats(stats), nil
}

func parseStats(stats *types.StatsJSON) Sample {
	sample := Sample{
		CPUTotal:    stats.CPUStats.CPUUsage.TotalUsage,
		CPUKernel:   stats.CPUStats.CPUUsage.UsageInKernelmode,
		CPUUser:     stats.CPUStats.CPUUsage.UsageInUsermode,
		MemoryUsage: stats.MemoryStats.Usage,
	}

	// cgroup v1 reports "rss", v2 reports "anon".
	if rss, ok := stats.MemoryStats.Stats["rss"]; ok {
		sample.MemoryRSS = rss
	} else if anon, ok := stats.MemoryStats.Stats["anon"]; ok {
		sample.MemoryRSS = anon
	} else {
		sample.MemoryRSS = stats.MemoryStats.Usage
	}

	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			sample.DiskRead += entry.Value
		case "write":
			sample.DiskWrite += entry.Value
		}
	}

	for _, network := range stats.Networks {
		sample.NetworkRx += network.RxBytes
		sample.NetworkTx += network.TxBytes
	}

	return sample
}
