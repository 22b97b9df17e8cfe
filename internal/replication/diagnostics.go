package replication

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSample is one point-in-time host resource reading, taken
// around a replication batch for diagnostic reporting (not fed into
// any simulation statistic).
type ResourceSample struct {
	Timestamp      time.Time
	CPUPercent     float64
	MemUsedPercent float64
}

// SampleHostResources takes one CPU/memory snapshot. CPU sampling
// blocks for the given interval; pass a short interval (e.g. 200ms)
// when calling between replications.
func SampleHostResources(ctx context.Context, interval time.Duration) (ResourceSample, error) {
	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return ResourceSample{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ResourceSample{}, err
	}
	sample := ResourceSample{Timestamp: time.Now(), MemUsedPercent: vm.UsedPercent}
	if len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	return sample, nil
}
