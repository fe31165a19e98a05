package hoststat

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is a point in time reading of host utilisation.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
}

// Sampler reads host utilisation.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemSampler reads utilisation from the operating system.
type SystemSampler struct {
	// Interval is how long CPU usage is measured over. Zero compares against
	// the previous call, which makes the first reading meaningless.
	Interval time.Duration
}

// NewSystemSampler returns a sampler measuring CPU over interval.
func NewSystemSampler(interval time.Duration) *SystemSampler {
	return &SystemSampler{Interval: interval}
}

func (s *SystemSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, s.Interval, false)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read memory usage: %w", err)
	}

	sample := Sample{MemoryPercent: vm.UsedPercent}
	if len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}

	return sample, nil
}

// StaticSampler returns a fixed sample.
type StaticSampler Sample

func (s StaticSampler) Sample(context.Context) (Sample, error) {
	return Sample(s), nil
}
