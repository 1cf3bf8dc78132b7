package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats describes the machine the process runs on.
type HostStats struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	SampledAt     time.Time `json:"sampled_at"`
}

// HostSampler caches host stats so health checks don't hammer /proc.
type HostSampler struct {
	mu     sync.Mutex
	maxAge time.Duration
	last   HostStats
	now    func() time.Time
	read   func(context.Context) (HostStats, error)
}

func NewHostSampler(maxAge time.Duration) *HostSampler {
	return &HostSampler{maxAge: maxAge, now: time.Now, read: ReadHost}
}

// Sample returns cached stats when they are younger than maxAge and reads
// fresh ones otherwise. A failed read keeps the previous values.
func (s *HostSampler) Sample(ctx context.Context) (HostStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.last.SampledAt.IsZero() && now.Sub(s.last.SampledAt) < s.maxAge {
		return s.last, nil
	}

	stats, err := s.read(ctx)
	if err != nil {
		return s.last, err
	}
	stats.SampledAt = now
	s.last = stats
	return stats, nil
}

// ReadHost reads CPU, memory and uptime. CPU usage is measured since the
// previous call in this process.
func ReadHost(ctx context.Context) (HostStats, error) {
	var out HostStats

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return out, err
	}
	if len(percents) > 0 {
		out.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return out, err
	}
	out.MemoryPercent = vm.UsedPercent

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return out, err
	}
	out.UptimeSeconds = uptime
	return out, nil
}
