// Package sysinfo samples host disk, CPU and memory usage with gopsutil.
package sysinfo

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/domain"
)

// DefaultSampleWindow is how long CPU load is measured per Usage call.
const DefaultSampleWindow = 500 * time.Millisecond

var _ in.SystemService = (*Service)(nil)

// Service implements in.SystemService for the filesystem holding path.
type Service struct {
	path   string
	window time.Duration
	log    zerowrap.Logger

	diskUsage  func(ctx context.Context, path string) (*disk.UsageStat, error)
	cpuInfo    func(ctx context.Context) ([]cpu.InfoStat, error)
	cpuCounts  func(ctx context.Context, logical bool) (int, error)
	cpuPercent func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)
	virtualMem func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swapMem    func(ctx context.Context) (*mem.SwapMemoryStat, error)
}

// New creates a service reporting on the filesystem that holds path.
func New(path string, log zerowrap.Logger) *Service {
	return &Service{
		path:       path,
		window:     DefaultSampleWindow,
		log:        log,
		diskUsage:  disk.UsageWithContext,
		cpuInfo:    cpu.InfoWithContext,
		cpuCounts:  cpu.CountsWithContext,
		cpuPercent: cpu.PercentWithContext,
		virtualMem: mem.VirtualMemoryWithContext,
		swapMem:    mem.SwapMemoryWithContext,
	}
}

// Disk reports usage of the artifact filesystem.
func (s *Service) Disk(ctx context.Context) (*domain.DiskUsage, error) {
	u, err := s.diskUsage(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", s.path, err)
	}
	return &domain.DiskUsage{
		Path:        s.path,
		TotalBytes:  u.Total,
		UsedBytes:   u.Used,
		FreeBytes:   u.Free,
		UsedPercent: u.UsedPercent,
	}, nil
}

// CPU reports the processor model and core counts.
func (s *Service) CPU(ctx context.Context) (*domain.CPUInfo, error) {
	info := &domain.CPUInfo{}

	stats, err := s.cpuInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu info: %w", err)
	}
	if len(stats) > 0 {
		info.Model = stats[0].ModelName
		info.MHz = stats[0].Mhz
	}

	if info.PhysicalCores, err = s.cpuCounts(ctx, false); err != nil {
		// Some virtualized hosts hide the topology.
		log := zerowrap.FromCtx(ctx)
		log.Debug().Err(err).Msg("physical core count unavailable")
	}
	if info.LogicalCores, err = s.cpuCounts(ctx, true); err != nil {
		return nil, fmt.Errorf("failed to count cpus: %w", err)
	}
	return info, nil
}

// Usage samples CPU over the configured window, then reads RAM and swap.
func (s *Service) Usage(ctx context.Context) (*domain.ResourceUsage, error) {
	perCore, err := s.cpuPercent(ctx, s.window, true)
	if err != nil {
		return nil, fmt.Errorf("failed to sample cpu usage: %w", err)
	}

	vm, err := s.virtualMem(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}
	sw, err := s.swapMem(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read swap usage: %w", err)
	}

	return &domain.ResourceUsage{
		CPUPercent: average(perCore),
		PerCore:    perCore,
		Memory:     domain.MemoryUsage{TotalBytes: vm.Total, UsedBytes: vm.Used, UsedPercent: vm.UsedPercent},
		Swap:       domain.MemoryUsage{TotalBytes: sw.Total, UsedBytes: sw.Used, UsedPercent: sw.UsedPercent},
	}, nil
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
