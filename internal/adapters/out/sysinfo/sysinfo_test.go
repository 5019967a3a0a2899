package sysinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeService() *Service {
	s := New("/backups", zerowrap.Default())
	s.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 100, Used: 40, Free: 60, UsedPercent: 40}, nil
	}
	s.cpuInfo = func(context.Context) ([]cpu.InfoStat, error) {
		return []cpu.InfoStat{{ModelName: "AMD EPYC", Mhz: 2400}}, nil
	}
	s.cpuCounts = func(_ context.Context, logical bool) (int, error) {
		if logical {
			return 8, nil
		}
		return 4, nil
	}
	s.cpuPercent = func(context.Context, time.Duration, bool) ([]float64, error) {
		return []float64{10, 30}, nil
	}
	s.virtualMem = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 250, UsedPercent: 25}, nil
	}
	s.swapMem = func(context.Context) (*mem.SwapMemoryStat, error) {
		return &mem.SwapMemoryStat{Total: 0, Used: 0}, nil
	}
	return s
}

func TestService_Disk(t *testing.T) {
	d, err := newFakeService().Disk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/backups", d.Path)
	assert.Equal(t, uint64(60), d.FreeBytes)
	assert.InDelta(t, 40, d.UsedPercent, 0.001)
}

func TestService_CPU(t *testing.T) {
	s := newFakeService()
	c, err := s.CPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AMD EPYC", c.Model)
	assert.Equal(t, 4, c.PhysicalCores)
	assert.Equal(t, 8, c.LogicalCores)

	s.cpuInfo = func(context.Context) ([]cpu.InfoStat, error) { return nil, errors.New("no /proc") }
	_, err = s.CPU(context.Background())
	assert.Error(t, err)
}

func TestService_Usage(t *testing.T) {
	u, err := newFakeService().Usage(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20, u.CPUPercent, 0.001)
	assert.Equal(t, []float64{10, 30}, u.PerCore)
	assert.Equal(t, uint64(250), u.Memory.UsedBytes)
	assert.Equal(t, uint64(0), u.Swap.TotalBytes)
}

func TestService_DiskOnRealFilesystem(t *testing.T) {
	s := New(t.TempDir(), zerowrap.Default())
	d, err := s.Disk(context.Background())
	require.NoError(t, err)
	assert.Positive(t, d.TotalBytes)
}
