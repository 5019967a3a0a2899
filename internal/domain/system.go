package domain

import (
	"strings"
	"time"
)

// DiskUsage describes the filesystem holding the artifact directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUInfo is static processor information.
type CPUInfo struct {
	Model         string  `json:"model"`
	PhysicalCores int     `json:"physical_cores"`
	LogicalCores  int     `json:"logical_cores"`
	MHz           float64 `json:"mhz"`
}

// MemoryUsage covers both RAM and swap.
type MemoryUsage struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// ResourceUsage is a point-in-time sample of CPU and memory load.
type ResourceUsage struct {
	CPUPercent float64     `json:"cpu_percent"`
	PerCore    []float64   `json:"per_core"`
	Memory     MemoryUsage `json:"memory"`
	Swap       MemoryUsage `json:"swap"`
}

// UpstreamProbe is the answer of the database manager to a reachability check.
type UpstreamProbe struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Elapsed    time.Duration `json:"elapsed"`
	// ManagerEnabled is false when upstream answered but hides the manager.
	ManagerEnabled bool `json:"manager_enabled"`
}

// LogLine is one process log line with its detected level.
type LogLine struct {
	Text  string `json:"text"`
	Level string `json:"level"`
}

// DetectLogLevel guesses the level of a console or JSON formatted log line.
func DetectLogLevel(line string) string {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERR") || strings.Contains(upper, "FATAL") || strings.Contains(upper, "PANIC"):
		return "error"
	case strings.Contains(upper, "WRN") || strings.Contains(upper, "WARN"):
		return "warn"
	case strings.Contains(upper, "DBG") || strings.Contains(upper, "DEBUG"):
		return "debug"
	case strings.Contains(upper, "INF") || strings.Contains(upper, "INFO"):
		return "info"
	default:
		return ""
	}
}
