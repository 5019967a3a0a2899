package in

import (
	"context"

	"github.com/bnema/odoobackup/internal/domain"
)

// LogService defines the contract for accessing process logs.
type LogService interface {
	// GetProcessLogs returns the last N lines of the process log.
	GetProcessLogs(ctx context.Context, lines int) ([]domain.LogLine, error)

	// FollowProcessLogs streams new lines until ctx ends.
	FollowProcessLogs(ctx context.Context, initialLines int) (<-chan domain.LogLine, error)
}

// SystemService reports host resource usage for the dashboard.
type SystemService interface {
	Disk(ctx context.Context) (*domain.DiskUsage, error)
	CPU(ctx context.Context) (*domain.CPUInfo, error)
	Usage(ctx context.Context) (*domain.ResourceUsage, error)
}
