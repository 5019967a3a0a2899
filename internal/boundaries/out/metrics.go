package out

import (
	"context"
	"time"

	"github.com/bnema/odoobackup/internal/domain"
)

// BackupMetrics records backup engine activity.
type BackupMetrics interface {
	CycleFinished(ctx context.Context, err error, d time.Duration)
	ArtifactsEvicted(ctx context.Context, n int)
	RetentionDeleteFailed(ctx context.Context, location string)
	UploadFinished(ctx context.Context, err error, bytes int64)
	SyncObject(ctx context.Context, outcome domain.SyncOutcome)
	RestoreFinished(ctx context.Context, state domain.RestoreState, d time.Duration)
}
