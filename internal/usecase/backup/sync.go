package backup

import (
	"context"
	"fmt"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

// SyncFromRemote downloads remote artifacts that are absent, empty,
// shadowed by a directory or of a different size locally. Local-only
// files are never touched. Each object is reported individually and a
// failed object does not stop the batch. Like a backup cycle, a sync is
// shared between concurrent callers and ignores their cancellation.
func (s *Service) SyncFromRemote(ctx context.Context) (*domain.SyncSummary, error) {
	if s.remote == nil {
		return nil, domain.ErrRemoteDisabled
	}

	v, err, _ := s.flight.Do("sync:"+s.cfg.Database, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		release, err := s.acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
		return s.sync(ctx)
	})
	summary, _ := v.(*domain.SyncSummary)
	return summary, err
}

func (s *Service) sync(ctx context.Context) (*domain.SyncSummary, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "SyncFromRemote",
	})
	log := zerowrap.FromCtx(ctx)

	records, err := s.remote.List(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list remote objects")
	}

	summary := &domain.SyncSummary{Results: make([]domain.SyncResult, 0, len(records))}
	for _, rec := range records {
		result := s.syncObject(ctx, rec)
		summary.Add(result)
		s.metrics.SyncObject(ctx, result.Outcome)

		if result.Outcome == domain.SyncFailed {
			log.Warn().Str("key", rec.Key).Str("reason", result.Reason).Msg("failed to sync object")
		}
	}

	log.Info().
		Int("downloaded", summary.Downloaded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("remote sync finished")

	return summary, summary.Err()
}

func (s *Service) syncObject(ctx context.Context, rec domain.RemoteObjectRecord) domain.SyncResult {
	result := domain.SyncResult{Key: rec.Key}

	localPath, err := s.store.Path(rec.Key)
	if err != nil {
		result.Outcome = domain.SyncSkipped
		result.Reason = "not an artifact name"
		return result
	}

	entry, err := s.store.Probe(ctx, rec.Key)
	if err != nil {
		result.Outcome = domain.SyncFailed
		result.Reason = err.Error()
		return result
	}

	reason := staleReason(entry, rec)
	if reason == "" {
		result.Outcome = domain.SyncSkipped
		result.Reason = "up to date"
		return result
	}

	if err := s.remote.Download(ctx, rec.Key, localPath); err != nil {
		result.Outcome = domain.SyncFailed
		result.Reason = err.Error()
		return result
	}

	after, err := s.store.Probe(ctx, rec.Key)
	switch {
	case err != nil:
		result.Outcome = domain.SyncFailed
		result.Reason = fmt.Sprintf("cannot check download: %v", err)
		return result
	case !after.Exists || after.IsDir || after.SizeBytes != rec.SizeBytes:
		result.Outcome = domain.SyncFailed
		result.Reason = fmt.Sprintf("size mismatch after download: local %d, remote %d", after.SizeBytes, rec.SizeBytes)
		return result
	}

	result.Outcome = domain.SyncDownloaded
	result.Reason = reason
	return result
}

// staleReason returns why the local copy must be replaced, or "" when it
// matches the remote record.
func staleReason(entry out.LocalEntry, rec domain.RemoteObjectRecord) string {
	switch {
	case !entry.Exists:
		return "missing locally"
	case entry.IsDir:
		return "directory in place of artifact"
	case entry.SizeBytes == 0:
		return "empty local file"
	case entry.SizeBytes != rec.SizeBytes:
		return fmt.Sprintf("size differs: local %d, remote %d", entry.SizeBytes, rec.SizeBytes)
	default:
		return ""
	}
}
