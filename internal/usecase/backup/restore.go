package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/domain"
)

// Restore runs the restore sequence for one artifact. The returned
// outcome is always populated; the error is the one that moved it to
// Failed. A failed database restore is not rolled back, so the sequence
// ignores the caller's cancellation once started.
func (s *Service) Restore(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	if req.TargetDatabase == "" {
		req.TargetDatabase = s.cfg.Database
	}

	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "Restore",
		zerowrap.FieldEntityID: req.ArtifactName,
		"db":                   req.TargetDatabase,
	})
	log := zerowrap.FromCtx(ctx)

	outcome := &domain.RestoreOutcome{
		Request:   req,
		Filestore: []domain.FilestoreResult{},
		StartedAt: s.nowFn(),
	}
	outcome.Enter(domain.RestoreStart)

	s.restore(ctx, outcome)

	outcome.Duration = s.nowFn().Sub(outcome.StartedAt)
	s.metrics.RestoreFinished(ctx, outcome.State, outcome.Duration)

	if outcome.Err != nil {
		log.Error().Err(outcome.Err).Strs("trail", trailStrings(outcome.Trail)).Msg("restore failed")
		return outcome, outcome.Err
	}
	log.Info().Strs("notes", outcome.Notes).Dur("duration", outcome.Duration).Msg("restore finished")
	return outcome, nil
}

func (s *Service) restore(ctx context.Context, outcome *domain.RestoreOutcome) {
	req := outcome.Request
	log := zerowrap.FromCtx(ctx)

	kind, err := domain.ValidateArtifactName(req.ArtifactName)
	if err != nil {
		fail(outcome, err)
		return
	}
	if kind == domain.ArtifactDump {
		if err := s.checkTopology(req.Topology); err != nil {
			fail(outcome, err)
			return
		}
	}

	if req.SyncFirst {
		s.syncBeforeRestore(ctx, outcome)
	}

	if kind == domain.ArtifactDump {
		s.requestDrop(ctx, outcome)
	}

	artifact, err := s.store.Stat(ctx, req.ArtifactName)
	if err != nil {
		fail(outcome, err)
		return
	}
	outcome.Enter(domain.RestoreArtifactAcquired)

	outcome.Enter(domain.RestoreDatabaseRestoring)
	var dbErr error
	if kind == domain.ArtifactDump {
		dbErr = s.restoreDump(ctx, outcome, artifact.LocalPath)
	} else {
		dbErr = s.restoreArchive(ctx, outcome, artifact.LocalPath)
	}
	outcome.Enter(domain.RestoreDatabaseRestoreResolved)
	if dbErr != nil {
		log.Warn().Err(dbErr).Msg("database restore failed, still attempting filestore")
	}

	if kind == domain.ArtifactArchive {
		outcome.Note("filestore restored by upstream together with the archive")
	} else {
		s.restoreFilestore(ctx, outcome)
	}

	if dbErr != nil {
		fail(outcome, dbErr)
		return
	}
	outcome.Enter(domain.RestoreDone)
}

func fail(outcome *domain.RestoreOutcome, err error) {
	outcome.Err = err
	outcome.Enter(domain.RestoreFailed)
}

func (s *Service) checkTopology(requested domain.Topology) error {
	if s.runtime == nil {
		return fmt.Errorf("%w: no database runtime configured", domain.ErrTopologyUnavailable)
	}
	if requested != "" && requested != s.runtime.Topology() {
		return fmt.Errorf("%w: %s requested, %s configured", domain.ErrTopologyUnavailable, requested, s.runtime.Topology())
	}
	return nil
}

func (s *Service) syncBeforeRestore(ctx context.Context, outcome *domain.RestoreOutcome) {
	summary, err := s.SyncFromRemote(ctx)
	switch {
	case errors.Is(err, domain.ErrRemoteDisabled):
		outcome.Note("sync skipped: no remote store configured")
	case err != nil && summary == nil:
		outcome.Note("sync failed: %v", err)
	case err != nil:
		outcome.Note("sync partially failed: %d downloaded, %d failed", summary.Downloaded, summary.Failed)
	default:
		outcome.Note("sync: %d downloaded, %d up to date", summary.Downloaded, summary.Skipped)
	}
}

// requestDrop asks upstream to drop the target database, but only when the
// dump is actually present locally. A failed drop is a warning.
func (s *Service) requestDrop(ctx context.Context, outcome *domain.RestoreOutcome) {
	entry, err := s.store.Probe(ctx, outcome.Request.ArtifactName)
	if err != nil || !entry.Exists || entry.IsDir {
		outcome.Note("drop skipped: artifact not present locally")
		return
	}

	outcome.Enter(domain.RestoreDropRequested)
	msg, err := s.producer.DropDatabase(ctx, outcome.Request.TargetDatabase)
	outcome.Drop = stepResult(msg, err)
	outcome.Enter(domain.RestoreDropResolved)

	if err != nil {
		log := zerowrap.FromCtx(ctx)
		outcome.Note("drop of %s failed: %v", outcome.Request.TargetDatabase, err)
		log.Warn().Err(err).Msg("drop failed, continuing restore")
	}
}

// restoreDump stages the dump and runs the restore tool. The staged copy
// is removed on every path.
func (s *Service) restoreDump(ctx context.Context, outcome *domain.RestoreOutcome, localPath string) error {
	staged, cleanup, err := s.runtime.StageArtifact(ctx, localPath)
	if err != nil {
		outcome.Database = stepResult("", err)
		return err
	}
	defer cleanup()

	res, err := s.runtime.RunRestoreTool(ctx, staged, outcome.Request.TargetDatabase)
	if err != nil {
		outcome.Database = stepResult("", err)
		return err
	}

	step := &domain.StepResult{OK: res.ExitCode == 0, Stdout: string(res.Stdout), Stderr: string(res.Stderr)}
	outcome.Database = step
	if res.ExitCode != 0 {
		toolErr := &domain.RestoreToolError{Tool: "pg_restore", ExitCode: res.ExitCode, Stdout: string(res.Stdout), Stderr: string(res.Stderr)}
		step.Error = toolErr.Error()
		return toolErr
	}
	step.Message = "database restored"
	return nil
}

// restoreArchive hands a zip artifact to upstream, which restores both the
// database and its filestore.
func (s *Service) restoreArchive(ctx context.Context, outcome *domain.RestoreOutcome, localPath string) error {
	msg, err := s.producer.RestoreDatabase(ctx, localPath, outcome.Request.TargetDatabase, false)
	outcome.Database = stepResult(msg, err)
	return err
}

// restoreFilestore places every local archive, oldest first, so the most
// recent one is written last.
func (s *Service) restoreFilestore(ctx context.Context, outcome *domain.RestoreOutcome) {
	outcome.Enter(domain.RestoreFilestoreDiscovery)
	log := zerowrap.FromCtx(ctx)

	artifacts, err := s.store.List(ctx)
	if err != nil {
		outcome.Note("filestore discovery failed: %v", err)
		return
	}

	var archives []domain.Artifact
	for i := len(artifacts) - 1; i >= 0; i-- {
		if artifacts[i].Kind == domain.ArtifactArchive {
			archives = append(archives, artifacts[i])
		}
	}
	if len(archives) == 0 {
		outcome.Note("nothing to restore for filestore")
		return
	}

	outcome.Enter(domain.RestoreFilestoreExtracting)
	for _, a := range archives {
		err := s.runtime.PlaceFilestore(ctx, a.LocalPath, outcome.Request.TargetDatabase)
		if errors.Is(err, domain.ErrNoFilestore) {
			outcome.Filestore = append(outcome.Filestore, domain.FilestoreResult{
				Archive:    a.Name,
				Skipped:    true,
				StepResult: domain.StepResult{OK: true, Message: "archive has no filestore"},
			})
			log.Info().Str("archive", a.Name).Msg("archive has no filestore, skipped")
			continue
		}

		res := domain.FilestoreResult{Archive: a.Name, StepResult: *stepResult("filestore placed", err)}
		outcome.Filestore = append(outcome.Filestore, res)
		if err != nil {
			log.Warn().Err(err).Str("archive", a.Name).Msg("filestore placement failed, continuing")
		}
	}
}

func stepResult(msg string, err error) *domain.StepResult {
	if err != nil {
		return &domain.StepResult{OK: false, Error: err.Error()}
	}
	return &domain.StepResult{OK: true, Message: msg}
}

func trailStrings(trail []domain.RestoreState) []string {
	out := make([]string, len(trail))
	for i, s := range trail {
		out[i] = string(s)
	}
	return out
}
