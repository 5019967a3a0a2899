// Package backup implements the backup, retention, sync and restore use cases.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bnema/odoobackup/internal/boundaries/in"
	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

var _ in.BackupService = (*Service)(nil)

// Config holds the backup service settings.
type Config struct {
	Database    string
	Kinds       []domain.ArtifactKind
	Retention   domain.RetentionPolicy
	LockTimeout time.Duration
}

// Option configures optional collaborators.
type Option func(*Service)

// WithRemote mirrors artifacts to remote. Without it the remote side is skipped.
func WithRemote(remote out.RemoteStore) Option {
	return func(s *Service) { s.remote = remote }
}

// WithRuntime sets the runtime used for dump restores and filestore placement.
func WithRuntime(runtime out.DatabaseRuntime) Option {
	return func(s *Service) { s.runtime = runtime }
}

// WithLocker guards cycles with a cross-process lease.
func WithLocker(locker out.CycleLocker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithMetrics records activity on m.
func WithMetrics(m out.BackupMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Service orchestrates backup operations.
type Service struct {
	cfg      Config
	producer out.BackupProducer
	store    out.ArtifactStore
	remote   out.RemoteStore
	runtime  out.DatabaseRuntime
	locker   out.CycleLocker
	metrics  out.BackupMetrics
	flight   singleflight.Group
	nowFn    func() time.Time
	log      zerowrap.Logger
}

// NewService creates a backup service.
func NewService(cfg Config, producer out.BackupProducer, store out.ArtifactStore, log zerowrap.Logger, opts ...Option) (*Service, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("%w: database name is required", domain.ErrInvalidConfig)
	}
	if err := cfg.Retention.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = []domain.ArtifactKind{domain.ArtifactDump, domain.ArtifactArchive}
	}
	for _, k := range cfg.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedArtifact, k)
		}
	}

	s := &Service{
		cfg:      cfg,
		producer: producer,
		store:    store,
		metrics:  noopMetrics{},
		nowFn:    time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ProduceAndRetain runs one backup cycle. Concurrent callers share the
// cycle already in flight and receive its summary. The cycle is detached
// from the caller's cancellation and runs to completion or to the
// upstream timeout.
func (s *Service) ProduceAndRetain(ctx context.Context) (*domain.CycleSummary, error) {
	v, err, shared := s.flight.Do("cycle:"+s.cfg.Database, func() (any, error) {
		return s.runCycle(context.WithoutCancel(ctx))
	})
	if shared {
		s.log.Debug().Str(zerowrap.FieldUseCase, "ProduceAndRetain").Msg("joined cycle already in flight")
	}
	summary, _ := v.(*domain.CycleSummary)
	return summary, err
}

func (s *Service) runCycle(ctx context.Context) (*domain.CycleSummary, error) {
	summary := &domain.CycleSummary{
		RunID:     uuid.NewString(),
		Database:  s.cfg.Database,
		Produced:  []domain.Artifact{},
		Kept:      []string{},
		Evicted:   []string{},
		Uploaded:  []string{},
		StartedAt: s.nowFn(),
	}

	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "ProduceAndRetain",
		zerowrap.FieldEntityID: summary.RunID,
		"db":                   s.cfg.Database,
	})
	log := zerowrap.FromCtx(ctx)
	log.Info().Msg("backup cycle started")

	err := s.cycle(ctx, summary)
	summary.Duration = s.nowFn().Sub(summary.StartedAt)
	s.metrics.CycleFinished(ctx, err, summary.Duration)

	if err != nil {
		log.Error().Err(err).Int(zerowrap.FieldCount, len(summary.Produced)).Msg("backup cycle finished with errors")
		return summary, err
	}

	log.Info().
		Int(zerowrap.FieldCount, len(summary.Produced)).
		Strs("evicted", summary.Evicted).
		Strs("uploaded", summary.Uploaded).
		Dur("duration", summary.Duration).
		Msg("backup cycle finished")
	return summary, nil
}

func (s *Service) cycle(ctx context.Context, summary *domain.CycleSummary) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var errs []error
	for _, kind := range s.cfg.Kinds {
		artifact, err := s.produce(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("produce %s: %w", kind, err))
			continue
		}
		summary.Produced = append(summary.Produced, *artifact)
	}
	if len(summary.Produced) == 0 {
		return errors.Join(errs...)
	}

	kept, err := s.retain(ctx, summary)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	s.mirror(ctx, summary, kept)

	return errors.Join(errs...)
}

// acquire takes the cross-process lease when a locker is configured.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	lockCtx := ctx
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}

	unlock, err := s.locker.Acquire(lockCtx, s.cfg.Database)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := unlock(); err != nil {
			log := zerowrap.FromCtx(ctx)
			log.Warn().Err(err).Msg("failed to release cycle lease")
		}
	}, nil
}

// produce streams one backup from upstream into the artifact store.
func (s *Service) produce(ctx context.Context, kind domain.ArtifactKind) (*domain.Artifact, error) {
	log := zerowrap.FromCtx(ctx)

	payload, err := s.producer.ProduceBackup(ctx, s.cfg.Database, kind)
	if err != nil {
		return nil, log.WrapErr(err, "upstream backup failed")
	}
	defer payload.Body.Close()

	artifact, err := s.store.Save(ctx, payload.Filename, payload.Body)
	if err != nil {
		return nil, log.WrapErr(err, "failed to save artifact")
	}

	if artifact.SizeBytes == 0 {
		if delErr := s.store.Delete(ctx, artifact.Name); delErr != nil {
			log.Warn().Err(delErr).Str(zerowrap.FieldEntityID, artifact.Name).Msg("failed to remove empty artifact")
		}
		return nil, &domain.UpstreamError{Op: "backup", StatusCode: 200, Detail: "empty backup body"}
	}

	log.Info().
		Str("artifact", artifact.Name).
		Int64(zerowrap.FieldSize, artifact.SizeBytes).
		Msg("artifact produced")
	return artifact, nil
}

// retain applies the retention policy. Evicted artifacts are deleted
// locally and, when a remote store is configured, remotely. Delete
// failures are recorded on the summary and never abort the cycle.
func (s *Service) retain(ctx context.Context, summary *domain.CycleSummary) ([]domain.Artifact, error) {
	log := zerowrap.FromCtx(ctx)

	artifacts, err := s.store.List(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list artifacts")
	}

	kept, evicted := domain.ApplyRetention(artifacts, s.cfg.Retention)
	for _, a := range kept {
		summary.Kept = append(summary.Kept, a.Name)
	}

	for _, a := range evicted {
		summary.Evicted = append(summary.Evicted, a.Name)

		if err := s.store.Delete(ctx, a.Name); err != nil {
			summary.RecordLocalFailure(a.Name, err)
			s.metrics.RetentionDeleteFailed(ctx, "local")
			log.Warn().Err(err).Str("artifact", a.Name).Msg("failed to delete evicted artifact")
		}

		if s.remote == nil {
			continue
		}
		if err := s.remote.Delete(ctx, a.Name); err != nil {
			summary.RecordRemoteFailure(a.Name, err)
			s.metrics.RetentionDeleteFailed(ctx, "remote")
			log.Warn().Err(err).Str("artifact", a.Name).Msg("failed to delete evicted artifact remotely")
		}
	}
	s.metrics.ArtifactsEvicted(ctx, len(evicted))

	return kept, nil
}

// mirror uploads kept artifacts the remote store lacks or holds with a
// different size.
func (s *Service) mirror(ctx context.Context, summary *domain.CycleSummary, kept []domain.Artifact) {
	if s.remote == nil {
		return
	}
	log := zerowrap.FromCtx(ctx)

	if err := s.remote.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Msg("remote store unavailable, skipping upload")
		for _, a := range kept {
			summary.RecordRemoteFailure(a.Name, err)
		}
		return
	}

	remoteSizes := make(map[string]int64)
	records, err := s.remote.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list remote objects, uploading all kept artifacts")
	}
	for _, r := range records {
		remoteSizes[r.Key] = r.SizeBytes
	}

	for _, a := range kept {
		if size, ok := remoteSizes[a.Name]; ok && size == a.SizeBytes {
			continue
		}

		err := s.remote.Upload(ctx, a.LocalPath, a.Name)
		s.metrics.UploadFinished(ctx, err, a.SizeBytes)
		if err != nil {
			summary.RecordRemoteFailure(a.Name, err)
			log.Warn().Err(err).Str("artifact", a.Name).Msg("failed to upload artifact")
			continue
		}
		summary.Uploaded = append(summary.Uploaded, a.Name)
	}
}

// ListArtifacts returns local artifacts newest first, flagging those
// also present remotely.
func (s *Service) ListArtifacts(ctx context.Context) ([]domain.Artifact, error) {
	artifacts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.remote == nil {
		return artifacts, nil
	}

	records, err := s.remote.List(ctx)
	if err != nil {
		log := zerowrap.FromCtx(ctx)
		log.Warn().Err(err).Msg("failed to list remote objects")
		return artifacts, nil
	}
	present := make(map[string]bool, len(records))
	for _, r := range records {
		present[r.Key] = true
	}
	for i := range artifacts {
		artifacts[i].RemotePresent = present[artifacts[i].Name]
	}
	return artifacts, nil
}

// DeleteArtifact removes one local artifact. The remote copy is kept.
func (s *Service) DeleteArtifact(ctx context.Context, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "DeleteArtifact",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	log.Info().Msg("artifact deleted")
	return nil
}

// DropDatabase asks upstream to drop dbName.
func (s *Service) DropDatabase(ctx context.Context, dbName string) (string, error) {
	if dbName == "" {
		return "", fmt.Errorf("%w: database name is required", domain.ErrInvalidConfig)
	}
	msg, err := s.producer.DropDatabase(ctx, dbName)
	if err != nil {
		return "", err
	}
	s.log.Info().Str(zerowrap.FieldUseCase, "DropDatabase").Str("db", dbName).Msg("database dropped")
	return msg, nil
}

// DuplicateDatabase asks upstream to copy source into target.
func (s *Service) DuplicateDatabase(ctx context.Context, source, target string) (string, error) {
	if source == "" || target == "" {
		return "", fmt.Errorf("%w: source and target database names are required", domain.ErrInvalidConfig)
	}
	msg, err := s.producer.DuplicateDatabase(ctx, source, target)
	if err != nil {
		return "", err
	}
	s.log.Info().Str(zerowrap.FieldUseCase, "DuplicateDatabase").Str("source", source).Str("target", target).Msg("database duplicated")
	return msg, nil
}

type noopMetrics struct{}

func (noopMetrics) CycleFinished(context.Context, error, time.Duration)                 {}
func (noopMetrics) ArtifactsEvicted(context.Context, int)                               {}
func (noopMetrics) RetentionDeleteFailed(context.Context, string)                       {}
func (noopMetrics) UploadFinished(context.Context, error, int64)                        {}
func (noopMetrics) SyncObject(context.Context, domain.SyncOutcome)                      {}
func (noopMetrics) RestoreFinished(context.Context, domain.RestoreState, time.Duration) {}
