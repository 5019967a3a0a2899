// Package in defines input ports (interfaces) driven by the CLI and the dashboard.
package in

import (
	"context"

	"github.com/bnema/odoobackup/internal/domain"
)

// BackupService defines backup orchestration use cases.
type BackupService interface {
	// ProduceAndRetain asks upstream for a fresh dump and archive, applies
	// retention and mirrors the surviving set to the remote store.
	ProduceAndRetain(ctx context.Context) (*domain.CycleSummary, error)

	// Restore runs the restore sequence for one local artifact.
	Restore(ctx context.Context, req domain.RestoreRequest) (*domain.RestoreOutcome, error)

	// SyncFromRemote downloads remote artifacts that are missing or stale locally.
	SyncFromRemote(ctx context.Context) (*domain.SyncSummary, error)

	// ListArtifacts returns local artifacts newest first.
	ListArtifacts(ctx context.Context) ([]domain.Artifact, error)

	// DeleteArtifact removes one local artifact by name.
	DeleteArtifact(ctx context.Context, name string) error

	DropDatabase(ctx context.Context, dbName string) (string, error)
	DuplicateDatabase(ctx context.Context, source, target string) (string, error)
}

// ScheduleService exposes the daily trigger to the outer layer.
type ScheduleService interface {
	List() []domain.CronEntry
	RunNow(ctx context.Context, id string) error
}
