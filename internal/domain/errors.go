package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Upstream errors
	ErrUpstreamUnavailable = errors.New("upstream backup service unavailable")
	ErrUpstreamRejected    = errors.New("upstream backup service rejected the request")

	// Artifact errors
	ErrArtifactMissing       = errors.New("artifact not present locally")
	ErrArtifactExists        = errors.New("artifact already exists")
	ErrInvalidArtifactName   = errors.New("invalid artifact name")
	ErrUnsupportedArtifact   = errors.New("unsupported artifact kind")
	ErrRetentionDeleteFailed = errors.New("retention failed to delete artifact")

	// Restore errors
	ErrRestoreToolFailed   = errors.New("restore tool failed")
	ErrTopologyUnavailable = errors.New("requested topology is not configured")
	ErrNoFilestore         = errors.New("archive contains no filestore")

	// Remote store errors
	ErrRemoteSyncPartial = errors.New("remote sync partially failed")
	ErrRemoteDisabled    = errors.New("remote store is not configured")

	// Concurrency errors
	ErrCycleInProgress = errors.New("backup cycle already in progress")

	// Config errors
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// UpstreamError is a non-success answer from the upstream database manager.
type UpstreamError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: upstream returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: upstream returned status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Is makes errors.Is(err, ErrUpstreamRejected) hold.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamRejected
}

// RestoreHint is shown when pg_restore refuses to overwrite a database.
const RestoreHint = "drop or rename the existing database before restoring"

// RestoreToolError is a non-zero exit from the database restore tool.
type RestoreToolError struct {
	Tool     string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *RestoreToolError) Error() string {
	return fmt.Sprintf("%s exited with code %d (%s): %s", e.Tool, e.ExitCode, RestoreHint, e.Stderr)
}

// Is makes errors.Is(err, ErrRestoreToolFailed) hold.
func (e *RestoreToolError) Is(target error) bool {
	return target == ErrRestoreToolFailed
}
