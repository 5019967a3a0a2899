// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (Docker, host tooling, object storage, etc.).
package out

import (
	"context"

	"github.com/bnema/odoobackup/internal/domain"
)

// ExecResult contains the result of running a command.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// DatabaseRuntime runs the database and filestore steps of a restore
// for one deployment topology.
type DatabaseRuntime interface {
	Topology() domain.Topology

	// StageArtifact makes localPath readable by the restore tool. The
	// returned cleanup must be called on every exit path.
	StageArtifact(ctx context.Context, localPath string) (staged string, cleanup func(), err error)

	// RunRestoreTool creates dbName and runs pg_restore on a staged dump
	// into it. The database named inside the dump is ignored. A non-zero
	// exit of either step is reported through ExecResult, not as an error.
	RunRestoreTool(ctx context.Context, staged, dbName string) (*ExecResult, error)

	// PlaceFilestore unpacks a zip artifact into the filestore of dbName.
	PlaceFilestore(ctx context.Context, archivePath, dbName string) error
}

// CommandRunner runs a host process and captures its output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*ExecResult, error)
}
