package out

import (
	"context"
	"io"

	"github.com/bnema/odoobackup/internal/domain"
)

// LocalEntry describes what currently sits at an artifact's local path.
type LocalEntry struct {
	Exists    bool
	IsDir     bool
	SizeBytes int64
}

// ArtifactStore persists backup artifacts in one flat local directory.
type ArtifactStore interface {
	// Dir returns the absolute artifact directory.
	Dir() string

	// Path returns the local path for name after validating it.
	Path(name string) (string, error)

	// Save streams data into name. It refuses to replace an existing artifact.
	Save(ctx context.Context, name string, data io.Reader) (*domain.Artifact, error)

	// List returns recognized artifacts sorted newest first by modification time.
	List(ctx context.Context) ([]domain.Artifact, error)

	// Stat returns one artifact or domain.ErrArtifactMissing.
	Stat(ctx context.Context, name string) (*domain.Artifact, error)

	// Probe reports what exists at the artifact path without validating its type.
	Probe(ctx context.Context, name string) (LocalEntry, error)

	// Delete removes name. A missing file is not an error.
	Delete(ctx context.Context, name string) error
}

// RemoteStore mirrors artifacts to an S3-compatible bucket.
type RemoteStore interface {
	// EnsureBucket creates the bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, localPath, key string) error
	// Download writes key to localPath, replacing a directory found there.
	Download(ctx context.Context, key, localPath string) error
	List(ctx context.Context) ([]domain.RemoteObjectRecord, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// BackupPayload is a backup body streamed from upstream.
// The caller must close Body.
type BackupPayload struct {
	Filename string
	Kind     domain.ArtifactKind
	Body     io.ReadCloser
}

// BackupProducer talks to the upstream database manager.
// Each call is a single request; none of them compose or retry.
type BackupProducer interface {
	ProduceBackup(ctx context.Context, dbName string, kind domain.ArtifactKind) (*BackupPayload, error)
	DropDatabase(ctx context.Context, dbName string) (string, error)
	RestoreDatabase(ctx context.Context, artifactPath, dbName string, asCopy bool) (string, error)
	DuplicateDatabase(ctx context.Context, source, target string) (string, error)
}

// CycleLocker guards a backup cycle across processes.
type CycleLocker interface {
	// Acquire blocks until the lease for key is held or ctx ends.
	Acquire(ctx context.Context, key string) (release func() error, err error)
}
