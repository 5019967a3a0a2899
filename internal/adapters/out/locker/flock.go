// Package locker provides cross-process leases backed by lock files.
package locker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/gofrs/flock"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

// DefaultRetryDelay is how often a held lease is polled.
const DefaultRetryDelay = 500 * time.Millisecond

var _ out.CycleLocker = (*FileLocker)(nil)

// FileLocker hands out one lock file per key under dir.
type FileLocker struct {
	dir        string
	retryDelay time.Duration
	log        zerowrap.Logger
}

// NewFileLocker creates dir if needed.
func NewFileLocker(dir string, log zerowrap.Logger) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLocker{dir: dir, retryDelay: DefaultRetryDelay, log: log}, nil
}

// Acquire takes the lease for key, retrying until ctx ends. Failing to
// get it in time yields domain.ErrCycleInProgress.
func (l *FileLocker) Acquire(ctx context.Context, key string) (func() error, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return nil, fmt.Errorf("%w: invalid lock key %q", domain.ErrInvalidConfig, key)
	}
	path := filepath.Join(l.dir, key+".lock")
	lock := flock.New(path)

	locked, err := lock.TryLockContext(ctx, l.retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s", domain.ErrCycleInProgress, key)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", domain.ErrCycleInProgress, key)
	}

	l.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "locker").
		Str(zerowrap.FieldPath, path).
		Msg("lease acquired")

	return lock.Unlock, nil
}
