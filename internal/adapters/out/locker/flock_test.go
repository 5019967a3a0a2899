package locker

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/odoobackup/internal/domain"
)

func newTestLocker(t *testing.T) *FileLocker {
	l, err := NewFileLocker(t.TempDir(), zerowrap.Default())
	require.NoError(t, err)
	l.retryDelay = 10 * time.Millisecond
	return l
}

func TestFileLocker_AcquireRelease(t *testing.T) {
	l := newTestLocker(t)

	release, err := l.Acquire(context.Background(), "odoo")
	require.NoError(t, err)
	require.NoError(t, release())

	release, err = l.Acquire(context.Background(), "odoo")
	require.NoError(t, err)
	require.NoError(t, release())
}

func TestFileLocker_HeldLeaseTimesOut(t *testing.T) {
	l := newTestLocker(t)

	release, err := l.Acquire(context.Background(), "odoo")
	require.NoError(t, err)
	defer func() { _ = release() }()

	// A second flock handle conflicts even within one process.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "odoo")
	assert.ErrorIs(t, err, domain.ErrCycleInProgress)
}

func TestFileLocker_KeysAreIndependent(t *testing.T) {
	l := newTestLocker(t)

	r1, err := l.Acquire(context.Background(), "odoo")
	require.NoError(t, err)
	defer func() { _ = r1() }()

	r2, err := l.Acquire(context.Background(), "staging")
	require.NoError(t, err)
	require.NoError(t, r2())
}

func TestFileLocker_RejectsBadKeys(t *testing.T) {
	l := newTestLocker(t)

	for _, key := range []string{"", "..", "a/b"} {
		_, err := l.Acquire(context.Background(), key)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig, key)
	}
}
