package execrunner

import (
	"context"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if !Available("sh") {
		t.Skip("sh not available")
	}
}

func TestRunner_CapturesOutput(t *testing.T) {
	requireShell(t)
	r := New(0, zerowrap.Default())

	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestRunner_NonZeroExitIsAResult(t *testing.T) {
	requireShell(t)
	r := New(0, zerowrap.Default())

	res, err := r.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", string(res.Stderr))
}

func TestRunner_MissingBinary(t *testing.T) {
	r := New(0, zerowrap.Default())

	_, err := r.Run(context.Background(), "odoobackup-definitely-missing")
	require.Error(t, err)
}

func TestRunner_EmptyCommand(t *testing.T) {
	r := New(0, zerowrap.Default())

	_, err := r.Run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestRunner_TimeoutIsAnError(t *testing.T) {
	requireShell(t)
	r := New(50*time.Millisecond, zerowrap.Default())

	_, err := r.Run(context.Background(), "sh", "-c", "sleep 5")
	require.Error(t, err)
}
