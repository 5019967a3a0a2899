// Package execrunner runs local commands and captures their output.
package execrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/boundaries/out"
)

var _ out.CommandRunner = (*Runner)(nil)

// Runner implements out.CommandRunner with os/exec.
type Runner struct {
	timeout time.Duration
	log     zerowrap.Logger
}

// New creates a runner. A zero timeout leaves commands bounded only by ctx.
func New(timeout time.Duration, log zerowrap.Logger) *Runner {
	return &Runner{timeout: timeout, log: log}
}

// Run executes name with args. A non-zero exit is reported through
// ExecResult.ExitCode, not as an error.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*out.ExecResult, error) {
	if name == "" {
		return nil, fmt.Errorf("command is required")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	// #nosec G204 - callers pass fixed binaries with validated arguments
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &out.ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && ctx.Err() == nil {
			result.ExitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("failed to execute %s: %w", name, err)
		}
	}

	r.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "execrunner").
		Str("command", name).
		Int("exit_code", result.ExitCode).
		Msg("command finished")

	return result, nil
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
