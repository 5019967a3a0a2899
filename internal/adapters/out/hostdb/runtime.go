// Package hostdb implements the restore runtime for a database installed on the host.
package hostdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/adapters/out/filesystem"
	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

const (
	stagingDirMode  = 0755
	stagingFileMode = 0644
)

var _ out.DatabaseRuntime = (*Runtime)(nil)

// Config describes the host installation.
type Config struct {
	// Account is the service account commands run as through sudo. It
	// must be the Odoo service user so the restored filestore and
	// database belong to it. Empty runs them as the current user.
	Account string
	// PGBinDir holds pg_restore and createdb. Empty resolves them on PATH.
	PGBinDir     string
	DBUser       string
	DBPort       int
	FilestoreDir string
	// StagingDir receives readable copies of artifacts for the service
	// account. Empty uses the OS temp directory.
	StagingDir string
}

// Runtime implements out.DatabaseRuntime with local commands.
type Runtime struct {
	cfg    Config
	runner out.CommandRunner
	log    zerowrap.Logger
}

// NewRuntime creates a host runtime.
func NewRuntime(cfg Config, runner out.CommandRunner, log zerowrap.Logger) *Runtime {
	if cfg.DBPort == 0 {
		cfg.DBPort = 5432
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	return &Runtime{cfg: cfg, runner: runner, log: log}
}

// Topology reports the host-installed topology.
func (r *Runtime) Topology() domain.Topology {
	return domain.TopologyHostInstalled
}

// StageArtifact copies the artifact into a private staging directory the
// service account can read. Artifacts themselves stay owner-only.
func (r *Runtime) StageArtifact(ctx context.Context, localPath string) (string, func(), error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "hostdb",
		zerowrap.FieldAction:  "StageArtifact",
		zerowrap.FieldPath:    localPath,
	})
	log := zerowrap.FromCtx(ctx)

	dir, cleanup, err := r.stagingDir()
	if err != nil {
		return "", nil, log.WrapErr(err, "failed to create staging directory")
	}

	staged := filepath.Join(dir, filepath.Base(localPath))
	if err := copyReadable(localPath, staged); err != nil {
		cleanup()
		return "", nil, log.WrapErr(err, "failed to stage artifact")
	}

	log.Debug().Str("staged", staged).Msg("artifact staged")
	return staged, cleanup, nil
}

// RunRestoreTool creates dbName and restores the staged dump into it as
// the service account.
func (r *Runtime) RunRestoreTool(ctx context.Context, staged, dbName string) (*out.ExecResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "hostdb",
		zerowrap.FieldAction:  "RunRestoreTool",
		zerowrap.FieldPath:    staged,
		"db":                  dbName,
	})
	log := zerowrap.FromCtx(ctx)

	conn := []string{"-U", r.cfg.DBUser, "-p", strconv.Itoa(r.cfg.DBPort)}

	created, err := r.run(ctx, r.pgBin("createdb"), append(conn, dbName)...)
	if err != nil {
		return nil, log.WrapErr(err, "failed to run createdb")
	}
	if created.ExitCode != 0 {
		log.Warn().Int("exit_code", created.ExitCode).Msg("createdb failed, skipping pg_restore")
		return created, nil
	}

	result, err := r.run(ctx, r.pgBin("pg_restore"), append(conn, "--no-owner", "-d", dbName, staged)...)
	if err != nil {
		return nil, log.WrapErr(err, "failed to run pg_restore")
	}

	log.Info().Int("exit_code", result.ExitCode).Msg("pg_restore finished")
	return result, nil
}

// PlaceFilestore extracts the archive into a staging directory and copies
// its filestore into <FilestoreDir>/<dbName> as the service account.
// Odoo archives keep attachments under filestore/, so the prefix is
// stripped by copying the extracted directory's contents.
func (r *Runtime) PlaceFilestore(ctx context.Context, archivePath, dbName string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "hostdb",
		zerowrap.FieldAction:  "PlaceFilestore",
		zerowrap.FieldPath:    archivePath,
		"db":                  dbName,
	})
	log := zerowrap.FromCtx(ctx)

	if r.cfg.FilestoreDir == "" {
		return fmt.Errorf("%w: filestore directory is not configured", domain.ErrInvalidConfig)
	}

	scratch, cleanup, err := r.stagingDir()
	if err != nil {
		return log.WrapErr(err, "failed to create scratch directory")
	}
	defer cleanup()

	if err := filesystem.ExtractZip(archivePath, scratch, filesystem.DefaultExtractLimit); err != nil {
		return log.WrapErr(err, "failed to extract archive")
	}
	root, err := filesystem.FilestoreRoot(scratch)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(archivePath), err)
	}

	dest := path.Join(r.cfg.FilestoreDir, dbName)
	if _, err := r.mustRun(ctx, "mkdir", "-p", dest); err != nil {
		return err
	}
	if _, err := r.mustRun(ctx, "cp", "-a", root+"/.", dest); err != nil {
		return err
	}

	log.Info().Str("dest", dest).Msg("filestore placed")
	return nil
}

// stagingDir creates a directory the service account can traverse.
func (r *Runtime) stagingDir() (string, func(), error) {
	dir, err := os.MkdirTemp(r.cfg.StagingDir, "odoobackup-restore-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.log.Warn().Err(err).Str("dir", dir).Msg("failed to remove staging directory")
		}
	}
	if err := os.Chmod(dir, stagingDirMode); err != nil {
		cleanup()
		return "", nil, err
	}
	return dir, cleanup, nil
}

func copyReadable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, stagingFileMode)
	if err != nil {
		return err
	}
	if err := f.Chmod(stagingFileMode); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := io.Copy(f, in); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (r *Runtime) pgBin(name string) string {
	if r.cfg.PGBinDir == "" {
		return name
	}
	return path.Join(r.cfg.PGBinDir, name)
}

func (r *Runtime) mustRun(ctx context.Context, name string, args ...string) (*out.ExecResult, error) {
	res, err := r.run(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s exited with code %d: %s", name, res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return res, nil
}

// run prefixes the command with sudo when a service account is configured.
func (r *Runtime) run(ctx context.Context, name string, args ...string) (*out.ExecResult, error) {
	if r.cfg.Account == "" {
		return r.runner.Run(ctx, name, args...)
	}
	return r.runner.Run(ctx, "sudo", append([]string{"-n", "-u", r.cfg.Account, name}, args...)...)
}
