// Package docker implements the containerized database runtime using the Docker API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bnema/odoobackup/internal/adapters/out/filesystem"
	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

const cleanupTimeout = 30 * time.Second

var _ out.DatabaseRuntime = (*Runtime)(nil)

// Config names the containers and paths the runtime works with.
type Config struct {
	DatabaseContainer string
	AppContainer      string
	DBUser            string
	DBPort            int
	StagingDir        string // inside the database container
	FilestorePath     string // inside the application container
	FilestoreOwner    string // chown target, empty to skip
	ScratchDir        string // local, empty for the OS default
}

type execFunc func(ctx context.Context, containerID string, cmd []string) (*out.ExecResult, error)
type copyFunc func(ctx context.Context, containerID, dstDir string, content io.Reader) error

// Runtime implements out.DatabaseRuntime for a database running in Docker.
type Runtime struct {
	client *client.Client
	cfg    Config
	exec   execFunc
	copyTo copyFunc
	log    zerowrap.Logger
}

// NewRuntime creates a runtime with a client configured from the environment.
func NewRuntime(cfg Config, log zerowrap.Logger) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return NewRuntimeWithClient(cli, cfg, log), nil
}

// NewRuntimeWithClient creates a runtime with a custom client (for testing).
func NewRuntimeWithClient(cli *client.Client, cfg Config, log zerowrap.Logger) *Runtime {
	if cfg.StagingDir == "" {
		cfg.StagingDir = "/tmp"
	}
	if cfg.DBPort == 0 {
		cfg.DBPort = 5432
	}
	r := &Runtime{client: cli, cfg: cfg, log: log}
	r.exec = r.execInContainer
	r.copyTo = r.copyToContainer
	return r
}

// Topology reports the containerized topology.
func (r *Runtime) Topology() domain.Topology {
	return domain.TopologyContainerized
}

// Ping checks that the daemon answers and both containers exist.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	for _, name := range []string{r.cfg.DatabaseContainer, r.cfg.AppContainer} {
		if name == "" {
			continue
		}
		if _, err := r.client.ContainerInspect(ctx, name); err != nil {
			if cerrdefs.IsNotFound(err) {
				return fmt.Errorf("%w: container %q not found", domain.ErrInvalidConfig, name)
			}
			return fmt.Errorf("failed to inspect container %q: %w", name, err)
		}
	}
	return nil
}

// StageArtifact copies localPath into the database container staging dir.
func (r *Runtime) StageArtifact(ctx context.Context, localPath string) (string, func(), error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "StageArtifact",
		zerowrap.FieldPath:    localPath,
		"container":           r.cfg.DatabaseContainer,
	})
	log := zerowrap.FromCtx(ctx)

	base := filepath.Base(localPath)
	tarStream, err := archive.TarWithOptions(filepath.Dir(localPath), &archive.TarOptions{
		IncludeFiles: []string{base},
	})
	if err != nil {
		return "", nil, log.WrapErr(err, "failed to pack artifact")
	}
	defer tarStream.Close()

	if err := r.copyTo(ctx, r.cfg.DatabaseContainer, r.cfg.StagingDir, tarStream); err != nil {
		return "", nil, log.WrapErr(err, "failed to copy artifact into container")
	}

	staged := path.Join(r.cfg.StagingDir, base)
	cleanup := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, err := r.exec(cleanupCtx, r.cfg.DatabaseContainer, []string{"rm", "-f", staged}); err != nil {
			log.Warn().Err(err).Str("staged", staged).Msg("failed to remove staged artifact")
		}
	}

	log.Debug().Str("staged", staged).Msg("artifact staged")
	return staged, cleanup, nil
}

// RunRestoreTool creates dbName inside the database container and
// restores the staged dump into it.
func (r *Runtime) RunRestoreTool(ctx context.Context, staged, dbName string) (*out.ExecResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "RunRestoreTool",
		"container":           r.cfg.DatabaseContainer,
		"db":                  dbName,
	})
	log := zerowrap.FromCtx(ctx)

	created, err := r.exec(ctx, r.cfg.DatabaseContainer, createCommand("createdb", r.cfg.DBUser, r.cfg.DBPort, dbName))
	if err != nil {
		return nil, log.WrapErr(err, "failed to run createdb")
	}
	if created.ExitCode != 0 {
		log.Warn().Int("exit_code", created.ExitCode).Msg("createdb failed, skipping pg_restore")
		return created, nil
	}

	result, err := r.exec(ctx, r.cfg.DatabaseContainer, restoreCommand("pg_restore", r.cfg.DBUser, r.cfg.DBPort, dbName, staged))
	if err != nil {
		return nil, log.WrapErr(err, "failed to run pg_restore")
	}

	log.Info().Int("exit_code", result.ExitCode).Msg("pg_restore finished")
	return result, nil
}

func createCommand(bin, user string, port int, dbName string) []string {
	return []string{bin, "-U", user, "-p", strconv.Itoa(port), dbName}
}

func restoreCommand(bin, user string, port int, dbName, file string) []string {
	return []string{bin, "-U", user, "-p", strconv.Itoa(port), "--no-owner", "-d", dbName, file}
}

// PlaceFilestore extracts the archive locally and copies its top-level
// directory into <FilestorePath>/<dbName> in the application container.
func (r *Runtime) PlaceFilestore(ctx context.Context, archivePath, dbName string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "docker",
		zerowrap.FieldAction:  "PlaceFilestore",
		zerowrap.FieldPath:    archivePath,
		"container":           r.cfg.AppContainer,
		"db":                  dbName,
	})
	log := zerowrap.FromCtx(ctx)

	scratch, err := os.MkdirTemp(r.cfg.ScratchDir, "odoobackup-filestore-*")
	if err != nil {
		return log.WrapErr(err, "failed to create scratch directory")
	}
	defer os.RemoveAll(scratch)

	if err := filesystem.ExtractZip(archivePath, scratch, filesystem.DefaultExtractLimit); err != nil {
		return log.WrapErr(err, "failed to extract archive")
	}
	root, err := filesystem.FilestoreRoot(scratch)
	if err != nil {
		return log.WrapErr(err, "failed to locate filestore in archive")
	}

	dest := path.Join(r.cfg.FilestorePath, dbName)
	if err := r.mustExec(ctx, r.cfg.AppContainer, []string{"mkdir", "-p", dest}); err != nil {
		return err
	}

	tarStream, err := archive.TarWithOptions(root, &archive.TarOptions{})
	if err != nil {
		return log.WrapErr(err, "failed to pack filestore")
	}
	defer tarStream.Close()

	if err := r.copyTo(ctx, r.cfg.AppContainer, dest, tarStream); err != nil {
		return log.WrapErr(err, "failed to copy filestore into container")
	}

	if r.cfg.FilestoreOwner != "" {
		if err := r.mustExec(ctx, r.cfg.AppContainer, []string{"chown", "-R", r.cfg.FilestoreOwner, dest}); err != nil {
			return err
		}
	}

	log.Info().Str("dest", dest).Msg("filestore placed")
	return nil
}

func (r *Runtime) mustExec(ctx context.Context, containerID string, cmd []string) error {
	result, err := r.exec(ctx, containerID, cmd)
	if err != nil {
		return fmt.Errorf("%s in %s: %w", cmd[0], containerID, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s in %s exited with code %d: %s", cmd[0], containerID, result.ExitCode, bytes.TrimSpace(result.Stderr))
	}
	return nil
}

// execInContainer runs cmd as root and waits for it to finish.
func (r *Runtime) execInContainer(ctx context.Context, containerID string, cmd []string) (*out.ExecResult, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	created, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		User:         "root",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %q not found: %w", containerID, err)
		}
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	stdout, stderr, err := parseExecOutput(attach.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &out.ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout, Stderr: stderr}, nil
}

func (r *Runtime) copyToContainer(ctx context.Context, containerID, dstDir string, content io.Reader) error {
	return r.client.CopyToContainer(ctx, containerID, dstDir, content, container.CopyToContainerOptions{})
}

// parseExecOutput splits a multiplexed exec stream into stdout and stderr.
func parseExecOutput(r io.Reader) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return nil, nil, err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
