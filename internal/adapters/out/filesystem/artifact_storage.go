// Package filesystem implements local artifact persistence.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

const partialSuffix = ".partial"

var _ out.ArtifactStore = (*ArtifactStorage)(nil)

// ArtifactStorage keeps artifacts in a single flat directory.
type ArtifactStorage struct {
	rootDir string
	log     zerowrap.Logger
}

// NewArtifactStorage creates the directory if needed.
func NewArtifactStorage(rootDir string, log zerowrap.Logger) (*ArtifactStorage, error) {
	rootDir = expandTilde(rootDir)
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &ArtifactStorage{rootDir: abs, log: log}, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path[2:])
	}
	return path
}

// Dir returns the artifact directory.
func (s *ArtifactStorage) Dir() string {
	return s.rootDir
}

// Path validates name and joins it onto the artifact directory.
func (s *ArtifactStorage) Path(name string) (string, error) {
	if _, err := domain.ValidateArtifactName(name); err != nil {
		return "", err
	}
	path := filepath.Join(s.rootDir, name)
	if !pathWithinRoot(s.rootDir, path) {
		return "", fmt.Errorf("%w: %q escapes artifact directory", domain.ErrInvalidArtifactName, name)
	}
	return path, nil
}

// Save writes data to a partial file and links it into place.
// An existing artifact with the same name is never replaced.
func (s *ArtifactStorage) Save(ctx context.Context, name string, data io.Reader) (*domain.Artifact, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "adapter",
		zerowrap.FieldAdapter:  "filesystem",
		zerowrap.FieldAction:   "Save",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	finalPath, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(finalPath); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrArtifactExists, name)
	}

	tmpPath := finalPath + partialSuffix
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return nil, log.WrapErr(err, "failed to create partial artifact file")
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return nil, log.WrapErr(err, "failed to write artifact data")
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, log.WrapErr(err, "failed to close partial artifact file")
	}

	// Link fails when the target exists, unlike Rename.
	if err := os.Link(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrArtifactExists, name)
		}
		return nil, log.WrapErr(err, "failed to finalize artifact file")
	}
	_ = os.Remove(tmpPath)

	log.Debug().Str(zerowrap.FieldPath, finalPath).Msg("artifact saved")

	return s.Stat(ctx, name)
}

// List returns recognized artifacts newest first. Subdirectories, partial
// writes and unknown suffixes are ignored.
func (s *ArtifactStorage) List(_ context.Context) ([]domain.Artifact, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Artifact{}, nil
		}
		return nil, err
	}

	artifacts := make([]domain.Artifact, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		kind, ok := domain.KindFromName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, domain.Artifact{
			Name:      entry.Name(),
			Kind:      kind,
			LocalPath: filepath.Join(s.rootDir, entry.Name()),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	domain.SortByRecency(artifacts)
	return artifacts, nil
}

// Stat returns the artifact for name or domain.ErrArtifactMissing.
func (s *ArtifactStorage) Stat(_ context.Context, name string) (*domain.Artifact, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	kind, _ := domain.KindFromName(name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrArtifactMissing, name)
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", domain.ErrArtifactMissing, name)
	}

	return &domain.Artifact{
		Name:      name,
		Kind:      kind,
		LocalPath: path,
		SizeBytes: info.Size(),
		CreatedAt: info.ModTime(),
	}, nil
}

// Probe reports what is on disk at the path for name.
func (s *ArtifactStorage) Probe(_ context.Context, name string) (out.LocalEntry, error) {
	path, err := s.Path(name)
	if err != nil {
		return out.LocalEntry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out.LocalEntry{}, nil
		}
		return out.LocalEntry{}, err
	}
	return out.LocalEntry{Exists: true, IsDir: info.IsDir(), SizeBytes: info.Size()}, nil
}

// Delete removes an artifact. Already gone counts as success.
func (s *ArtifactStorage) Delete(ctx context.Context, name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrRetentionDeleteFailed, name, err)
	}

	log := zerowrap.FromCtx(ctx)
	log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "filesystem").
		Str(zerowrap.FieldEntityID, name).
		Msg("artifact deleted")
	return nil
}

func pathWithinRoot(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(filepath.Clean(rootAbs), filepath.Clean(pathAbs))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
