package filesystem

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bnema/odoobackup/internal/domain"
)

const (
	// filestoreDirName is the directory Odoo puts attachments under in a zip backup.
	filestoreDirName = "filestore"

	// DefaultExtractLimit caps the bytes written by one extraction.
	DefaultExtractLimit int64 = 64 << 30

	// Extracted entries are world-readable so a service account other than
	// ours can copy them out of the scratch directory. The scratch directory
	// itself decides who can reach them.
	extractDirMode  = 0755
	extractFileMode = 0644
)

// ErrExtractLimit is returned when an archive expands past the extraction limit.
var ErrExtractLimit = errors.New("archive exceeds extraction limit")

// ExtractZip unpacks archivePath into destDir, writing at most maxBytes
// (DefaultExtractLimit when maxBytes <= 0). Entries that would land
// outside destDir are rejected.
func ExtractZip(archivePath, destDir string, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultExtractLimit
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, extractDirMode); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	remaining := maxBytes
	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if !pathWithinRoot(destDir, target) {
			return fmt.Errorf("archive entry %q escapes extraction directory", f.Name)
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, extractDirMode); err != nil {
				return fmt.Errorf("failed to create directory %q: %w", f.Name, err)
			}
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			continue
		}

		written, err := extractFile(f, target, remaining)
		if err != nil {
			return err
		}
		remaining -= written
	}

	return openDirs(destDir)
}

// openDirs sets extractDirMode on every directory under root, since
// MkdirAll modes are filtered by the umask.
func openDirs(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return os.Chmod(p, extractDirMode)
	})
}

// extractFile copies one entry, refusing to write more than limit bytes.
// The declared size in the header is not trusted.
func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), extractDirMode); err != nil {
		return 0, fmt.Errorf("failed to create directory for %q: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open entry %q: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, extractFileMode)
	if err != nil {
		return 0, fmt.Errorf("failed to create %q: %w", target, err)
	}

	if err := dst.Chmod(extractFileMode); err != nil {
		_ = dst.Close()
		return 0, fmt.Errorf("failed to set mode on %q: %w", target, err)
	}

	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		_ = dst.Close()
		return n, fmt.Errorf("failed to extract %q: %w", f.Name, err)
	}
	if n > limit {
		_ = dst.Close()
		return n, fmt.Errorf("%w: stopped at %q", ErrExtractLimit, f.Name)
	}
	return n, dst.Close()
}

// FilestoreRoot returns the single top-level directory of an extracted
// archive. When several exist, the one named "filestore" wins.
func FilestoreRoot(extractedDir string) (string, error) {
	entries, err := os.ReadDir(extractedDir)
	if err != nil {
		return "", err
	}

	dirs := make([]string, 0, 1)
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	switch len(dirs) {
	case 0:
		return "", domain.ErrNoFilestore
	case 1:
		return filepath.Join(extractedDir, dirs[0]), nil
	}

	for _, d := range dirs {
		if d == filestoreDirName {
			return filepath.Join(extractedDir, d), nil
		}
	}
	return "", fmt.Errorf("archive has %d top-level directories: %s", len(dirs), strings.Join(dirs, ", "))
}
