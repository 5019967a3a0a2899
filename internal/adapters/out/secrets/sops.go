package secrets

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

// sopsKeyPathRegex validates sops key paths (alphanumeric, dots, underscores, hyphens, brackets).
var sopsKeyPathRegex = regexp.MustCompile(`^[a-zA-Z0-9._\-\[\]]+$`)

var _ out.SecretProvider = (*SopsProvider)(nil)

// SopsProvider reads single keys from sops-encrypted files.
type SopsProvider struct {
	runner out.CommandRunner
	log    zerowrap.Logger
}

// NewSopsProvider creates a sops provider.
func NewSopsProvider(runner out.CommandRunner, log zerowrap.Logger) *SopsProvider {
	return &SopsProvider{runner: runner, log: log}
}

// Name returns the provider name.
func (s *SopsProvider) Name() string {
	return "sops"
}

// GetSecret extracts a key from a sops file. The reference format is
// "file.yaml:key.nested.path".
func (s *SopsProvider) GetSecret(ctx context.Context, ref string) (string, error) {
	filePath, keyPath, ok := strings.Cut(ref, ":")
	if !ok || filePath == "" || keyPath == "" {
		return "", fmt.Errorf("%w: sops reference must be 'file:key', got %q", domain.ErrInvalidConfig, ref)
	}

	cleanPath := filepath.Clean(filePath)
	if strings.Contains(cleanPath, "..") || strings.HasPrefix(cleanPath, "-") {
		return "", fmt.Errorf("%w: invalid sops file path %q", domain.ErrInvalidConfig, filePath)
	}
	if !sopsKeyPathRegex.MatchString(keyPath) {
		return "", fmt.Errorf("%w: invalid sops key path %q", domain.ErrInvalidConfig, keyPath)
	}

	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	res, err := s.runner.Run(ctx, "sops", "-d", "--extract", convertToSopsExtractPath(keyPath), cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to execute sops command: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("sops command failed: %s", strings.TrimSpace(string(res.Stderr)))
	}

	secret := strings.TrimSpace(string(res.Stdout))
	if secret == "" {
		return "", fmt.Errorf("empty secret returned from sops for %s", ref)
	}

	s.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "secrets").
		Str("provider", "sops").
		Str("path", cleanPath).
		Msg("retrieved secret from sops")

	return secret, nil
}

// convertToSopsExtractPath turns "a.b[0].c" into `["a"]["b"][0]["c"]`.
func convertToSopsExtractPath(keyPath string) string {
	var b strings.Builder
	for _, segment := range strings.Split(keyPath, ".") {
		if segment == "" {
			continue
		}
		name, indices, _ := strings.Cut(segment, "[")
		if name != "" {
			fmt.Fprintf(&b, "[%q]", name)
		}
		if indices != "" {
			b.WriteString("[" + indices)
		}
	}
	return b.String()
}
