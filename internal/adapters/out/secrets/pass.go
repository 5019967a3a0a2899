// Package secrets resolves secret references found in configuration values.
package secrets

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

const providerTimeout = 10 * time.Second

var passPathRegex = regexp.MustCompile(`^[a-zA-Z0-9._/\-]+$`)

// ValidatePath rejects pass paths that could escape the store or inject arguments.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty secret path", domain.ErrInvalidConfig)
	}
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "-") {
		return fmt.Errorf("%w: invalid path %q", domain.ErrInvalidConfig, p)
	}
	if !passPathRegex.MatchString(p) {
		return fmt.Errorf("%w: invalid path %q", domain.ErrInvalidConfig, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: path traversal in %q", domain.ErrInvalidConfig, p)
		}
	}
	if path.Clean(p) != p && p != "." {
		return fmt.Errorf("%w: path %q is not clean", domain.ErrInvalidConfig, p)
	}
	return nil
}

var _ out.SecretProvider = (*PassProvider)(nil)

// PassProvider reads secrets from the pass password manager.
type PassProvider struct {
	runner out.CommandRunner
	log    zerowrap.Logger
}

// NewPassProvider creates a pass provider.
func NewPassProvider(runner out.CommandRunner, log zerowrap.Logger) *PassProvider {
	return &PassProvider{runner: runner, log: log}
}

// Name returns the provider name.
func (p *PassProvider) Name() string {
	return "pass"
}

// GetSecret returns the first line of `pass show <path>`.
func (p *PassProvider) GetSecret(ctx context.Context, secretPath string) (string, error) {
	if err := ValidatePath(secretPath); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	res, err := p.runner.Run(ctx, "pass", "show", secretPath)
	if err != nil {
		return "", fmt.Errorf("failed to execute pass command: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("pass command failed: %s", strings.TrimSpace(string(res.Stderr)))
	}

	secret, _, _ := strings.Cut(string(res.Stdout), "\n")
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", fmt.Errorf("empty secret returned from pass for path: %s", secretPath)
	}

	p.log.Debug().
		Str(zerowrap.FieldLayer, "adapter").
		Str(zerowrap.FieldAdapter, "secrets").
		Str("provider", "pass").
		Str("path", secretPath).
		Msg("retrieved secret from pass")

	return secret, nil
}
