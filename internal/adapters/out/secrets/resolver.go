package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/odoobackup/internal/boundaries/out"
	"github.com/bnema/odoobackup/internal/domain"
)

// Resolver expands "<scheme>:<ref>" values. Built-in schemes are env and
// file; other schemes go to the registered providers. Values without a
// known scheme are returned as-is.
type Resolver struct {
	providers map[string]out.SecretProvider
}

// NewResolver creates a resolver over providers.
func NewResolver(providers ...out.SecretProvider) *Resolver {
	r := &Resolver{providers: make(map[string]out.SecretProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Resolve returns the secret behind value.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	scheme, ref, ok := strings.Cut(value, ":")
	if !ok {
		return value, nil
	}

	switch scheme {
	case "env":
		v, set := os.LookupEnv(ref)
		if !set {
			return "", fmt.Errorf("%w: environment variable %s is not set", domain.ErrInvalidConfig, ref)
		}
		return v, nil
	case "file":
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("%w: failed to read secret file: %v", domain.ErrInvalidConfig, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	if p, found := r.providers[scheme]; found {
		return p.GetSecret(ctx, ref)
	}
	return value, nil
}

// ResolveAll resolves every non-empty pointer in place.
func (r *Resolver) ResolveAll(ctx context.Context, values ...*string) error {
	for _, v := range values {
		if v == nil || *v == "" {
			continue
		}
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}
