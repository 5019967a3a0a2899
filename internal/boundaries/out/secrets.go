package out

import "context"

// SecretProvider resolves one secret reference, e.g. "pass:odoo/master".
type SecretProvider interface {
	// Name returns the reference scheme it serves (e.g., "pass", "sops").
	Name() string
	// GetSecret retrieves the secret stored under ref.
	GetSecret(ctx context.Context, ref string) (string, error)
}
