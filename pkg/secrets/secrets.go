package secrets

import (
	"context"
	"errors"
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Resolve overwrites each target with the secret stored under its key when
// one exists. Missing secrets leave the current value in place.
func Resolve(ctx context.Context, m Manager, targets map[string]*string) {
	for key, target := range targets {
		*target = m.GetSecretWithDefault(ctx, key, *target)
	}
}
