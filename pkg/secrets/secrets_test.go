package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"speaking-practice/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentFallbackWhenVaultDisabled(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")

	m, err := NewVaultManager(VaultConfig{}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Close)

	v, err := m.GetSecret(context.Background(), "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)

	_, err = m.GetSecret(context.Background(), "missing.key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", m.GetSecretWithDefault(context.Background(), "missing.key", "fallback"))
}

func TestVaultRequiresAddressAndToken(t *testing.T) {
	_, err := NewVaultManager(VaultConfig{Enabled: true}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultAddress)

	_, err = NewVaultManager(VaultConfig{Enabled: true, Address: "http://127.0.0.1:1"}, logger.Nop())
	assert.ErrorIs(t, err, ErrNoVaultToken)
}

func TestVaultKVLookup(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/v1/secret/data/speaking-practice", r.URL.Path)
		assert.Equal(t, "root-token", r.Header.Get("X-Vault-Token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"data": {
				"data": {"ai_service_api_key": "vault-key"},
				"metadata": {"created_time": "2024-01-01T00:00:00Z", "deletion_time": "", "destroyed": false, "version": 3}
			}
		}`))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("REDIS_PASSWORD", "env-redis")

	m, err := NewVaultManager(VaultConfig{
		Enabled:     true,
		Address:     srv.URL,
		Token:       "root-token",
		SecretsPath: "speaking-practice",
		MaxRetries:  0,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ctx := context.Background()
	v, err := m.GetSecret(ctx, "ai_service_api_key")
	require.NoError(t, err)
	assert.Equal(t, "vault-key", v)

	v, err = m.GetSecret(ctx, "ai_service_api_key")
	require.NoError(t, err)
	assert.Equal(t, "vault-key", v)
	assert.Equal(t, 1, hits)

	apiKey, redisPassword := "", "unset"
	Resolve(ctx, m, map[string]*string{
		"ai_service_api_key": &apiKey,
		"redis_password":     &redisPassword,
	})
	assert.Equal(t, "vault-key", apiKey)
	assert.Equal(t, "env-redis", redisPassword)
}
