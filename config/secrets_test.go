package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretManager(t *testing.T) {
	t.Setenv("ARGUS_JWT_SECRET", "from-env")

	m := &EnvSecretManager{}
	value, err := m.GetSecret("jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	_, err = m.GetSecret("missing_key")
	assert.ErrorContains(t, err, "ARGUS_MISSING_KEY")
}

func TestSplitIndirection(t *testing.T) {
	tests := []struct {
		value      string
		wantScheme string
		wantKey    string
		wantOK     bool
	}{
		{"vault:jwt_secret", "vault", "jwt_secret", true},
		{"aws:redis_password", "aws", "redis_password", true},
		{"env:clickhouse_password", "env", "clickhouse_password", true},
		{"plain-literal-secret", "", "", false},
		{"", "", "", false},
		{"gcp:key", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			scheme, key, ok := splitIndirection(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantScheme, scheme)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestResolveSecrets_EnvIndirection(t *testing.T) {
	t.Setenv("ARGUS_JWT_SECRET", "resolved-jwt")

	cfg := &Config{}
	cfg.Auth.JWTSecret = "env:jwt_secret"
	cfg.Redis.Password = "literal-password"

	require.NoError(t, ResolveSecrets(cfg))
	assert.Equal(t, "resolved-jwt", cfg.Auth.JWTSecret)
	assert.Equal(t, "literal-password", cfg.Redis.Password)
}

func TestResolveSecrets_MissingEnvKey(t *testing.T) {
	cfg := &Config{}
	cfg.Redis.Password = "env:definitely_not_set_anywhere"

	err := ResolveSecrets(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.password")
}

func TestNewSecretManager(t *testing.T) {
	cfg := &Config{}
	m, err := NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, m)

	cfg.Secrets.Provider = "vault"
	m, err = NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &VaultSecretManager{}, m)

	cfg.Secrets.Provider = "gcp"
	_, err = NewSecretManager(cfg)
	assert.ErrorContains(t, err, "unsupported secret provider")
}
