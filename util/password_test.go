package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$"), "expected a bcrypt hash, got %q", hash)

	assert.NoError(t, VerifyPassword(hash, "correct horse battery staple"))
	assert.Error(t, VerifyPassword(hash, "wrong password"))
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	err := VerifyPassword("not-a-bcrypt-hash", "whatever")
	assert.Error(t, err)
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{
			name:     "valid password",
			password: "hunter2hunter2",
		},
		{
			name:     "minimum length accepted",
			password: strings.Repeat("a", MinPasswordLength),
		},
		{
			name:     "maximum length accepted",
			password: strings.Repeat("a", MaxPasswordLength),
		},
		{
			name:     "empty",
			password: "",
			wantErr:  assert.AnError,
		},
		{
			name:     "too short",
			password: "short",
			wantErr:  ErrPasswordTooShort,
		},
		{
			name:     "over bcrypt input limit",
			password: strings.Repeat("a", MaxPasswordLength+1),
			wantErr:  ErrPasswordTooLong,
		},
		{
			name:     "embedded newline",
			password: "valid-password\nwith-newline",
			wantErr:  assert.AnError,
		},
		{
			name:     "embedded null byte",
			password: "valid-password\x00tail",
			wantErr:  assert.AnError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != assert.AnError {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		wantLength int
	}{
		{name: "requested length", length: 24, wantLength: 24},
		{name: "short request raised to floor", length: 8, wantLength: 16},
		{name: "zero raised to floor", length: 0, wantLength: 16},
		{name: "long request honored", length: 64, wantLength: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			password, err := GeneratePassword(tt.length)
			require.NoError(t, err)
			assert.Len(t, password, tt.wantLength)
		})
	}
}

func TestGeneratePasswordUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		password, err := GeneratePassword(24)
		require.NoError(t, err)
		assert.False(t, seen[password], "generated a duplicate password")
		seen[password] = true
	}
}

func TestGeneratedPasswordsHashCleanly(t *testing.T) {
	password, err := GeneratePassword(32)
	require.NoError(t, err)
	require.NoError(t, ValidatePassword(password))

	hash, err := HashPassword(password)
	require.NoError(t, err)
	assert.NoError(t, VerifyPassword(hash, password))
}
