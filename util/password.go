// Package util holds small shared helpers with no dependencies on the
// rest of the module.
package util

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Password length bounds for config-declared users. The upper bound is
// bcrypt's input limit; GenerateFromPassword rejects anything longer.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ErrPasswordTooShort is returned by ValidatePassword for passwords
// under MinPasswordLength.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// ErrPasswordTooLong is returned by ValidatePassword for passwords over
// MaxPasswordLength.
var ErrPasswordTooLong = fmt.Errorf("password must be at most %d characters", MaxPasswordLength)

// ValidatePassword checks a plaintext password before it is hashed.
// Control characters are rejected because they survive into YAML config
// files in ways that are invisible to the operator.
func ValidatePassword(password string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	for _, r := range password {
		if r < 0x20 || r == 0x7f {
			return errors.New("password contains control characters")
		}
	}
	return nil
}

// HashPassword returns the bcrypt hash of a password for use as a
// password_hash value in the auth.users config section.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password against a bcrypt hash.
// Returns nil on match.
func VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GeneratePassword returns a random URL-safe password of the requested
// length. Lengths under 16 are raised to 16.
func GeneratePassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}

	// base64 expands 3 bytes to 4 characters, so over-provision and trim.
	raw := make([]byte, (length*3+3)/4+3)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}

	password := base64.URLEncoding.EncodeToString(raw)
	return password[:length], nil
}
