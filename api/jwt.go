package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const blacklistCleanupInterval = 10 * time.Minute

// Claims carries the authenticated identity inside the JWT.
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// authManager tracks revoked tokens and throttles login attempts.
type authManager struct {
	// JTI -> token expiry. A token is revoked while it is present and
	// not yet past its own expiry; after that the entry is garbage.
	tokenBlacklist sync.Map

	loginAttempts   map[string]int
	loginWindowFrom time.Time
	loginMu         sync.Mutex
}

func newAuthManager() *authManager {
	return &authManager{
		loginAttempts:   make(map[string]int),
		loginWindowFrom: time.Now(),
	}
}

// allowLogin enforces a fixed window of login attempts per client IP.
func (am *authManager) allowLogin(ip string) bool {
	const window = time.Minute
	const limit = 10

	am.loginMu.Lock()
	defer am.loginMu.Unlock()

	if time.Since(am.loginWindowFrom) > window {
		am.loginAttempts = make(map[string]int)
		am.loginWindowFrom = time.Now()
	}

	if am.loginAttempts[ip] >= limit {
		return false
	}
	am.loginAttempts[ip]++
	return true
}

// revoke blacklists a token id until the token's own expiry.
func (am *authManager) revoke(jti string, expiresAt time.Time) {
	am.tokenBlacklist.Store(jti, expiresAt)
}

// isRevoked reports whether the token id is currently blacklisted.
func (am *authManager) isRevoked(jti string) bool {
	value, ok := am.tokenBlacklist.Load(jti)
	if !ok {
		return false
	}
	expiry, ok := value.(time.Time)
	if !ok || time.Now().After(expiry) {
		am.tokenBlacklist.Delete(jti)
		return false
	}
	return true
}

// cleanupBlacklist drops blacklist entries for tokens that have expired
// on their own.
func (am *authManager) cleanupBlacklist(stopCh <-chan struct{}) {
	ticker := time.NewTicker(blacklistCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			am.tokenBlacklist.Range(func(key, value interface{}) bool {
				if expiry, ok := value.(time.Time); !ok || now.After(expiry) {
					am.tokenBlacklist.Delete(key)
				}
				return true
			})
		}
	}
}

// newJTI returns a 256-bit random token id.
func newJTI() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// generateToken mints an HS256 JWT for the user.
func (a *API) generateToken(username string, roles []string) (string, *Claims, error) {
	jti, err := newJTI()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	claims := &Claims{
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   username,
			Issuer:    "argus",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.Auth.JWTExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.cfg.Auth.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// validateToken parses and verifies an HS256 JWT, rejecting revoked
// token ids.
func (a *API) validateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.Auth.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, errors.New("token expired")
	}
	if claims.ID == "" {
		return nil, errors.New("token missing id")
	}
	if a.auth.isRevoked(claims.ID) {
		return nil, errors.New("token revoked")
	}

	return claims, nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return token, token != ""
}

// requireAuth guards mutating routes with JWT validation. When auth is
// disabled every request passes with an anonymous identity.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Auth.Enabled {
			ctx := WithUsername(r.Context(), "anonymous")
			ctx = WithRoles(ctx, []string{"admin"})
			next(w, r.WithContext(ctx))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			a.respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "authorization required", nil)
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			a.respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid token", err)
			return
		}

		ctx := WithUsername(r.Context(), claims.Username)
		ctx = WithRoles(ctx, claims.Roles)
		next(w, r.WithContext(ctx))
	}
}
