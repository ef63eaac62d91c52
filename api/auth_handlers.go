package api

import (
	"net/http"
	"time"

	"argus/config"
	"argus/util"
)

const loginBodyLimit = 10 * 1024

type loginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) findUser(username string) (config.UserConfig, bool) {
	for _, u := range a.cfg.Auth.Users {
		if u.Username == username {
			return u, true
		}
	}
	return config.UserConfig{}, false
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.Auth.Enabled {
		a.respondError(w, r, http.StatusNotImplemented, codeUnauthorized,
			"authentication is disabled in configuration", nil)
		return
	}

	ip := clientIP(r)
	if !a.auth.allowLogin(ip) {
		a.logger.Warnw("Login rate limit exceeded", "source_ip", ip)
		a.respondError(w, r, http.StatusTooManyRequests, codeRateLimited, "too many login attempts", nil)
		return
	}

	var creds loginRequest
	if err := a.decodeJSONBody(w, r, &creds, loginBodyLimit); err != nil {
		a.respondError(w, r, http.StatusBadRequest, codeValidation, "invalid JSON in request body", err)
		return
	}
	if err := a.validate.Struct(creds); err != nil {
		a.respondError(w, r, http.StatusBadRequest, codeValidation, "invalid login credentials format", err)
		return
	}

	user, found := a.findUser(creds.Username)
	if found {
		if err := util.VerifyPassword(user.PasswordHash, creds.Password); err != nil {
			found = false
		}
	}
	if !found {
		// Same response whether the user exists or the password failed
		a.logger.Infow("Login attempt failed",
			"action", "login",
			"outcome", "failure",
			"username", creds.Username,
			"source_ip", ip)
		a.respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid credentials", nil)
		return
	}

	token, claims, err := a.generateToken(user.Username, user.Roles)
	if err != nil {
		a.respondError(w, r, http.StatusInternalServerError, codeInternal, "failed to generate token", err)
		return
	}

	a.logger.Infow("User login successful",
		"action", "login",
		"outcome", "success",
		"username", user.Username,
		"source_ip", ip)

	a.respondJSON(w, loginResponse{Token: token, ExpiresAt: claims.ExpiresAt.Time}, http.StatusOK)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.Auth.Enabled {
		a.respondJSON(w, map[string]string{"message": "logout successful"}, http.StatusOK)
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

	expiry := time.Now().Add(a.cfg.Auth.JWTExpiry)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	a.auth.revoke(claims.ID, expiry)

	a.logger.Infow("User logout",
		"action", "logout",
		"outcome", "success",
		"username", claims.Username,
		"source_ip", clientIP(r))

	a.respondJSON(w, map[string]string{"message": "logout successful"}, http.StatusOK)
}
