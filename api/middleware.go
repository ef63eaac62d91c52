package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"argus/metrics"
)

// rateLimiterEntry tracks one client IP's token bucket and its last use
// so idle entries can be pruned.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades keep
// working behind the logging middleware.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientIP returns the remote address without the port. Proxy headers
// are deliberately ignored; they are trivially spoofable without a
// trusted-proxy setup.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestIDMiddleware tags every request with a correlation id, reusing
// a client-supplied X-Request-ID when present.
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// loggingMiddleware records request outcome and latency, both to the
// log and to the prometheus collectors.
func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		a.logger.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", float64(elapsed.Microseconds())/1000.0,
			"remote_ip", clientIP(r),
			"request_id", RequestIDFromContext(r.Context()))
	})
}

// corsMiddleware echoes allowed origins and answers preflight requests.
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range a.cfg.Server.AllowedOrigins {
				if origin == allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Add("Vary", "Origin")
					break
				}
			}
		}

		if a.cfg.Server.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the token bucket for an IP, creating it on first
// sight.
func (a *API) limiterFor(ip string) *rate.Limiter {
	a.rateLimitersMu.Lock()
	defer a.rateLimitersMu.Unlock()

	entry, ok := a.rateLimiters[ip]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(a.cfg.Ingest.RateLimitPerIP), a.cfg.Ingest.RateLimitBurst),
		}
		a.rateLimiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// rateLimited enforces the per-IP token bucket on ingest routes. A zero
// configured rate disables limiting.
func (a *API) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Ingest.RateLimitPerIP <= 0 {
			next(w, r)
			return
		}

		ip := clientIP(r)
		if !a.limiterFor(ip).Allow() {
			a.respondError(w, r, http.StatusTooManyRequests, codeRateLimited, "ingest rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}

// cleanupRateLimiters prunes buckets idle for over an hour. Runs until
// Shutdown closes stopCh.
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Hour)
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if entry.lastSeen.Before(cutoff) {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		}
	}
}
