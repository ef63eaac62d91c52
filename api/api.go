// Package api exposes the HTTP surface: batch ingestion, detection
// sweeps, alert triage, allowlist management, and the alert websocket.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"argus/config"
	"argus/service"
	"argus/storage"
)

// API wires the HTTP router to the service layer.
type API struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	events     *service.EventService
	alerts     *service.AlertService
	detections *service.DetectionService
	allowlist  storage.AllowlistStorageInterface

	hub         *Hub
	healthCheck func(ctx context.Context) error

	validate *validator.Validate
	auth     *authManager

	router  *mux.Router
	handler http.Handler
	server  *http.Server

	// Per-IP ingest rate limiters, pruned hourly
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewAPI creates the API and registers its routes. healthCheck probes
// the storage backend for /healthz and may be nil.
func NewAPI(
	events *service.EventService,
	alerts *service.AlertService,
	detections *service.DetectionService,
	allowlist storage.AllowlistStorageInterface,
	hub *Hub,
	healthCheck func(ctx context.Context) error,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *API {
	a := &API{
		cfg:          cfg,
		logger:       logger,
		events:       events,
		alerts:       alerts,
		detections:   detections,
		allowlist:    allowlist,
		hub:          hub,
		healthCheck:  healthCheck,
		validate:     validator.New(),
		auth:         newAuthManager(),
		router:       mux.NewRouter(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}

	a.setupRoutes()

	go a.cleanupRateLimiters()
	go a.auth.cleanupBlacklist(a.stopCh)

	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.loggingMiddleware)

	// Ingestion and sweeps
	a.router.HandleFunc("/api/v1/ingest", a.rateLimited(a.handleIngest)).Methods(http.MethodPost)
	a.router.HandleFunc("/api/v1/detections/run", a.requireAuth(a.handleDetectionRun)).Methods(http.MethodPost)

	// Alert reads and triage
	a.router.HandleFunc("/api/v1/alerts", a.handleListAlerts).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/alerts/{id}", a.handleGetAlert).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/alerts/{id}/status", a.requireAuth(a.handleUpdateAlertStatus)).Methods(http.MethodPatch)
	a.router.HandleFunc("/api/v1/alerts/{id}/false-positive", a.handleGetFalsePositive).Methods(http.MethodGet)

	// Allowlist management
	a.router.HandleFunc("/api/v1/allowlist", a.requireAuth(a.handleCreateAllowlistEntry)).Methods(http.MethodPost)
	a.router.HandleFunc("/api/v1/allowlist", a.handleListAllowlist).Methods(http.MethodGet)
	a.router.HandleFunc("/api/v1/allowlist/{id}", a.requireAuth(a.handleDeleteAllowlistEntry)).Methods(http.MethodDelete)

	// Authentication
	a.router.HandleFunc("/api/v1/auth/login", a.handleLogin).Methods(http.MethodPost)
	a.router.HandleFunc("/api/v1/auth/logout", a.handleLogout).Methods(http.MethodPost)

	// Live alert stream
	a.router.HandleFunc("/api/v1/ws/alerts", a.handleAlertStream).Methods(http.MethodGet)

	// Probes and scrape targets stay unprefixed
	a.router.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// CORS wraps outside the router so preflight OPTIONS requests are
	// answered even though the routes above register explicit methods.
	a.handler = a.corsMiddleware(a.router)
}

// Handler returns the root HTTP handler, mainly for tests.
func (a *API) Handler() http.Handler {
	return a.handler
}

// Start blocks serving HTTP until Shutdown or a listener error. It
// returns http.ErrServerClosed after a clean shutdown.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if a.cfg.Server.TLS {
		a.logger.Infow("API server starting with TLS", "addr", a.server.Addr)
		return a.server.ListenAndServeTLS(a.cfg.Server.CertFile, a.cfg.Server.KeyFile)
	}

	a.logger.Infow("API server starting", "addr", a.server.Addr)
	return a.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the background cleanup
// goroutines.
func (a *API) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })

	if a.server == nil {
		return nil
	}
	if err := a.server.Shutdown(ctx); err != nil {
		return err
	}
	a.logger.Info("API server stopped")
	return nil
}
