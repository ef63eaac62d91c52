package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/notify"
	"argus/service"
	"argus/storage"
)

// App represents the Argus application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Store *storage.Store
	Cache *core.RedisCache

	// Ingestion
	Normalizer *ingest.Normalizer
	Ingestor   *ingest.Service

	// Detection
	Engine    *detect.Engine
	Scheduler *detect.Scheduler

	// Delivery
	Hub        *api.Hub
	Dispatcher *notify.Dispatcher

	// Services
	Events     *service.EventService
	Alerts     *service.AlertService
	Detections *service.DetectionService
	APIServer  *api.API

	healthCheck func(ctx context.Context) error

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	serviceWg sync.WaitGroup
	started   bool
}

// NewApp loads configuration and initializes all components. Nothing is
// listening or ticking yet; call Start for that.
func NewApp(ctx context.Context, configPath string) (app *App, err error) {
	cfg, err := InitConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	defer func() {
		if err != nil {
			cancel()
		}
	}()

	app = &App{
		Config: cfg,
		Logger: logger,
		Sugar:  sugar,
		ctx:    appCtx,
		cancel: cancel,
	}

	sugar.Info("Argus starting...")
	LogStartupInfo(cfg, sugar)

	sugar.Info("Running pre-flight checks...")
	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	store, healthCheck, err := InitStore(appCtx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.healthCheck = healthCheck

	app.Cache = InitCache(appCtx, cfg, sugar)

	app.Normalizer = InitNormalizer(cfg, sugar)
	app.Ingestor, err = InitIngest(store, app.Normalizer, cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Engine, err = InitDetectionEngine(cfg, store, sugar)
	if err != nil {
		return nil, err
	}

	app.Dispatcher, err = InitDispatcher(appCtx, cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Hub = api.NewHub(appCtx, sugar)

	app.Events = service.NewEventService(app.Ingestor, sugar)
	app.Alerts = service.NewAlertService(store.Alerts, app.Cache, cfg.Redis.CacheTTL, app.Hub, sugar)

	// A nil *RedisCache must stay out of the interface value or the
	// detection service would call methods on it.
	var locker service.DetectionLocker
	if app.Cache != nil {
		locker = app.Cache
	}
	app.Detections = service.NewDetectionService(app.Engine, locker, app.Hub, app.Dispatcher, sugar)

	app.APIServer = api.NewAPI(app.Events, app.Alerts, app.Detections, store.Allowlist, app.Hub, healthCheck, cfg, sugar)

	return app, nil
}

// Start launches the background services and the HTTP listener.
func (a *App) Start() error {
	scheduler, err := InitScheduler(a.Detections, a.Config, a.Sugar)
	if err != nil {
		return err
	}
	a.Scheduler = scheduler

	go a.Hub.Start()
	a.Dispatcher.Start()

	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	a.startAPIServer()
	a.started = true
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully stops all components in reverse dependency order.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	// Stop scheduled sweeps first so nothing new enters the pipeline.
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	// Drain in-flight HTTP requests.
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		if err := a.APIServer.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
		cancel()
	}

	// Disconnect websocket subscribers. The hub's event loop only runs
	// after Start, and stopping it earlier would block forever.
	if a.started {
		a.Hub.Stop()
	}

	// Flush queued notifications before their workers go away.
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}

	// Storage closers run in reverse registration order: the ClickHouse
	// batch writer drains before its connection closes.
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Errorw("Storage shutdown reported an error", "error", err)
		}
	}

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Sugar.Errorw("Failed to close redis connection", "error", err)
		}
	}

	a.cancel()

	// Bounded wait for service goroutines so a wedged listener cannot
	// hang the process exit.
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}

// startAPIServer runs the HTTP listener on a service goroutine.
func (a *App) startAPIServer() {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.Sugar.Errorw("API server panicked", "panic", r)
			}
		}()

		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server error", "error", err)
		}
	}()
}
