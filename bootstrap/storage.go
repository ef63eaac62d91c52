package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/storage"
)

// eventWriteWorkers is the number of async batch writers draining the
// ClickHouse event queue.
const eventWriteWorkers = 2

const clickHouseMaxRetries = 3

// InitStore builds the storage layer for the configured backend and
// returns it with a health probe for /healthz.
func InitStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.Store, func(context.Context) error, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return initSQLiteStore(cfg, sugar)
	case config.BackendClickHouse:
		return initClickHouseStore(ctx, cfg, sugar)
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend: %q", cfg.Storage.Backend)
	}
}

// InitCache connects the optional redis cache. An unreachable redis is
// logged and returns nil: alert caching and the cross-replica sweep lock
// degrade while the service stays up.
func InitCache(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) *core.RedisCache {
	if !cfg.Redis.Enabled {
		sugar.Info("Redis disabled, alert cache and sweep lock run in-process only")
		return nil
	}

	cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		sugar.Warnw("Redis unreachable, continuing without cache",
			"addr", cfg.Redis.Addr,
			"error", err)
		cache.Close()
		return nil
	}

	sugar.Infow("Redis cache connected", "addr", cfg.Redis.Addr)
	return cache
}

func initSQLiteStore(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.Store, func(context.Context) error, error) {
	sqlite, err := openSQLite(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(
		storage.NewSQLiteEventStorage(sqlite),
		storage.NewSQLiteAlertStorage(sqlite),
		storage.NewSQLiteAllowlistStorage(sqlite),
		sqlite.Close,
	)
	healthCheck := func(context.Context) error { return sqlite.HealthCheck() }

	sugar.Infow("SQLite storage initialized", "path", cfg.Storage.SQLitePath)
	return store, healthCheck, nil
}

// initClickHouseStore keeps the event firehose in ClickHouse while alerts
// and allowlist state stay in SQLite, whose transactional updates fit the
// triage workflow.
func initClickHouseStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*storage.Store, func(context.Context) error, error) {
	clickhouse, err := connectClickHouse(cfg, sugar)
	if err != nil {
		return nil, nil, err
	}

	events, err := storage.NewClickHouseEventStorage(ctx, clickhouse, storage.ClickHouseEventStorageConfig{
		BatchSize:      cfg.Storage.ClickHouse.BatchSize,
		FlushInterval:  cfg.Storage.ClickHouse.FlushInterval,
		DedupCacheSize: cfg.Storage.ClickHouse.DedupCacheSize,
	}, sugar)
	if err != nil {
		clickhouse.Close()
		return nil, nil, fmt.Errorf("failed to initialize ClickHouse event storage: %w", err)
	}
	events.Start(eventWriteWorkers)

	sqlite, err := openSQLite(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		events.Stop()
		clickhouse.Close()
		return nil, nil, err
	}

	store := storage.NewStore(
		events,
		storage.NewSQLiteAlertStorage(sqlite),
		storage.NewSQLiteAllowlistStorage(sqlite),
		sqlite.Close,
		clickhouse.Close,
		events.Stop,
	)
	healthCheck := func(ctx context.Context) error {
		if err := clickhouse.HealthCheck(ctx); err != nil {
			return err
		}
		return sqlite.HealthCheck()
	}

	sugar.Infow("ClickHouse event storage initialized",
		"addr", cfg.Storage.ClickHouse.Addr,
		"database", cfg.Storage.ClickHouse.Database,
		"batch_size", cfg.Storage.ClickHouse.BatchSize)
	return store, healthCheck, nil
}

// connectClickHouse dials with retry and backoff so a restart race with
// the database container resolves on its own.
func connectClickHouse(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.ClickHouse, error) {
	retryDelays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var clickhouse *storage.ClickHouse
	var lastErr error

	for attempt := 0; attempt <= clickHouseMaxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying ClickHouse connection",
				"attempt", attempt,
				"max_retries", clickHouseMaxRetries,
				"delay", retryDelays[attempt-1])
			time.Sleep(retryDelays[attempt-1])
		}

		clickhouse, lastErr = storage.NewClickHouse(storage.ClickHouseConfig{
			Addr:        cfg.Storage.ClickHouse.Addr,
			Database:    cfg.Storage.ClickHouse.Database,
			Username:    cfg.Storage.ClickHouse.Username,
			Password:    cfg.Storage.ClickHouse.Password,
			TLS:         cfg.Storage.ClickHouse.TLS,
			MaxPoolSize: cfg.Storage.ClickHouse.MaxPoolSize,
		}, sugar)
		if lastErr == nil {
			return clickhouse, nil
		}

		sugar.Warnw("ClickHouse connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	errMsg := ClassifyConnectionError(lastErr, cfg.Storage.ClickHouse.Addr)
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: ClickHouse Connection Failed\n")
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", errMsg)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
	return nil, fmt.Errorf("failed to connect to ClickHouse after %d attempts: %w", clickHouseMaxRetries+1, lastErr)
}

func openSQLite(dbPath string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dbPath, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dbPath)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}
