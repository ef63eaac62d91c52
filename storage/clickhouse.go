package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// validDatabaseNameRegex ensures database names are safe from SQL injection
var validDatabaseNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ClickHouseConfig holds connection settings for the event firehose
// backend
type ClickHouseConfig struct {
	Addr        string
	Database    string
	Username    string
	Password    string
	TLS         bool
	MaxPoolSize int
}

// ClickHouse holds the ClickHouse connection
type ClickHouse struct {
	Conn   driver.Conn
	Logger *zap.SugaredLogger
}

// NewClickHouse opens a connection and ensures the database and tables
// exist
func NewClickHouse(cfg ClickHouseConfig, logger *zap.SugaredLogger) (*ClickHouse, error) {
	maxPoolSize := cfg.MaxPoolSize
	if maxPoolSize <= 0 {
		maxPoolSize = 10
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     maxPoolSize,
		MaxIdleConns:     maxPoolSize / 2,
		ConnMaxLifetime:  1 * time.Hour, // Prevent stale connections
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			// TCP keepalive detects broken connections
			var d net.Dialer
			d.Timeout = 10 * time.Second
			d.KeepAlive = 30 * time.Second
			return d.DialContext(ctx, "tcp", addr)
		},
	}

	if cfg.TLS {
		options.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS13,
			InsecureSkipVerify: false,
			CipherSuites: []uint16{
				tls.TLS_AES_128_GCM_SHA256,
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
			},
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("Connected to ClickHouse successfully")

	if err := ensureDatabase(ctx, conn, cfg.Database, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure database exists: %w", err)
	}

	ch := &ClickHouse{
		Conn:   conn,
		Logger: logger,
	}

	if err := ch.CreateTablesIfNotExist(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return ch, nil
}

// validateDatabaseName ensures the database name is safe from SQL injection
func validateDatabaseName(database string) error {
	if database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if len(database) > 64 {
		return fmt.Errorf("database name too long (max 64 characters)")
	}
	if !validDatabaseNameRegex.MatchString(database) {
		return fmt.Errorf("database name contains invalid characters (only alphanumeric and underscore allowed)")
	}
	return nil
}

// ensureDatabase creates the database if it doesn't exist
func ensureDatabase(ctx context.Context, conn driver.Conn, database string, logger *zap.SugaredLogger) error {
	if err := validateDatabaseName(database); err != nil {
		return fmt.Errorf("invalid database name: %w", err)
	}

	// Backtick quoting for identifier safety on top of the validation
	query := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", database)
	if err := conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	logger.Infof("Database '%s' is ready", database)
	return nil
}

// CreateTablesIfNotExist creates the events table if it doesn't exist
func (ch *ClickHouse) CreateTablesIfNotExist(ctx context.Context) error {
	eventsTable := `
	CREATE TABLE IF NOT EXISTS events (
		id String,
		timestamp DateTime64(3, 'UTC'),
		actor String,
		source_ip String,
		user_agent String,
		action LowCardinality(String),
		resource String,
		outcome LowCardinality(String),
		request_id String,
		raw_data String,
		created_at DateTime64(3, 'UTC'),
		INDEX idx_actor actor TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_source_ip source_ip TYPE bloom_filter(0.01) GRANULARITY 1,
		INDEX idx_action action TYPE set(0) GRANULARITY 1
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (timestamp, action, source_ip)
	TTL timestamp + INTERVAL 30 DAY
	SETTINGS index_granularity = 8192
	`

	if err := ch.Conn.Exec(ctx, eventsTable); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	ch.Logger.Info("Events table created/verified")
	return nil
}

// HealthCheck performs a health check on the ClickHouse connection
func (ch *ClickHouse) HealthCheck(ctx context.Context) error {
	return ch.Conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (ch *ClickHouse) Close() error {
	return ch.Conn.Close()
}
