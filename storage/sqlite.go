package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the SQLite database connections.
// PERFORMANCE: Separate read and write pools to leverage WAL mode's
// concurrent read capability. WAL allows unlimited readers alongside a
// single writer, so serializing everything through one pool wastes the
// read side entirely.
type SQLite struct {
	WriteDB *sql.DB // Write-only pool (MaxOpenConns=1 for WAL single writer)
	ReadDB  *sql.DB // Read-only pool (query_only enforced at the SQLite level)
	Path    string
	Logger  *zap.SugaredLogger
}

// configureSQLiteConnection applies the standard pragmas to a pool and
// verifies they took effect. Used for both the read and write pools.
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	// WAL mode must be set with a PRAGMA; connection string parameters
	// are not reliable across drivers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SECURITY: SQLite disables foreign keys by default
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled (got: %d, expected: 1)", fkEnabled)
	}

	// Avoid immediate SQLITE_BUSY errors when the writer holds the lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" journal mode, not "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}

	logger.Debugf("SQLite %s pool configured (journal_mode=%s)", poolType, journalMode)
	return nil
}

// NewSQLite opens the database, configures both connection pools, and
// runs pending migrations.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	// SECURITY: Validate database path to prevent path traversal
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// For in-memory databases both pools must share one cache; without
	// it each sql.Open(":memory:") creates a separate empty database.
	// Reference: https://www.sqlite.org/inmemorydb.html#sharedmemdb
	actualPath := dbPath
	if dbPath == ":memory:" {
		actualPath = "file::memory:?cache=shared"
	}

	writeDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}

	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	// WAL mode requires exactly one writer at a time
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0) // Never expire (keeps in-memory databases alive)
	writeDB.SetConnMaxIdleTime(10 * time.Minute)

	readDB, err := sql.Open("sqlite", actualPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}

	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	// SECURITY: Enforce read-only access on the read pool at the SQLite
	// level so a misrouted write fails loudly instead of racing the
	// single writer
	if _, err = readDB.Exec("PRAGMA query_only=ON"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to enable query_only mode on read pool: %w", err)
	}

	var queryOnly int
	if err = readDB.QueryRow("PRAGMA query_only").Scan(&queryOnly); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to verify query_only mode: %w", err)
	}
	if queryOnly != 1 {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("query_only mode not enabled on read pool (got: %d, expected: 1)", queryOnly)
	}

	// WAL allows unlimited concurrent readers without blocking
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)

	sqlite := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := sqlite.runMigrations(); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Infof("SQLite database initialized at %s with separate read/write pools", dbPath)

	return sqlite, nil
}

// runMigrations applies all registered schema migrations on the write pool
func (s *SQLite) runMigrations() error {
	runner, err := NewMigrationRunner(s.WriteDB, s.Logger)
	if err != nil {
		return err
	}
	RegisterSQLiteMigrations(runner)
	return runner.RunMigrations()
}

// WithTransaction executes fn within a transaction on the write pool,
// rolling back on error or panic.
func (s *SQLite) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes both connection pools
func (s *SQLite) Close() error {
	var writeErr, readErr error

	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		readErr = s.ReadDB.Close()
	}

	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}

// HealthCheck verifies both pools are alive
func (s *SQLite) HealthCheck() error {
	if err := s.WriteDB.Ping(); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	if err := s.ReadDB.Ping(); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	return nil
}

// validateDatabasePath rejects paths that could escape the working
// directory or smuggle control characters into filesystem calls.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}

	// Absolute paths bypass the working directory restriction. Allow
	// :memory: and temp directories (used by tests).
	if filepath.IsAbs(dbPath) && dbPath != ":memory:" {
		if !strings.Contains(dbPath, os.TempDir()) {
			return fmt.Errorf("absolute paths not allowed: %s", dbPath)
		}
	}

	// Even a relative path can escape with ".."
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}

	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}

	return nil
}
