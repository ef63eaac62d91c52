package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Migration represents a schema migration with an up operation
type Migration struct {
	Version     string              // Semantic version (e.g., "1.0.0")
	Name        string              // Descriptive name (e.g., "initial_schema")
	Description string              // Human-readable description
	Up          func(*sql.Tx) error // Apply migration
	Checksum    string              // SHA256 of version+name for drift detection
}

// MigrationRecord represents a row in the schema_migrations table
type MigrationRecord struct {
	ID        int64
	Version   string
	Name      string
	Checksum  string
	AppliedAt time.Time
	Duration  int64 // milliseconds
}

// MigrationRunner applies registered migrations in version order
type MigrationRunner struct {
	db         *sql.DB
	logger     *zap.SugaredLogger
	migrations []Migration
}

// NewMigrationRunner creates a runner and ensures the tracking table exists
func NewMigrationRunner(db *sql.DB, logger *zap.SugaredLogger) (*MigrationRunner, error) {
	runner := &MigrationRunner{
		db:         db,
		logger:     logger,
		migrations: make([]Migration, 0),
	}

	if err := runner.ensureMigrationsTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	return runner, nil
}

func (r *MigrationRunner) ensureMigrationsTable() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_schema_migrations_version ON schema_migrations(version);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Register adds a migration to the runner
func (r *MigrationRunner) Register(m Migration) {
	if m.Checksum == "" {
		m.Checksum = calculateChecksum(m)
	}
	r.migrations = append(r.migrations, m)
}

// calculateChecksum hashes version+name for drift detection. Up functions
// cannot be hashed, so the identity fields stand in for the content.
func calculateChecksum(m Migration) string {
	content := fmt.Sprintf("%s:%s", m.Version, m.Name)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:8])
}

// GetAppliedMigrations returns all migrations recorded as applied
func (r *MigrationRunner) GetAppliedMigrations() ([]MigrationRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, version, name, checksum, applied_at, duration_ms
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Name, &rec.Checksum, &rec.AppliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetPendingMigrations returns registered migrations not yet applied,
// sorted by version
func (r *MigrationRunner) GetPendingMigrations() ([]Migration, error) {
	applied, err := r.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]bool)
	for _, rec := range applied {
		appliedSet[rec.Version] = true
	}

	var pending []Migration
	for _, m := range r.migrations {
		if !appliedSet[m.Version] {
			pending = append(pending, m)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return compareVersions(pending[i].Version, pending[j].Version) < 0
	})

	return pending, nil
}

// RunMigrations applies all pending migrations in order
func (r *MigrationRunner) RunMigrations() error {
	pending, err := r.GetPendingMigrations()
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		r.logger.Debug("No pending migrations")
		return nil
	}

	r.logger.Infof("Running %d pending migrations", len(pending))

	for _, m := range pending {
		if err := r.runMigration(m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// runMigration applies a single migration within a transaction. Panics
// inside Up are converted to errors after rollback.
func (r *MigrationRunner) runMigration(m Migration) (err error) {
	r.logger.Infof("Running migration %s: %s", m.Version, m.Name)
	start := time.Now()

	var tx *sql.Tx
	tx, err = r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("migration panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("migration panicked: %v", p)
			}
		}
	}()

	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration Up() failed: %w", err)
	}

	duration := time.Since(start).Milliseconds()
	_, err = tx.Exec(`
		INSERT INTO schema_migrations (version, name, checksum, applied_at, duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, m.Version, m.Name, m.Checksum, time.Now().UTC(), duration)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	r.logger.Infof("Migration %s completed in %dms", m.Version, duration)
	return nil
}

// compareVersions compares dotted numeric versions: -1 if a < b, 0 if
// equal, 1 if a > b
func compareVersions(a, b string) int {
	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")

	maxLen := len(partsA)
	if len(partsB) > maxLen {
		maxLen = len(partsB)
	}

	for i := 0; i < maxLen; i++ {
		var numA, numB int
		if i < len(partsA) {
			fmt.Sscanf(partsA[i], "%d", &numA)
		}
		if i < len(partsB) {
			fmt.Sscanf(partsB[i], "%d", &numB)
		}

		if numA < numB {
			return -1
		}
		if numA > numB {
			return 1
		}
	}
	return 0
}

// RegisterSQLiteMigrations registers all SQLite schema migrations
func RegisterSQLiteMigrations(runner *MigrationRunner) {
	runner.Register(Migration{
		Version:     "1.0.0",
		Name:        "initial_schema",
		Description: "Create events, alerts, alert_false_positives, and allowlist_entries tables",
		Up: func(tx *sql.Tx) error {
			schema := `
			-- Normalized security events
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				timestamp DATETIME NOT NULL,
				actor TEXT,
				source_ip TEXT,
				user_agent TEXT,
				action TEXT NOT NULL,
				resource TEXT,
				outcome TEXT,
				request_id TEXT NOT NULL,
				raw_data TEXT, -- JSON object, original record as submitted
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
			CREATE INDEX IF NOT EXISTS idx_events_action ON events(action);
			CREATE INDEX IF NOT EXISTS idx_events_source_ip ON events(source_ip);

			-- Alerts produced by detection rules
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
				status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'triaged', 'closed', 'false_positive')),
				summary TEXT NOT NULL,
				evidence TEXT NOT NULL, -- JSON object
				alert_time DATETIME NOT NULL,
				window_start DATETIME,
				window_end DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule_id_alert_time ON alerts(rule_id, alert_time DESC);
			CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
			CREATE INDEX IF NOT EXISTS idx_alerts_alert_time ON alerts(alert_time DESC);

			-- False-positive reasons, one per alert, kept for rule tuning
			CREATE TABLE IF NOT EXISTS alert_false_positives (
				alert_id TEXT PRIMARY KEY REFERENCES alerts(id) ON DELETE CASCADE,
				reason TEXT NOT NULL,
				marked_by TEXT,
				marked_at DATETIME NOT NULL
			);

			-- Suppression entries for known-safe IPs and actors
			CREATE TABLE IF NOT EXISTS allowlist_entries (
				id TEXT PRIMARY KEY,
				entry_type TEXT NOT NULL CHECK (entry_type IN ('ip', 'actor')),
				entry_value TEXT NOT NULL,
				reason TEXT NOT NULL,
				rule_id TEXT,
				expires_at DATETIME,
				created_by TEXT,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_allowlist_entries_expires_at ON allowlist_entries(expires_at);
			CREATE INDEX IF NOT EXISTS idx_allowlist_entries_entry_type ON allowlist_entries(entry_type);
			`
			_, err := tx.Exec(schema)
			return err
		},
	})

	runner.Register(Migration{
		Version:     "1.1.0",
		Name:        "add_detection_query_indexes",
		Description: "Indexes for actor-grouped detection scans and severity filtering",
		Up: func(tx *sql.Tx) error {
			schema := `
			CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor);
			CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
			`
			_, err := tx.Exec(schema)
			return err
		},
	})
}
