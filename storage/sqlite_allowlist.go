package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"argus/core"

	"github.com/google/uuid"
)

// SQLiteAllowlistStorage implements AllowlistStorageInterface for SQLite
type SQLiteAllowlistStorage struct {
	sqlite *SQLite
}

// NewSQLiteAllowlistStorage creates a new SQLite allowlist storage
func NewSQLiteAllowlistStorage(sqlite *SQLite) *SQLiteAllowlistStorage {
	return &SQLiteAllowlistStorage{sqlite: sqlite}
}

// InsertEntry persists a new allowlist entry, assigning an id and
// creation time when the caller left them unset
func (s *SQLiteAllowlistStorage) InsertEntry(ctx context.Context, entry *core.AllowlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := entry.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO allowlist_entries (
			id, entry_type, entry_value, reason, rule_id,
			expires_at, created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.sqlite.WriteDB.ExecContext(ctx, query,
		entry.ID,
		string(entry.EntryType),
		entry.EntryValue,
		entry.Reason,
		nullString(entry.RuleID),
		entry.ExpiresAt,
		nullString(entry.CreatedBy),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("failed to insert allowlist entry %s: %w", entry.ID, ErrConstraintViolation)
		}
		return fmt.Errorf("failed to insert allowlist entry: %w", err)
	}

	return nil
}

// DeleteEntry removes an allowlist entry permanently
func (s *SQLiteAllowlistStorage) DeleteEntry(ctx context.Context, id string) error {
	result, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM allowlist_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete allowlist entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAllowlistEntryNotFound
	}

	return nil
}

// ListEntries returns allowlist entries newest first. Expired entries
// are omitted unless includeExpired is set.
func (s *SQLiteAllowlistStorage) ListEntries(ctx context.Context, includeExpired bool) ([]core.AllowlistEntry, error) {
	if includeExpired {
		query := `
			SELECT id, entry_type, entry_value, reason, rule_id,
				   expires_at, created_by, created_at
			FROM allowlist_entries
			ORDER BY created_at DESC
		`
		return s.queryEntries(ctx, query)
	}
	return s.ActiveEntries(ctx, time.Now().UTC())
}

// ActiveEntries returns entries able to match at the given instant.
// Expiry is strict: an entry whose expires_at equals now no longer
// matches.
func (s *SQLiteAllowlistStorage) ActiveEntries(ctx context.Context, now time.Time) ([]core.AllowlistEntry, error) {
	query := `
		SELECT id, entry_type, entry_value, reason, rule_id,
			   expires_at, created_by, created_at
		FROM allowlist_entries
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY created_at DESC
	`
	return s.queryEntries(ctx, query, now.UTC())
}

func (s *SQLiteAllowlistStorage) queryEntries(ctx context.Context, query string, args ...interface{}) ([]core.AllowlistEntry, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allowlist entries: %w", err)
	}
	defer rows.Close()

	entries := []core.AllowlistEntry{}
	for rows.Next() {
		entry, err := scanAllowlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allowlist entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allowlist entries: %w", err)
	}

	return entries, nil
}

// scanAllowlistEntry scans a row into an AllowlistEntry
func scanAllowlistEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (*core.AllowlistEntry, error) {
	entry := &core.AllowlistEntry{}
	var ruleID, createdBy sql.NullString
	var expiresAt sql.NullTime

	err := scanner.Scan(
		&entry.ID,
		&entry.EntryType,
		&entry.EntryValue,
		&entry.Reason,
		&ruleID,
		&expiresAt,
		&createdBy,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.RuleID = ruleID.String
	entry.CreatedBy = createdBy.String
	entry.CreatedAt = entry.CreatedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		entry.ExpiresAt = &t
	}

	return entry, nil
}

var _ AllowlistStorageInterface = (*SQLiteAllowlistStorage)(nil)
var _ core.AllowlistSource = (*SQLiteAllowlistStorage)(nil)
