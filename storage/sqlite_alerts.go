package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"argus/core"
)

// SQLiteAlertStorage implements AlertStorageInterface for SQLite
type SQLiteAlertStorage struct {
	sqlite *SQLite
}

// NewSQLiteAlertStorage creates a new SQLite alert storage
func NewSQLiteAlertStorage(sqlite *SQLite) *SQLiteAlertStorage {
	return &SQLiteAlertStorage{sqlite: sqlite}
}

// InsertAlert persists a new alert
func (s *SQLiteAlertStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	evidence := alert.Evidence
	if evidence == nil {
		evidence = map[string]interface{}{}
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	query := `
		INSERT INTO alerts (
			id, rule_id, severity, status, summary, evidence,
			alert_time, window_start, window_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.sqlite.WriteDB.ExecContext(ctx, query,
		alert.ID,
		alert.RuleID,
		string(alert.Severity),
		string(alert.Status),
		alert.Summary,
		string(evidenceJSON),
		alert.AlertTime.UTC(),
		nullTime(alert.WindowStart),
		nullTime(alert.WindowEnd),
		alert.CreatedAt.UTC(),
		alert.UpdatedAt.UTC(),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("failed to insert alert %s: %w", alert.ID, ErrConstraintViolation)
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// GetAlert retrieves a single alert by ID, with its false-positive
// record attached when one exists
func (s *SQLiteAlertStorage) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	query := `
		SELECT a.id, a.rule_id, a.severity, a.status, a.summary, a.evidence,
			   a.alert_time, a.window_start, a.window_end, a.created_at, a.updated_at,
			   fp.reason, fp.marked_by, fp.marked_at
		FROM alerts a
		LEFT JOIN alert_false_positives fp ON fp.alert_id = a.id
		WHERE a.id = ?
	`

	row := s.sqlite.ReadDB.QueryRowContext(ctx, query, id)

	alert := &core.Alert{}
	var evidenceJSON string
	var windowStart, windowEnd sql.NullTime
	var fpReason, fpMarkedBy sql.NullString
	var fpMarkedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.Severity,
		&alert.Status,
		&alert.Summary,
		&evidenceJSON,
		&alert.AlertTime,
		&windowStart,
		&windowEnd,
		&alert.CreatedAt,
		&alert.UpdatedAt,
		&fpReason,
		&fpMarkedBy,
		&fpMarkedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	if err := finishAlertScan(alert, evidenceJSON, windowStart, windowEnd); err != nil {
		return nil, err
	}

	if fpReason.Valid {
		alert.FalsePositive = &core.FalsePositiveRecord{
			AlertID:  alert.ID,
			Reason:   fpReason.String,
			MarkedBy: fpMarkedBy.String,
			MarkedAt: fpMarkedAt.Time.UTC(),
		}
	}

	return alert, nil
}

// ListAlerts retrieves alerts matching the filter, most recent
// alert_time first
func (s *SQLiteAlertStorage) ListAlerts(ctx context.Context, filter core.AlertFilter) ([]*core.Alert, error) {
	whereClauses := []string{"1=1"}
	args := []interface{}{}

	if filter.RuleID != "" {
		whereClauses = append(whereClauses, "rule_id = ?")
		args = append(args, filter.RuleID)
	}
	if filter.Status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		whereClauses = append(whereClauses, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.Since.IsZero() {
		whereClauses = append(whereClauses, "alert_time >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		whereClauses = append(whereClauses, "alert_time <= ?")
		args = append(args, filter.Until.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	// Prevent excessive offsets from turning into full table walks
	const maxOffset = 100000
	if offset > maxOffset {
		return nil, fmt.Errorf("pagination offset too large: %d (maximum %d records)", offset, maxOffset)
	}

	// #nosec G202 - whereClauses contains static SQL fragments; user inputs are parameterized in args
	query := `
		SELECT id, rule_id, severity, status, summary, evidence,
			   alert_time, window_start, window_end, created_at, updated_at
		FROM alerts
		WHERE ` + strings.Join(whereClauses, " AND ") + `
		ORDER BY alert_time DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*core.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// UpdateAlertStatus persists a status change. A non-nil fp records the
// false-positive reason alongside the transition; any transition to a
// status other than false_positive clears a previously recorded reason,
// keeping the record in lockstep with the status.
func (s *SQLiteAlertStorage) UpdateAlertStatus(ctx context.Context, id string, status core.AlertStatus, fp *core.FalsePositiveRecord) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid alert status: %s", status)
	}

	return s.sqlite.WithTransaction(func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update alert status: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrAlertNotFound
		}

		if fp != nil {
			markedAt := fp.MarkedAt
			if markedAt.IsZero() {
				markedAt = time.Now().UTC()
			}
			_, err = tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO alert_false_positives (alert_id, reason, marked_by, marked_at)
				VALUES (?, ?, ?, ?)
			`, id, fp.Reason, nullString(fp.MarkedBy), markedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to record false positive: %w", err)
			}
		}

		if status != core.AlertStatusFalsePositive {
			_, err = tx.ExecContext(ctx, `DELETE FROM alert_false_positives WHERE alert_id = ?`, id)
			if err != nil {
				return fmt.Errorf("failed to clear false positive record: %w", err)
			}
		}

		return nil
	})
}

// GetFalsePositive retrieves the recorded reason for a false-positive
// alert. Returns ErrFalsePositiveNotFound when no reason is on file.
func (s *SQLiteAlertStorage) GetFalsePositive(ctx context.Context, alertID string) (*core.FalsePositiveRecord, error) {
	query := `
		SELECT alert_id, reason, marked_by, marked_at
		FROM alert_false_positives
		WHERE alert_id = ?
	`

	fp := &core.FalsePositiveRecord{}
	var markedBy sql.NullString

	err := s.sqlite.ReadDB.QueryRowContext(ctx, query, alertID).Scan(
		&fp.AlertID,
		&fp.Reason,
		&markedBy,
		&fp.MarkedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrFalsePositiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get false positive record: %w", err)
	}

	fp.MarkedBy = markedBy.String
	fp.MarkedAt = fp.MarkedAt.UTC()
	return fp, nil
}

// LastAlertTime returns the most recent alert_time recorded for the
// rule regardless of alert status. Suppressed-as-duplicate candidates
// never reach storage, so every stored row counts toward the cooldown.
func (s *SQLiteAlertStorage) LastAlertTime(ctx context.Context, ruleID string) (time.Time, bool, error) {
	query := `
		SELECT alert_time FROM alerts
		WHERE rule_id = ?
		ORDER BY alert_time DESC
		LIMIT 1
	`

	var last time.Time
	err := s.sqlite.ReadDB.QueryRowContext(ctx, query, ruleID).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last alert time: %w", err)
	}

	return last.UTC(), true, nil
}

// CountAlertsSince returns how many alerts the rule has produced at or
// after the given instant
func (s *SQLiteAlertStorage) CountAlertsSince(ctx context.Context, ruleID string, since time.Time) (int64, error) {
	var count int64
	err := s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE rule_id = ? AND alert_time >= ?`,
		ruleID, since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// scanAlert scans a row into an Alert (without false-positive joins)
func scanAlert(scanner interface {
	Scan(dest ...interface{}) error
}) (*core.Alert, error) {
	alert := &core.Alert{}
	var evidenceJSON string
	var windowStart, windowEnd sql.NullTime

	err := scanner.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.Severity,
		&alert.Status,
		&alert.Summary,
		&evidenceJSON,
		&alert.AlertTime,
		&windowStart,
		&windowEnd,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := finishAlertScan(alert, evidenceJSON, windowStart, windowEnd); err != nil {
		return nil, err
	}

	return alert, nil
}

// finishAlertScan decodes evidence and normalizes timestamps after the
// raw column scan
func finishAlertScan(alert *core.Alert, evidenceJSON string, windowStart, windowEnd sql.NullTime) error {
	if evidenceJSON != "" {
		if err := json.Unmarshal([]byte(evidenceJSON), &alert.Evidence); err != nil {
			return fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}

	alert.AlertTime = alert.AlertTime.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if windowStart.Valid {
		alert.WindowStart = windowStart.Time.UTC()
	}
	if windowEnd.Valid {
		alert.WindowEnd = windowEnd.Time.UTC()
	}

	return nil
}

// nullTime maps the zero time to NULL for optional DATETIME columns
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// isConstraintError reports whether err is a SQLite constraint failure
// (UNIQUE, CHECK, FOREIGN KEY)
func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

var _ AlertStorageInterface = (*SQLiteAlertStorage)(nil)
var _ core.AlertStorageInterface = (*SQLiteAlertStorage)(nil)
