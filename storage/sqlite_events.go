package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
)

// SQLiteEventStorage implements EventStorageInterface for SQLite
type SQLiteEventStorage struct {
	sqlite *SQLite
}

// NewSQLiteEventStorage creates a new SQLite event storage
func NewSQLiteEventStorage(sqlite *SQLite) *SQLiteEventStorage {
	return &SQLiteEventStorage{sqlite: sqlite}
}

// InsertEvents persists a batch of events atomically. The whole batch is
// rolled back if any single insert fails.
func (s *SQLiteEventStorage) InsertEvents(ctx context.Context, events []*core.Event) error {
	if len(events) == 0 {
		return nil
	}

	return s.sqlite.WithTransaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO events (
				id, timestamp, actor, source_ip, user_agent, action,
				resource, outcome, request_id, raw_data, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, event := range events {
			rawJSON, err := marshalRawData(event.RawData)
			if err != nil {
				return fmt.Errorf("failed to marshal raw data for event %s: %w", event.ID, err)
			}

			_, err = stmt.ExecContext(ctx,
				event.ID,
				event.Timestamp.UTC(),
				nullString(event.Actor),
				nullString(event.SourceIP),
				nullString(event.UserAgent),
				event.Action,
				nullString(event.Resource),
				nullString(event.Outcome),
				event.RequestID,
				rawJSON,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
			}
		}

		return nil
	})
}

// EventsInWindow returns events with from <= timestamp <= to, ascending
// by timestamp. Both bounds are inclusive.
func (s *SQLiteEventStorage) EventsInWindow(ctx context.Context, from, to time.Time) ([]*core.Event, error) {
	query := `
		SELECT id, timestamp, actor, source_ip, user_agent, action,
			   resource, outcome, request_id, raw_data
		FROM events
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []*core.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CountEvents returns the total number of stored events
func (s *SQLiteEventStorage) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := s.sqlite.ReadDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// scanEvent scans a row into an Event
func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*core.Event, error) {
	event := &core.Event{}
	var actor, sourceIP, userAgent, resource, outcome sql.NullString
	var rawJSON sql.NullString

	err := scanner.Scan(
		&event.ID,
		&event.Timestamp,
		&actor,
		&sourceIP,
		&userAgent,
		&event.Action,
		&resource,
		&outcome,
		&event.RequestID,
		&rawJSON,
	)
	if err != nil {
		return nil, err
	}

	event.Timestamp = event.Timestamp.UTC()
	event.Actor = actor.String
	event.SourceIP = sourceIP.String
	event.UserAgent = userAgent.String
	event.Resource = resource.String
	event.Outcome = outcome.String

	if rawJSON.Valid && rawJSON.String != "" {
		if err := json.Unmarshal([]byte(rawJSON.String), &event.RawData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw data: %w", err)
		}
	}

	return event, nil
}

// marshalRawData encodes the original record, mapping an absent record
// to NULL rather than the JSON literal "null"
func marshalRawData(raw map[string]interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// nullString maps the empty string to NULL so optional columns stay
// queryable with IS NULL
func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

var _ EventStorageInterface = (*SQLiteEventStorage)(nil)
