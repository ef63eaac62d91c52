package storage

import (
	"context"
	"time"

	"argus/core"
)

// EventStorageInterface defines the interface for event persistence
type EventStorageInterface interface {
	// InsertEvents persists a batch atomically. Either every event in the
	// batch is stored or none are.
	InsertEvents(ctx context.Context, events []*core.Event) error
	// EventsInWindow returns events with from <= timestamp <= to, sorted
	// ascending by timestamp.
	EventsInWindow(ctx context.Context, from, to time.Time) ([]*core.Event, error)
	CountEvents(ctx context.Context) (int64, error)
}

// AlertStorageInterface defines the interface for alert persistence.
// It is a superset of core.AlertStorageInterface so implementations can
// be handed directly to the alert pipeline.
type AlertStorageInterface interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	// GetAlert returns the alert with its false-positive record attached
	// when one exists. Returns ErrAlertNotFound for unknown ids.
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	// ListAlerts returns alerts matching the filter, most recent
	// alert_time first.
	ListAlerts(ctx context.Context, filter core.AlertFilter) ([]*core.Alert, error)
	// UpdateAlertStatus persists a status change. A non-nil fp records
	// the false-positive reason; moving to any status other than
	// false_positive clears a previously recorded reason.
	UpdateAlertStatus(ctx context.Context, id string, status core.AlertStatus, fp *core.FalsePositiveRecord) error
	GetFalsePositive(ctx context.Context, alertID string) (*core.FalsePositiveRecord, error)
	// LastAlertTime returns the most recent alert_time for the rule
	// regardless of alert status. found is false when the rule has never
	// alerted.
	LastAlertTime(ctx context.Context, ruleID string) (last time.Time, found bool, err error)
	CountAlertsSince(ctx context.Context, ruleID string, since time.Time) (int64, error)
}

// AllowlistStorageInterface defines the interface for allowlist persistence
type AllowlistStorageInterface interface {
	InsertEntry(ctx context.Context, entry *core.AllowlistEntry) error
	// DeleteEntry removes an entry permanently. Returns
	// ErrAllowlistEntryNotFound for unknown ids.
	DeleteEntry(ctx context.Context, id string) error
	// ListEntries returns entries newest first. Expired entries are
	// omitted unless includeExpired is set.
	ListEntries(ctx context.Context, includeExpired bool) ([]core.AllowlistEntry, error)
	// ActiveEntries returns entries able to match at the given instant,
	// satisfying core.AllowlistSource.
	ActiveEntries(ctx context.Context, now time.Time) ([]core.AllowlistEntry, error)
}

// Store bundles the backend implementations behind a single handle.
// Events may live in a different backend than alerts and allowlist
// entries (ClickHouse firehose with SQLite alert state, for example).
type Store struct {
	Events    EventStorageInterface
	Alerts    AlertStorageInterface
	Allowlist AllowlistStorageInterface

	closers []func() error
}

// NewStore creates a store handle. Closers run in reverse order on Close.
func NewStore(events EventStorageInterface, alerts AlertStorageInterface, allowlist AllowlistStorageInterface, closers ...func() error) *Store {
	return &Store{
		Events:    events,
		Alerts:    alerts,
		Allowlist: allowlist,
		closers:   closers,
	}
}

// Close releases all underlying backends. The first error is returned;
// remaining closers still run.
func (s *Store) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
