package storage

import "errors"

// Sentinel errors for storage operations. Callers can test these with
// errors.Is regardless of which backend produced them.
var (
	// ErrAlertNotFound is returned when an alert lookup or update
	// references an id that does not exist
	ErrAlertNotFound = errors.New("alert not found")

	// ErrEventNotFound is returned when an event lookup fails
	ErrEventNotFound = errors.New("event not found")

	// ErrAllowlistEntryNotFound is returned when an allowlist entry
	// lookup or delete references an id that does not exist
	ErrAllowlistEntryNotFound = errors.New("allowlist entry not found")

	// ErrFalsePositiveNotFound is returned when an alert has no recorded
	// false-positive reason
	ErrFalsePositiveNotFound = errors.New("false positive record not found")

	// ErrNotFound is a generic not-found error for storage operations
	ErrNotFound = errors.New("record not found")

	// ErrDatabaseClosed is returned when operations are attempted on a
	// closed database
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrConstraintViolation is returned on unique or check constraint
	// failures
	ErrConstraintViolation = errors.New("constraint violation")
)
