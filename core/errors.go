package core

import (
	"errors"
	"fmt"
)

// ValidationError reports a single malformed item in an ingest batch.
// It never aborts the containing batch; sibling items are processed
// independently.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}

// StorageError wraps a backend failure. For batch ingestion it means the
// whole batch was rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// RuleExecutionError marks a detection rule failure. The engine isolates
// it: the rule is logged and skipped, the run continues.
type RuleExecutionError struct {
	RuleID string
	Err    error
}

func (e *RuleExecutionError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleExecutionError) Unwrap() error {
	return e.Err
}

// NotFoundError indicates an operation referenced an unknown resource id
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// InvalidTransitionError indicates an alert status change that violates
// the state machine. The alert is left unchanged.
type InvalidTransitionError struct {
	From AlertStatus
	To   AlertStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidTransition reports whether err is (or wraps) an InvalidTransitionError
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
