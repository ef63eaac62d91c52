package core

import (
	"errors"
	"fmt"
)

// validTransitions defines allowed state transitions for alerts.
// Reopening is allowed from every non-open state; everything else is a
// one-way funnel toward closed/false_positive.
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:          {AlertStatusTriaged, AlertStatusClosed, AlertStatusFalsePositive},
	AlertStatusTriaged:       {AlertStatusOpen, AlertStatusClosed, AlertStatusFalsePositive},
	AlertStatusClosed:        {AlertStatusOpen},
	AlertStatusFalsePositive: {AlertStatusOpen},
}

// TransitionTo validates and executes an alert state transition.
// Returns an *InvalidTransitionError if the transition is not allowed;
// the alert is left unchanged in that case.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if newStatus == "" {
		return errors.New("new status cannot be empty")
	}

	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}

	allowedTransitions, exists := validTransitions[a.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", a.Status)
	}

	allowed := false
	for _, status := range allowedTransitions {
		if status == newStatus {
			allowed = true
			break
		}
	}

	if !allowed {
		return &InvalidTransitionError{From: a.Status, To: newStatus}
	}

	a.Status = newStatus
	return nil
}

// CanTransitionTo checks if a transition is allowed without executing it
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	if !newStatus.IsValid() {
		return false
	}

	allowedTransitions, exists := validTransitions[a.Status]
	if !exists {
		return false
	}

	for _, status := range allowedTransitions {
		if status == newStatus {
			return true
		}
	}

	return false
}

// GetAllowedTransitions returns all valid transitions from the current state
func (a *Alert) GetAllowedTransitions() []AlertStatus {
	allowedTransitions, exists := validTransitions[a.Status]
	if !exists {
		return []AlertStatus{}
	}

	// Return a copy to prevent external modification
	result := make([]AlertStatus, len(allowedTransitions))
	copy(result, allowedTransitions)
	return result
}

// IsResolved reports whether the alert has reached a resolution state.
// Resolved alerts can still be reopened.
func (a *Alert) IsResolved() bool {
	return a.Status == AlertStatusClosed || a.Status == AlertStatusFalsePositive
}
