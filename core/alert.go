package core

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a persisted, actionable finding produced by a detection rule.
// Status changes go through TransitionTo; everything else is immutable
// after creation.
type Alert struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"rule_id"`
	Severity    Severity               `json:"severity"`
	Status      AlertStatus            `json:"status"`
	Summary     string                 `json:"summary"`
	Evidence    map[string]interface{} `json:"evidence"`
	AlertTime   time.Time              `json:"alert_time"`
	WindowStart time.Time              `json:"window_start,omitempty"`
	WindowEnd   time.Time              `json:"window_end,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`

	// FalsePositive is populated iff Status is false_positive.
	FalsePositive *FalsePositiveRecord `json:"false_positive,omitempty"`
}

// FalsePositiveRecord captures why an alert was dismissed, for rule tuning
type FalsePositiveRecord struct {
	AlertID  string    `json:"alert_id"`
	Reason   string    `json:"reason"`
	MarkedBy string    `json:"marked_by,omitempty"`
	MarkedAt time.Time `json:"marked_at"`
}

// DetectionCandidate is the raw output of one rule evaluation. Candidates
// that survive allowlist and dedup filtering are promoted to Alerts.
type DetectionCandidate struct {
	RuleID      string
	Severity    Severity
	Summary     string
	Evidence    map[string]interface{}
	AlertTime   time.Time
	WindowStart time.Time
	WindowEnd   time.Time
}

// ToAlert promotes a candidate to an open Alert with a fresh ID
func (c *DetectionCandidate) ToAlert(now time.Time) *Alert {
	return &Alert{
		ID:          uuid.New().String(),
		RuleID:      c.RuleID,
		Severity:    c.Severity,
		Status:      AlertStatusOpen,
		Summary:     c.Summary,
		Evidence:    c.Evidence,
		AlertTime:   c.AlertTime,
		WindowStart: c.WindowStart,
		WindowEnd:   c.WindowEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AlertFilter narrows ListAlerts results. Zero values mean "no filter".
type AlertFilter struct {
	RuleID   string
	Status   AlertStatus
	Severity Severity
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}
