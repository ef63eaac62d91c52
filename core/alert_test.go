package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityIsValid(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, Severity("urgent").IsValid())
	assert.False(t, Severity("").IsValid())
	assert.False(t, Severity("HIGH").IsValid(), "severities are lowercase on the wire")
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Less(t, Severity("bogus").Rank(), SeverityLow.Rank())
}

func TestAlertStatusIsValid(t *testing.T) {
	for _, s := range []AlertStatus{AlertStatusOpen, AlertStatusTriaged, AlertStatusClosed, AlertStatusFalsePositive} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, AlertStatus("resolved").IsValid())
	assert.False(t, AlertStatus("").IsValid())
}

func TestDetectionCandidateToAlert(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	candidate := &DetectionCandidate{
		RuleID:      "brute_force",
		Severity:    SeverityHigh,
		Summary:     "6 failed logins for alice from 203.0.113.7",
		Evidence:    map[string]interface{}{"failure_count": 6},
		AlertTime:   now.Add(-time.Minute),
		WindowStart: now.Add(-10 * time.Minute),
		WindowEnd:   now,
	}

	alert := candidate.ToAlert(now)

	require.NotEmpty(t, alert.ID)
	assert.Equal(t, AlertStatusOpen, alert.Status, "promoted alerts always start open")
	assert.Equal(t, candidate.RuleID, alert.RuleID)
	assert.Equal(t, candidate.Severity, alert.Severity)
	assert.Equal(t, candidate.Summary, alert.Summary)
	assert.Equal(t, candidate.Evidence, alert.Evidence)
	assert.Equal(t, candidate.AlertTime, alert.AlertTime)
	assert.Equal(t, now, alert.CreatedAt)
	assert.Equal(t, now, alert.UpdatedAt)
	assert.Nil(t, alert.FalsePositive)

	// Each promotion mints a distinct alert.
	other := candidate.ToAlert(now)
	assert.NotEqual(t, alert.ID, other.ID)
}
