package core

// AlertStatus represents the triage status of an alert
type AlertStatus string

const (
	// AlertStatusOpen indicates a newly generated alert awaiting triage
	AlertStatusOpen AlertStatus = "open"
	// AlertStatusTriaged indicates an alert that has been reviewed and is being worked
	AlertStatusTriaged AlertStatus = "triaged"
	// AlertStatusClosed indicates an alert whose investigation is complete
	AlertStatusClosed AlertStatus = "closed"
	// AlertStatusFalsePositive indicates an alert dismissed as a false positive
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusTriaged, AlertStatusClosed, AlertStatusFalsePositive:
		return true
	default:
		return false
	}
}

// Severity represents how urgent an alert is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns a numeric rank for sorting, higher is more severe.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Normalized outcome buckets produced by the ingest pipeline
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
	OutcomeUnknown = "unknown"
)
