package core

import (
	"fmt"
	"time"
)

// AllowlistEntryType defines what an allowlist entry matches against
type AllowlistEntryType string

const (
	// AllowlistEntryIP matches a candidate's evidence source_ip
	AllowlistEntryIP AllowlistEntryType = "ip"
	// AllowlistEntryActor matches a candidate's evidence actor
	AllowlistEntryActor AllowlistEntryType = "actor"
)

// IsValid checks if the entry type is valid
func (t AllowlistEntryType) IsValid() bool {
	return t == AllowlistEntryIP || t == AllowlistEntryActor
}

// AllowlistEntry suppresses future alerts for a known-safe IP or actor,
// optionally scoped to a single rule and/or time-limited. Expiry is
// passive: entries stop matching strictly after expires_at, there is no
// background sweep.
type AllowlistEntry struct {
	ID         string             `json:"id"`
	EntryType  AllowlistEntryType `json:"entry_type"`
	EntryValue string             `json:"entry_value"`
	Reason     string             `json:"reason"`
	RuleID     string             `json:"rule_id,omitempty"` // Empty applies to all rules
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	CreatedBy  string             `json:"created_by,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// IsExpired checks if the entry has expired as of now
func (e *AllowlistEntry) IsExpired(now time.Time) bool {
	if e.ExpiresAt == nil {
		return false
	}
	return !e.ExpiresAt.After(now)
}

// IsActive checks if the entry is currently able to match
func (e *AllowlistEntry) IsActive(now time.Time) bool {
	return !e.IsExpired(now)
}

// AppliesTo checks whether the entry's rule scope covers ruleID
func (e *AllowlistEntry) AppliesTo(ruleID string) bool {
	return e.RuleID == "" || e.RuleID == ruleID
}

// Matches reports whether the entry suppresses the given candidate at the
// given instant. IP entries compare against the evidence source_ip, actor
// entries against the evidence actor; a candidate whose evidence lacks the
// relevant key can never match.
func (e *AllowlistEntry) Matches(c *DetectionCandidate, now time.Time) bool {
	if !e.IsActive(now) || !e.AppliesTo(c.RuleID) {
		return false
	}

	var key string
	switch e.EntryType {
	case AllowlistEntryIP:
		key = "source_ip"
	case AllowlistEntryActor:
		key = "actor"
	default:
		return false
	}

	value, ok := c.Evidence[key].(string)
	if !ok || value == "" {
		return false
	}
	return value == e.EntryValue
}

// Validate performs basic validation on the entry
func (e *AllowlistEntry) Validate() error {
	if !e.EntryType.IsValid() {
		return fmt.Errorf("invalid entry type: %s", e.EntryType)
	}
	if e.EntryValue == "" {
		return fmt.Errorf("entry value is required")
	}
	if e.Reason == "" {
		return fmt.Errorf("reason is required")
	}
	return nil
}
