package core

import (
	"time"

	"github.com/google/uuid"
)

// Event is the canonical schema every ingested record is normalized into.
// Optional fields use the empty string when the source record carried
// nothing usable for them.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	SourceIP  string    `json:"source_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	RequestID string    `json:"request_id"`
	// RawData preserves the original record as submitted, with timestamps
	// rendered as RFC 3339 strings.
	RawData map[string]interface{} `json:"raw_data,omitempty"`
}

// NewEvent creates an Event with a generated UUID and current UTC timestamp
func NewEvent() *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}
