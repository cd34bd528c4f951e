package payload

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Envelope is the JSON body POSTed to subscriber endpoints.
type Envelope struct {
	// EventID identifies the source event; subscribers use it for
	// idempotent consumption across redeliveries
	EventID string `json:"eventId"`

	// EventType is a full-stop delimited type associated with the event
	// Examples: "order.paid", "product.updated", "settlement.completed"
	EventType string `json:"eventType"`

	// EventVersion is the schema version of the event payload
	EventVersion string `json:"eventVersion"`

	// Data is the actual event data associated with the event
	Data json.RawMessage `json:"data"`

	// Timestamp is when the event occurred, ISO 8601 formatted
	Timestamp time.Time `json:"timestamp"`
}

// Validate validates the envelope structure
func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("eventId is required")
	}

	if e.EventType == "" {
		return fmt.Errorf("eventType is required")
	}

	if !eventTypePattern.MatchString(e.EventType) {
		return fmt.Errorf("eventType must be hierarchical and contain only [a-zA-Z0-9_.]: %s", e.EventType)
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}

	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}

	return nil
}

// MarshalJSON returns the JSON encoding of the envelope
func (e Envelope) MarshalJSON() ([]byte, error) {
	type Alias Envelope
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Alias:     (*Alias)(&e),
	})
}

// UnmarshalJSON parses the JSON-encoded data and stores the result
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type Alias Envelope
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshaling envelope: %w", err)
	}

	// Parse timestamp
	timestamp, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		// Try RFC3339 without nano precision
		timestamp, err = time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parsing timestamp: %w", err)
		}
	}
	e.Timestamp = timestamp

	return nil
}

// New creates an Envelope with the given identity and data
func New(eventID, eventType, eventVersion string, data []byte, occurredAt time.Time) (Envelope, error) {
	envelope := Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: eventVersion,
		Data:         data,
		Timestamp:    occurredAt.UTC(),
	}

	if err := envelope.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return envelope, nil
}

// Parse parses a JSON body into an Envelope
func Parse(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	if err := envelope.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating envelope: %w", err)
	}

	return envelope, nil
}

// Bytes returns the JSON-encoded envelope as bytes
// The returned bytes are minified (no extra whitespace)
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// MatchesAny checks if the event type matches any of the given patterns
// Supports exact matching and prefix matching (e.g., "order.*" matches "order.paid")
func MatchesAny(eventType string, patterns []string) bool {
	if len(patterns) == 0 {
		// No filter means accept all
		return true
	}

	for _, pattern := range patterns {
		// Exact match
		if eventType == pattern {
			return true
		}

		// Prefix match (e.g., "order.*" matches "order.paid", "order.shipped")
		if len(pattern) > 2 && pattern[len(pattern)-2:] == ".*" {
			prefix := pattern[:len(pattern)-2]
			if len(eventType) > len(prefix) && eventType[:len(prefix)] == prefix && eventType[len(prefix)] == '.' {
				return true
			}
		}
	}

	return false
}

// ValidateEventType validates an event type format
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	// Allow wildcard suffix for subscription filters
	if len(eventType) > 2 && eventType[len(eventType)-2:] == ".*" {
		eventType = eventType[:len(eventType)-2]
	}

	if !eventTypePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}
