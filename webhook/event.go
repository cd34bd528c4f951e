package webhook

import (
	"fmt"
	"time"
)

/* Event represents a domain event accepted for webhook fan-out.
 * The payload is immutable once created; only the status transitions.
 */
type Event struct {
	ID        string
	TenantID  string
	EventType string
	Version   string
	Source    string
	Data      []byte
	Status    EventStatus
	LastError string

	CreatedAt   time.Time
	ProcessedAt time.Time
}

/* EventStatus follows the lifecycle:
 * Pending -> Processing -> Processed/Failed, with Cancelled by operator action.
 * An event is processed at most once; only its deliveries are retried.
 */
type EventStatus int

const (
	EventPending EventStatus = iota + 1
	EventProcessing
	EventProcessed
	EventFailed
	EventCancelled
)

// String returns the string representation of the status
func (s EventStatus) String() string {
	switch s {
	case EventPending:
		return "pending"
	case EventProcessing:
		return "processing"
	case EventProcessed:
		return "processed"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// NewEventStatus creates an EventStatus from a string
func NewEventStatus(str string) EventStatus {
	switch str {
	case "pending":
		return EventPending
	case "processing":
		return EventProcessing
	case "processed":
		return EventProcessed
	case "failed":
		return EventFailed
	case "cancelled":
		return EventCancelled
	default:
		return EventPending
	}
}

// Validate checks if the status is valid
func (s EventStatus) Validate() error {
	if s < EventPending || s > EventCancelled {
		return fmt.Errorf("invalid event status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s EventStatus) IsFinal() bool {
	return s == EventProcessed || s == EventFailed || s == EventCancelled
}
