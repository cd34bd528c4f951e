package webhook

import (
	"fmt"
	"time"
)

/* Delivery represents one webhook delivery to one subscription.
 * Created by event fan-out, owned by the delivery executor thereafter.
 * Terminal states absorb: a terminal delivery is never mutated again.
 */
type Delivery struct {
	ID             string
	SubscriptionID string
	TenantID       string
	EventID        string
	EventType      string
	Payload        []byte

	Status       DeliveryStatus
	HTTPStatus   int
	AttemptCount int
	MaxRetries   int
	NextRetryAt  time.Time
	Signature    string
	ErrorMessage string
	ErrorCode    string

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}

/* DeliveryStatus follows the lifecycle:
 * Pending -> Sending -> Delivered/Retrying/Failed/Expired
 * Retrying -> Sending (next attempt) or Cancelled (operator action)
 */
type DeliveryStatus int

const (
	DeliveryPending DeliveryStatus = iota + 1
	DeliverySending
	DeliveryDelivered
	DeliveryFailed
	DeliveryRetrying
	DeliveryCancelled
	DeliveryExpired
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryPending:
		return "pending"
	case DeliverySending:
		return "sending"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryFailed:
		return "failed"
	case DeliveryRetrying:
		return "retrying"
	case DeliveryCancelled:
		return "cancelled"
	case DeliveryExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// NewDeliveryStatus creates a DeliveryStatus from a string
func NewDeliveryStatus(str string) DeliveryStatus {
	switch str {
	case "pending":
		return DeliveryPending
	case "sending":
		return DeliverySending
	case "delivered":
		return DeliveryDelivered
	case "failed":
		return DeliveryFailed
	case "retrying":
		return DeliveryRetrying
	case "cancelled":
		return DeliveryCancelled
	case "expired":
		return DeliveryExpired
	default:
		return DeliveryPending
	}
}

// Validate checks if the status is valid
func (s DeliveryStatus) Validate() error {
	if s < DeliveryPending || s > DeliveryExpired {
		return fmt.Errorf("invalid delivery status: %d", s)
	}
	return nil
}

// IsTerminal returns true if the status is an absorbing state
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed || s == DeliveryCancelled || s == DeliveryExpired
}

// InFlight returns true while the delivery still has work outstanding:
// queued, waiting out a backoff, or claimed by an attempt. A sending
// record whose worker died stays in flight until the sweep expires it.
func (s DeliveryStatus) InFlight() bool {
	return s == DeliveryPending || s == DeliveryRetrying || s == DeliverySending
}

// Cancellable returns true if an operator may cancel a delivery in
// this status. An attempt already sending completes and its outcome
// is recorded; cancellation only prevents further retries.
func (s DeliveryStatus) Cancellable() bool {
	return s == DeliveryPending || s == DeliveryRetrying
}
