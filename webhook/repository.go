package webhook

import (
	"context"
	"fmt"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// SubscriptionStore provides persistence for webhook subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub Subscription) error
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string) ([]Subscription, error)
	ListAllSubscriptions(ctx context.Context) ([]Subscription, error)
	/* RecordOutcome atomically folds one delivery outcome into the
	 * subscription's aggregate counters. Increments must not be lost
	 * under concurrent workers.
	 */
	RecordOutcome(ctx context.Context, id string, success bool, at time.Time) error
	SetHealthy(ctx context.Context, id string, healthy bool) error
	SetActive(ctx context.Context, id string, active bool) error
}

// EventStore provides persistence for webhook events.
type EventStore interface {
	CreateEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	/* UpdateEventStatus transitions an event; lastError records the
	 * fan-out failure cause when the status is EventFailed.
	 */
	UpdateEventStatus(ctx context.Context, id string, status EventStatus, lastError string) error
	/* PurgeEvents deletes processed events older than the cutoff and
	 * returns how many were removed.
	 */
	PurgeEvents(ctx context.Context, olderThan time.Time) (int, error)
}

// DeliveryStore provides persistence for delivery records.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, d Delivery) error
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	UpdateDelivery(ctx context.Context, d Delivery) error
	ListDeliveriesByEvent(ctx context.Context, eventID string) ([]Delivery, error)
	ListDeliveriesBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Delivery, error)
	/* ListStale returns in-flight (pending/retrying/sending) deliveries
	 * created before the cutoff, for the expiry sweep. Sending is
	 * included so an attempt whose worker crashed after claiming it is
	 * eventually expired instead of stranded.
	 */
	ListStale(ctx context.Context, olderThan time.Time) ([]Delivery, error)
	/* PurgeDeliveries deletes terminal deliveries older than the cutoff
	 * and returns how many were removed.
	 */
	PurgeDeliveries(ctx context.Context, olderThan time.Time) (int, error)
	// CountDeliveriesByStatus returns the number of delivery records
	// per status name, for metrics.
	CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error)
}

// JobKind identifies the kind of work item in the queue. Each kind has
// its own concurrency limit in the worker pool.
type JobKind int

const (
	JobDelivery JobKind = iota + 1
	JobEvent
	JobHealthCheck
	JobCleanup
)

// String returns the string representation of the kind
func (k JobKind) String() string {
	switch k {
	case JobDelivery:
		return "delivery"
	case JobEvent:
		return "event"
	case JobHealthCheck:
		return "healthcheck"
	case JobCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Validate checks if the kind is valid
func (k JobKind) Validate() error {
	if k < JobDelivery || k > JobCleanup {
		return fmt.Errorf("invalid job kind: %d", k)
	}
	return nil
}

// Job is one unit of work: deliver a delivery record, fan out an event,
// re-check subscription health, or run the cleanup sweep.
type Job struct {
	Kind  JobKind
	RefID string
	// ReadyAt is when the job becomes visible to workers. Delayed
	// visibility is the queue's native retry mechanism, so scheduled
	// retries survive process restarts.
	ReadyAt time.Time
}

// Queue is a durable job queue with delayed visibility. Dequeue claims:
// exactly one worker receives a given job, which is the only
// coordination the scheduler relies on.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	/* Dequeue removes and returns up to max jobs of the kind whose
	 * ReadyAt has passed. An empty result is a normal outcome.
	 */
	Dequeue(ctx context.Context, kind JobKind, max int) ([]Job, error)
	/* Depth returns the number of jobs of the kind currently queued,
	 * ready or not.
	 */
	Depth(ctx context.Context, kind JobKind) (int64, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	SubscriptionStore
	EventStore
	DeliveryStore
	Queue
	Close(ctx context.Context) error
}
