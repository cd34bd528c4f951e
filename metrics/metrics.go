package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery engine.
type Metrics struct {
	// QueueDepths maps job kind to the number of queued jobs,
	// including jobs whose ready time has not passed yet
	QueueDepths map[string]int64 `json:"queue_depths"`

	// DeliveryStatusCounts maps delivery status name to the number of
	// delivery records in that status
	DeliveryStatusCounts map[string]int64 `json:"delivery_status_counts"`

	// Subscriptions aggregates subscription state and lifetime counters
	Subscriptions SubscriptionMetrics `json:"subscriptions"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionMetrics aggregates subscription state across tenants.
type SubscriptionMetrics struct {
	// Total is the number of registered subscriptions
	Total int64 `json:"total"`

	// Active is the number of subscriptions still receiving deliveries
	Active int64 `json:"active"`

	// Healthy is the number of subscriptions whose health flag is set
	Healthy int64 `json:"healthy"`

	// SuccessfulDeliveries sums lifetime successful deliveries
	SuccessfulDeliveries int64 `json:"successful_deliveries"`

	// FailedDeliveries sums lifetime failed deliveries
	FailedDeliveries int64 `json:"failed_deliveries"`
}

// Collector defines the interface for collecting metrics from the engine.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueDepths returns the number of queued jobs per kind
	GetQueueDepths(ctx context.Context) (map[string]int64, error)

	// GetDeliveryStatusCounts returns the count of deliveries by status
	GetDeliveryStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetSubscriptionMetrics returns aggregated subscription state
	GetSubscriptionMetrics(ctx context.Context) (SubscriptionMetrics, error)
}
