package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/commercekit/eventrelay/webhook"
)

// StoreCollector implements the Collector interface over the webhook
// repository, so the same collector serves the in-memory and Redis
// backends.
type StoreCollector struct {
	repo webhook.Repository
}

// NewStoreCollector creates a repository-backed metrics collector.
func NewStoreCollector(repo webhook.Repository) *StoreCollector {
	return &StoreCollector{
		repo: repo,
	}
}

// Collect gathers all metrics from the repository.
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	queueDepths, err := c.GetQueueDepths(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting queue depths: %w", err)
	}

	statusCounts, err := c.GetDeliveryStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting delivery status counts: %w", err)
	}

	subscriptions, err := c.GetSubscriptionMetrics(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting subscription metrics: %w", err)
	}

	return Metrics{
		QueueDepths:          queueDepths,
		DeliveryStatusCounts: statusCounts,
		Subscriptions:        subscriptions,
		Timestamp:            time.Now(),
	}, nil
}

// GetQueueDepths returns the number of queued jobs per kind.
func (c *StoreCollector) GetQueueDepths(ctx context.Context) (map[string]int64, error) {
	kinds := []webhook.JobKind{
		webhook.JobDelivery,
		webhook.JobEvent,
		webhook.JobHealthCheck,
		webhook.JobCleanup,
	}

	depths := make(map[string]int64, len(kinds))
	for _, kind := range kinds {
		depth, err := c.repo.Depth(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("reading %s queue depth: %w", kind, err)
		}
		depths[kind.String()] = depth
	}
	return depths, nil
}

// GetDeliveryStatusCounts returns the count of deliveries by status.
func (c *StoreCollector) GetDeliveryStatusCounts(ctx context.Context) (map[string]int64, error) {
	return c.repo.CountDeliveriesByStatus(ctx)
}

// GetSubscriptionMetrics returns aggregated subscription state.
func (c *StoreCollector) GetSubscriptionMetrics(ctx context.Context) (SubscriptionMetrics, error) {
	subs, err := c.repo.ListAllSubscriptions(ctx)
	if err != nil {
		return SubscriptionMetrics{}, fmt.Errorf("listing subscriptions: %w", err)
	}

	var m SubscriptionMetrics
	for _, sub := range subs {
		m.Total++
		if sub.IsActive {
			m.Active++
		}
		if sub.IsHealthy {
			m.Healthy++
		}
		m.SuccessfulDeliveries += sub.SuccessfulDeliveries
		m.FailedDeliveries += sub.FailedDeliveries
	}
	return m, nil
}
