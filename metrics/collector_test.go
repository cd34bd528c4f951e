package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/commercekit/eventrelay/metrics"
	"github.com/commercekit/eventrelay/webhook"
	"github.com/commercekit/eventrelay/webhook/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCollector(t *testing.T) {
	ctx := context.Background()
	repo := inmem.NewRepository()
	collector := metrics.NewStoreCollector(repo)

	now := time.Now()

	subs := []webhook.Subscription{
		{ID: "sub-1", TenantID: "t1", URL: "https://a.example.com", Secret: "whsec_secret_0123456789", IsActive: true, IsHealthy: true, SuccessfulDeliveries: 10, FailedDeliveries: 2, CreatedAt: now},
		{ID: "sub-2", TenantID: "t1", URL: "https://b.example.com", Secret: "whsec_secret_0123456789", IsActive: true, IsHealthy: false, SuccessfulDeliveries: 3, FailedDeliveries: 7, CreatedAt: now},
		{ID: "sub-3", TenantID: "t2", URL: "https://c.example.com", Secret: "whsec_secret_0123456789", IsActive: false, IsHealthy: true, CreatedAt: now},
	}
	for _, sub := range subs {
		require.NoError(t, repo.CreateSubscription(ctx, sub))
	}

	deliveries := []webhook.Delivery{
		{ID: "del-1", SubscriptionID: "sub-1", EventID: "evt-1", Status: webhook.DeliveryDelivered, CreatedAt: now},
		{ID: "del-2", SubscriptionID: "sub-1", EventID: "evt-1", Status: webhook.DeliveryDelivered, CreatedAt: now},
		{ID: "del-3", SubscriptionID: "sub-2", EventID: "evt-1", Status: webhook.DeliveryRetrying, CreatedAt: now},
		{ID: "del-4", SubscriptionID: "sub-2", EventID: "evt-2", Status: webhook.DeliveryFailed, CreatedAt: now},
	}
	for _, d := range deliveries {
		require.NoError(t, repo.CreateDelivery(ctx, d))
	}

	require.NoError(t, repo.Enqueue(ctx, webhook.Job{Kind: webhook.JobDelivery, RefID: "del-3", ReadyAt: now.Add(time.Minute)}))
	require.NoError(t, repo.Enqueue(ctx, webhook.Job{Kind: webhook.JobEvent, RefID: "evt-3", ReadyAt: now}))

	m, err := collector.Collect(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 1, m.QueueDepths["delivery"])
	assert.EqualValues(t, 1, m.QueueDepths["event"])
	assert.EqualValues(t, 0, m.QueueDepths["cleanup"])

	assert.EqualValues(t, 2, m.DeliveryStatusCounts["delivered"])
	assert.EqualValues(t, 1, m.DeliveryStatusCounts["retrying"])
	assert.EqualValues(t, 1, m.DeliveryStatusCounts["failed"])

	assert.EqualValues(t, 3, m.Subscriptions.Total)
	assert.EqualValues(t, 2, m.Subscriptions.Active)
	assert.EqualValues(t, 2, m.Subscriptions.Healthy)
	assert.EqualValues(t, 13, m.Subscriptions.SuccessfulDeliveries)
	assert.EqualValues(t, 9, m.Subscriptions.FailedDeliveries)
	assert.False(t, m.Timestamp.IsZero())
}
