package worker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commercekit/eventrelay/webhook"
	"github.com/commercekit/eventrelay/webhook/inmem"
	"github.com/commercekit/eventrelay/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesReadyJobs(t *testing.T) {
	repo := inmem.NewRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled sync.Map
	var count atomic.Int64
	pool := worker.NewPool(webhook.JobDelivery, repo, 3, func(ctx context.Context, job webhook.Job) error {
		handled.Store(job.RefID, true)
		count.Add(1)
		return nil
	}, worker.WithPollInterval(10*time.Millisecond))

	for _, id := range []string{"del-1", "del-2", "del-3"} {
		require.NoError(t, repo.Enqueue(ctx, webhook.Job{
			Kind:    webhook.JobDelivery,
			RefID:   id,
			ReadyAt: time.Now(),
		}))
	}

	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return count.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	for _, id := range []string{"del-1", "del-2", "del-3"} {
		_, ok := handled.Load(id)
		assert.True(t, ok, "job %s not handled", id)
	}
}

func TestPoolHonorsDelayedVisibility(t *testing.T) {
	repo := inmem.NewRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int64
	pool := worker.NewPool(webhook.JobDelivery, repo, 1, func(ctx context.Context, job webhook.Job) error {
		count.Add(1)
		return nil
	}, worker.WithPollInterval(10*time.Millisecond))

	require.NoError(t, repo.Enqueue(ctx, webhook.Job{
		Kind:    webhook.JobDelivery,
		RefID:   "del-later",
		ReadyAt: time.Now().Add(150 * time.Millisecond),
	}))

	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	// Invisible before its ready time
	time.Sleep(75 * time.Millisecond)
	assert.EqualValues(t, 0, count.Load())

	require.Eventually(t, func() bool {
		return count.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPoolIgnoresOtherKinds(t *testing.T) {
	repo := inmem.NewRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int64
	pool := worker.NewPool(webhook.JobCleanup, repo, 1, func(ctx context.Context, job webhook.Job) error {
		count.Add(1)
		return nil
	}, worker.WithPollInterval(10*time.Millisecond))

	require.NoError(t, repo.Enqueue(ctx, webhook.Job{
		Kind:    webhook.JobDelivery,
		RefID:   "del-1",
		ReadyAt: time.Now(),
	}))

	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, count.Load())

	depth, err := repo.Depth(ctx, webhook.JobDelivery)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)

	cancel()
	<-done
}

// End to end through the background side: a created event is fanned
// out by the event pool and delivered by the delivery pool.
func TestRunnerDeliversCreatedEvents(t *testing.T) {
	repo := inmem.NewRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	deliverer := webhook.NewDeliverer(repo)
	service := webhook.NewService(repo, deliverer)

	sub, err := service.RegisterSubscription(ctx, webhook.RegisterSubscriptionInput{
		TenantID:   "tenant-1",
		URL:        server.URL,
		EventTypes: []string{"order.*"},
	})
	require.NoError(t, err)

	runner := worker.NewRunner(service, deliverer, repo,
		worker.WithPoolOptions(worker.WithPollInterval(10*time.Millisecond)),
	)

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	event, err := service.CreateEvent(ctx, webhook.CreateEventInput{
		TenantID:  "tenant-1",
		EventType: "order.paid",
		Data:      json.RawMessage(`{"amount":1250}`),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		deliveries, err := service.ListDeliveriesByEvent(ctx, event.ID)
		if err != nil || len(deliveries) != 1 {
			return false
		}
		return deliveries[0].Status == webhook.DeliveryDelivered
	}, 5*time.Second, 20*time.Millisecond)

	deliveries, err := service.ListDeliveriesByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, sub.ID, deliveries[0].SubscriptionID)
	assert.EqualValues(t, 1, hits.Load())

	cancel()
	<-done
}
