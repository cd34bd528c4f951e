package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/commercekit/eventrelay/webhook"
)

/* Runner owns the full background side of the engine: one pool per
 * job kind plus the tickers that feed the health-check and cleanup
 * queues. The API process and the worker process share nothing but
 * the repository; a runner can live in either, or in its own binary.
 */

// Default per-kind concurrency. Delivery dominates the workload and
// gets the widest pool; cleanup is strictly serial so sweeps never
// race each other.
const (
	DefaultDeliveryConcurrency    = 5
	DefaultEventConcurrency       = 3
	DefaultHealthCheckConcurrency = 2
	DefaultCleanupConcurrency     = 1

	DefaultHealthCheckInterval = 30 * time.Second
	DefaultCleanupInterval     = 5 * time.Minute
)

// Concurrency holds the per-kind pool sizes.
type Concurrency struct {
	Delivery    int
	Event       int
	HealthCheck int
	Cleanup     int
}

// DefaultConcurrency returns the default pool sizes.
func DefaultConcurrency() Concurrency {
	return Concurrency{
		Delivery:    DefaultDeliveryConcurrency,
		Event:       DefaultEventConcurrency,
		HealthCheck: DefaultHealthCheckConcurrency,
		Cleanup:     DefaultCleanupConcurrency,
	}
}

// RunnerOption is a functional option for configuring the runner.
type RunnerOption func(*Runner)

// WithConcurrency overrides the per-kind pool sizes.
func WithConcurrency(c Concurrency) RunnerOption {
	return func(r *Runner) {
		r.concurrency = c
	}
}

// WithHealthCheckInterval overrides how often health rechecks are enqueued.
func WithHealthCheckInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.healthCheckInterval = d
	}
}

// WithCleanupInterval overrides how often sweeps are enqueued.
func WithCleanupInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.cleanupInterval = d
	}
}

// WithPoolOptions forwards options to every pool, used by tests to
// shorten poll intervals.
func WithPoolOptions(options ...PoolOption) RunnerOption {
	return func(r *Runner) {
		r.poolOptions = options
	}
}

type Runner struct {
	service   *webhook.Service
	deliverer *webhook.Deliverer
	queue     webhook.Queue

	concurrency         Concurrency
	healthCheckInterval time.Duration
	cleanupInterval     time.Duration
	poolOptions         []PoolOption
}

// NewRunner creates a runner over the service, deliverer and queue.
func NewRunner(service *webhook.Service, deliverer *webhook.Deliverer, queue webhook.Queue, options ...RunnerOption) *Runner {
	r := &Runner{
		service:             service,
		deliverer:           deliverer,
		queue:               queue,
		concurrency:         DefaultConcurrency(),
		healthCheckInterval: DefaultHealthCheckInterval,
		cleanupInterval:     DefaultCleanupInterval,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Run starts every pool and ticker and blocks until the context is
// cancelled and all of them have drained.
func (r *Runner) Run(ctx context.Context) {
	pools := []*Pool{
		NewPool(webhook.JobDelivery, r.queue, r.concurrency.Delivery, r.handleDelivery, r.poolOptions...),
		NewPool(webhook.JobEvent, r.queue, r.concurrency.Event, r.handleEvent, r.poolOptions...),
		NewPool(webhook.JobHealthCheck, r.queue, r.concurrency.HealthCheck, r.handleHealthCheck, r.poolOptions...),
		NewPool(webhook.JobCleanup, r.queue, r.concurrency.Cleanup, r.handleCleanup, r.poolOptions...),
	}

	var wg sync.WaitGroup
	for _, pool := range pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			p.Start(ctx)
		}(pool)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		r.tick(ctx, webhook.JobHealthCheck, r.healthCheckInterval)
	}()
	go func() {
		defer wg.Done()
		r.tick(ctx, webhook.JobCleanup, r.cleanupInterval)
	}()

	wg.Wait()
}

// tick enqueues one job of the kind on every interval. The queue keys
// jobs by reference, so a tick landing before the previous job was
// claimed collapses into it instead of piling up.
func (r *Runner) tick(ctx context.Context, kind webhook.JobKind, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			job := webhook.Job{Kind: kind, RefID: kind.String(), ReadyAt: now}
			if err := r.queue.Enqueue(ctx, job); err != nil {
				slog.Error("enqueueing periodic job",
					slog.String("code", "QUEUE_ERROR"),
					slog.String("kind", kind.String()),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (r *Runner) handleDelivery(ctx context.Context, job webhook.Job) error {
	_, err := r.deliverer.Deliver(ctx, job.RefID)
	return err
}

func (r *Runner) handleEvent(ctx context.Context, job webhook.Job) error {
	return r.service.ProcessEvent(ctx, job.RefID)
}

func (r *Runner) handleHealthCheck(ctx context.Context, _ webhook.Job) error {
	return r.service.RecheckSubscriptionHealth(ctx)
}

func (r *Runner) handleCleanup(ctx context.Context, _ webhook.Job) error {
	return r.service.Sweep(ctx)
}
