package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/commercekit/eventrelay/webhook"
)

/* In-memory implementation of webhook.Repository.
 * Backs unit tests and single-process development mode; the Redis
 * implementation is the shared store for real deployments.
 */

type Repository struct {
	mu            sync.Mutex
	subscriptions map[string]webhook.Subscription
	events        map[string]webhook.Event
	deliveries    map[string]webhook.Delivery
	jobs          map[webhook.JobKind][]webhook.Job
	now           func() time.Time
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		subscriptions: make(map[string]webhook.Subscription),
		events:        make(map[string]webhook.Event),
		deliveries:    make(map[string]webhook.Delivery),
		jobs:          make(map[webhook.JobKind][]webhook.Job),
		now:           time.Now,
	}
}

// SetClock overrides the time source, used by tests for queue visibility.
func (r *Repository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// CreateSubscription stores a new subscription.
func (r *Repository) CreateSubscription(_ context.Context, sub webhook.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.subscriptions[sub.ID]; exists {
		return fmt.Errorf("subscription already exists: %s", sub.ID)
	}
	r.subscriptions[sub.ID] = sub
	return nil
}

// GetSubscription retrieves a subscription by id.
func (r *Repository) GetSubscription(_ context.Context, id string) (webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, exists := r.subscriptions[id]
	if !exists {
		return webhook.Subscription{}, fmt.Errorf("subscription %s: %w", id, webhook.ErrNotFound)
	}
	return sub, nil
}

// ListSubscriptions lists a tenant's subscriptions.
func (r *Repository) ListSubscriptions(_ context.Context, tenantID string) ([]webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.Subscription
	for _, sub := range r.subscriptions {
		if sub.TenantID == tenantID {
			out = append(out, sub)
		}
	}
	sortSubscriptions(out)
	return out, nil
}

// ListAllSubscriptions lists every subscription across tenants.
func (r *Repository) ListAllSubscriptions(_ context.Context) ([]webhook.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]webhook.Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		out = append(out, sub)
	}
	sortSubscriptions(out)
	return out, nil
}

// RecordOutcome folds one delivery outcome into the aggregate counters.
// The whole read-modify-write runs under the repository lock, so
// concurrent workers never lose an increment.
func (r *Repository) RecordOutcome(_ context.Context, id string, success bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, exists := r.subscriptions[id]
	if !exists {
		return fmt.Errorf("subscription %s: %w", id, webhook.ErrNotFound)
	}

	sub.TotalDeliveries++
	sub.LastDeliveryAt = at
	if success {
		sub.SuccessfulDeliveries++
		sub.ConsecutiveFailures = 0
		sub.LastSuccessAt = at
	} else {
		sub.FailedDeliveries++
		sub.ConsecutiveFailures++
		sub.LastFailureAt = at
	}
	sub.UpdatedAt = at
	r.subscriptions[id] = sub
	return nil
}

// SetHealthy updates the subscription health flag.
func (r *Repository) SetHealthy(_ context.Context, id string, healthy bool) error {
	return r.mutateSubscription(id, func(sub *webhook.Subscription) {
		sub.IsHealthy = healthy
	})
}

// SetActive updates the subscription active flag.
func (r *Repository) SetActive(_ context.Context, id string, active bool) error {
	return r.mutateSubscription(id, func(sub *webhook.Subscription) {
		sub.IsActive = active
	})
}

func (r *Repository) mutateSubscription(id string, mutate func(*webhook.Subscription)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, exists := r.subscriptions[id]
	if !exists {
		return fmt.Errorf("subscription %s: %w", id, webhook.ErrNotFound)
	}
	mutate(&sub)
	sub.UpdatedAt = r.now()
	r.subscriptions[id] = sub
	return nil
}

// CreateEvent stores a new event.
func (r *Repository) CreateEvent(_ context.Context, event webhook.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[event.ID]; exists {
		return fmt.Errorf("event already exists: %s", event.ID)
	}
	r.events[event.ID] = event
	return nil
}

// GetEvent retrieves an event by id.
func (r *Repository) GetEvent(_ context.Context, id string) (webhook.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, exists := r.events[id]
	if !exists {
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	return event, nil
}

// UpdateEventStatus transitions an event.
func (r *Repository) UpdateEventStatus(_ context.Context, id string, status webhook.EventStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, exists := r.events[id]
	if !exists {
		return fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	event.Status = status
	event.LastError = lastError
	if status == webhook.EventProcessed {
		event.ProcessedAt = r.now()
	}
	r.events[id] = event
	return nil
}

// PurgeEvents deletes processed events older than the cutoff.
func (r *Repository) PurgeEvents(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, event := range r.events {
		if event.Status == webhook.EventProcessed && event.CreatedAt.Before(olderThan) {
			delete(r.events, id)
			purged++
		}
	}
	return purged, nil
}

// CreateDelivery stores a new delivery.
func (r *Repository) CreateDelivery(_ context.Context, d webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliveries[d.ID]; exists {
		return fmt.Errorf("delivery already exists: %s", d.ID)
	}
	r.deliveries[d.ID] = d
	return nil
}

// GetDelivery retrieves a delivery by id.
func (r *Repository) GetDelivery(_ context.Context, id string) (webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, exists := r.deliveries[id]
	if !exists {
		return webhook.Delivery{}, fmt.Errorf("delivery %s: %w", id, webhook.ErrNotFound)
	}
	return d, nil
}

// UpdateDelivery replaces a delivery record.
func (r *Repository) UpdateDelivery(_ context.Context, d webhook.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deliveries[d.ID]; !exists {
		return fmt.Errorf("delivery %s: %w", d.ID, webhook.ErrNotFound)
	}
	r.deliveries[d.ID] = d
	return nil
}

// ListDeliveriesByEvent lists deliveries fanned out from an event.
func (r *Repository) ListDeliveriesByEvent(_ context.Context, eventID string) ([]webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range r.deliveries {
		if d.EventID == eventID {
			out = append(out, d)
		}
	}
	sortDeliveries(out)
	return out, nil
}

// ListDeliveriesBySubscription lists recent deliveries to a subscription.
func (r *Repository) ListDeliveriesBySubscription(_ context.Context, subscriptionID string, limit int) ([]webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range r.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d)
		}
	}
	sortDeliveries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListStale returns in-flight deliveries created before the cutoff.
func (r *Repository) ListStale(_ context.Context, olderThan time.Time) ([]webhook.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range r.deliveries {
		if d.Status.InFlight() && d.CreatedAt.Before(olderThan) {
			out = append(out, d)
		}
	}
	sortDeliveries(out)
	return out, nil
}

// PurgeDeliveries deletes terminal deliveries older than the cutoff.
func (r *Repository) PurgeDeliveries(_ context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, d := range r.deliveries {
		if d.Status.IsTerminal() && d.CreatedAt.Before(olderThan) {
			delete(r.deliveries, id)
			purged++
		}
	}
	return purged, nil
}

// CountDeliveriesByStatus returns the number of deliveries per status.
func (r *Repository) CountDeliveriesByStatus(_ context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, d := range r.deliveries {
		counts[d.Status.String()]++
	}
	return counts, nil
}

// Enqueue adds a job; it becomes visible once ReadyAt has passed.
func (r *Repository) Enqueue(_ context.Context, job webhook.Job) error {
	if err := job.Kind.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Kind] = append(r.jobs[job.Kind], job)
	return nil
}

// Dequeue claims up to max ready jobs of the kind.
func (r *Repository) Dequeue(_ context.Context, kind webhook.JobKind, max int) ([]webhook.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var claimed []webhook.Job
	var remaining []webhook.Job
	for _, job := range r.jobs[kind] {
		if len(claimed) < max && !job.ReadyAt.After(now) {
			claimed = append(claimed, job)
		} else {
			remaining = append(remaining, job)
		}
	}
	r.jobs[kind] = remaining
	return claimed, nil
}

// Depth returns the number of queued jobs of the kind, ready or not.
func (r *Repository) Depth(_ context.Context, kind webhook.JobKind) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.jobs[kind])), nil
}

// Close is a no-op for the in-memory repository.
func (r *Repository) Close(_ context.Context) error {
	return nil
}

func sortSubscriptions(subs []webhook.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}

func sortDeliveries(deliveries []webhook.Delivery) {
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt)
	})
}
