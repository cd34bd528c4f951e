package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/commercekit/eventrelay/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of webhook.Repository
 * Uses Redis Hashes for subscription/event/delivery records,
 * Sets and Sorted Sets for secondary indexes, and per-kind Sorted Sets
 * as delayed-visibility job queues (score = ready-at time): a job only
 * becomes claimable once its score has passed, which is how delivery
 * retries wait out their backoff without any in-process timer.
 */

const (
	subscriptionPrefix = "subscription" // subscription:{id}
	eventPrefix        = "event"        // event:{id}
	deliveryPrefix     = "delivery"     // delivery:{id}
	queuePrefix        = "jobs"         // jobs:{kind}

	subscriptionsAllKey    = "subscriptions:all"
	subscriptionsTenantKey = "subscriptions:tenant" // subscriptions:tenant:{tenant_id}
	eventsByCreatedKey     = "events:by_created"    // score = created_at
	deliveriesByEventKey   = "deliveries:event"     // deliveries:event:{event_id}
	deliveriesBySubKey     = "deliveries:sub"       // deliveries:sub:{subscription_id}, score = created_at
	deliveriesByCreatedKey = "deliveries:by_created"
	deliveriesInFlightKey  = "deliveries:in_flight" // pending/retrying/sending, score = created_at
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

// CreateSubscription stores a subscription hash and indexes it.
func (r *Repository) CreateSubscription(ctx context.Context, sub webhook.Subscription) error {
	eventTypesJSON, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("marshaling event types: %w", err)
	}

	hashKey := fmt.Sprintf("%s:%s", subscriptionPrefix, sub.ID)
	err = r.client.HSet(ctx, hashKey, map[string]interface{}{
		"id":                    sub.ID,
		"tenant_id":             sub.TenantID,
		"url":                   sub.URL,
		"secret":                sub.Secret,
		"event_types":           string(eventTypesJSON),
		"is_active":             boolField(sub.IsActive),
		"is_healthy":            boolField(sub.IsHealthy),
		"max_retries":           sub.MaxRetries,
		"retry_delay_ns":        int64(sub.RetryDelay),
		"retry_backoff_factor":  strconv.FormatFloat(sub.RetryBackoffFactor, 'f', -1, 64),
		"timeout_ns":            int64(sub.Timeout),
		"consecutive_failures":  sub.ConsecutiveFailures,
		"total_deliveries":      sub.TotalDeliveries,
		"successful_deliveries": sub.SuccessfulDeliveries,
		"failed_deliveries":     sub.FailedDeliveries,
		"last_delivery_at":      timeField(sub.LastDeliveryAt),
		"last_success_at":       timeField(sub.LastSuccessAt),
		"last_failure_at":       timeField(sub.LastFailureAt),
		"created_at":            timeField(sub.CreatedAt),
		"updated_at":            timeField(sub.UpdatedAt),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing subscription: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, subscriptionsAllKey, sub.ID)
	pipe.SAdd(ctx, fmt.Sprintf("%s:%s", subscriptionsTenantKey, sub.TenantID), sub.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID from its hash.
func (r *Repository) GetSubscription(ctx context.Context, id string) (webhook.Subscription, error) {
	hashKey := fmt.Sprintf("%s:%s", subscriptionPrefix, id)

	data, err := r.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return webhook.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	if len(data) == 0 {
		return webhook.Subscription{}, fmt.Errorf("subscription %s: %w", id, webhook.ErrNotFound)
	}

	var eventTypes []string
	if raw, ok := data["event_types"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &eventTypes); err != nil {
			return webhook.Subscription{}, fmt.Errorf("unmarshaling event types: %w", err)
		}
	}

	factor, _ := strconv.ParseFloat(data["retry_backoff_factor"], 64)

	sub := webhook.Subscription{
		ID:                   data["id"],
		TenantID:             data["tenant_id"],
		URL:                  data["url"],
		Secret:               data["secret"],
		EventTypes:           eventTypes,
		IsActive:             data["is_active"] == "1",
		IsHealthy:            data["is_healthy"] == "1",
		MaxRetries:           int(parseInt64(data["max_retries"])),
		RetryDelay:           time.Duration(parseInt64(data["retry_delay_ns"])),
		RetryBackoffFactor:   factor,
		Timeout:              time.Duration(parseInt64(data["timeout_ns"])),
		ConsecutiveFailures:  int(parseInt64(data["consecutive_failures"])),
		TotalDeliveries:      parseInt64(data["total_deliveries"]),
		SuccessfulDeliveries: parseInt64(data["successful_deliveries"]),
		FailedDeliveries:     parseInt64(data["failed_deliveries"]),
		LastDeliveryAt:       parseTime(data["last_delivery_at"]),
		LastSuccessAt:        parseTime(data["last_success_at"]),
		LastFailureAt:        parseTime(data["last_failure_at"]),
		CreatedAt:            parseTime(data["created_at"]),
		UpdatedAt:            parseTime(data["updated_at"]),
	}
	return sub, nil
}

// ListSubscriptions lists a tenant's subscriptions via the tenant index.
func (r *Repository) ListSubscriptions(ctx context.Context, tenantID string) ([]webhook.Subscription, error) {
	ids, err := r.client.SMembers(ctx, fmt.Sprintf("%s:%s", subscriptionsTenantKey, tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing tenant subscriptions: %w", err)
	}
	return r.subscriptionsByIDs(ctx, ids)
}

// ListAllSubscriptions lists every subscription across tenants.
func (r *Repository) ListAllSubscriptions(ctx context.Context) ([]webhook.Subscription, error) {
	ids, err := r.client.SMembers(ctx, subscriptionsAllKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	return r.subscriptionsByIDs(ctx, ids)
}

func (r *Repository) subscriptionsByIDs(ctx context.Context, ids []string) ([]webhook.Subscription, error) {
	var out []webhook.Subscription
	for _, id := range ids {
		sub, err := r.GetSubscription(ctx, id)
		if err != nil {
			// Index entry outlived the hash, skip it
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// RecordOutcome folds a delivery outcome into the aggregate counters.
// Counters use HIncrBy so concurrent workers never lose an increment.
func (r *Repository) RecordOutcome(ctx context.Context, id string, success bool, at time.Time) error {
	hashKey := fmt.Sprintf("%s:%s", subscriptionPrefix, id)

	exists, err := r.client.Exists(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("checking subscription: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("subscription %s: %w", id, webhook.ErrNotFound)
	}

	pipe := r.client.Pipeline()
	pipe.HIncrBy(ctx, hashKey, "total_deliveries", 1)
	if success {
		pipe.HIncrBy(ctx, hashKey, "successful_deliveries", 1)
		pipe.HSet(ctx, hashKey, "consecutive_failures", 0, "last_success_at", timeField(at))
	} else {
		pipe.HIncrBy(ctx, hashKey, "failed_deliveries", 1)
		pipe.HIncrBy(ctx, hashKey, "consecutive_failures", 1)
		pipe.HSet(ctx, hashKey, "last_failure_at", timeField(at))
	}
	pipe.HSet(ctx, hashKey, "last_delivery_at", timeField(at), "updated_at", timeField(at))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// SetHealthy updates the subscription health flag.
func (r *Repository) SetHealthy(ctx context.Context, id string, healthy bool) error {
	return r.setSubscriptionFlag(ctx, id, "is_healthy", healthy)
}

// SetActive updates the subscription active flag.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	return r.setSubscriptionFlag(ctx, id, "is_active", active)
}

func (r *Repository) setSubscriptionFlag(ctx context.Context, id, field string, value bool) error {
	hashKey := fmt.Sprintf("%s:%s", subscriptionPrefix, id)

	exists, err := r.client.Exists(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("checking subscription: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("subscription %s: %w", id, webhook.ErrNotFound)
	}

	err = r.client.HSet(ctx, hashKey, field, boolField(value), "updated_at", timeField(time.Now())).Err()
	if err != nil {
		return fmt.Errorf("updating subscription flag: %w", err)
	}
	return nil
}

// CreateEvent stores an event hash and indexes it by creation time.
func (r *Repository) CreateEvent(ctx context.Context, event webhook.Event) error {
	hashKey := fmt.Sprintf("%s:%s", eventPrefix, event.ID)

	err := r.client.HSet(ctx, hashKey, map[string]interface{}{
		"id":           event.ID,
		"tenant_id":    event.TenantID,
		"event_type":   event.EventType,
		"version":      event.Version,
		"source":       event.Source,
		"data":         string(event.Data),
		"status":       event.Status.String(),
		"last_error":   event.LastError,
		"created_at":   timeField(event.CreatedAt),
		"processed_at": timeField(event.ProcessedAt),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing event: %w", err)
	}

	err = r.client.ZAdd(ctx, eventsByCreatedKey, redis.Z{
		Score:  float64(event.CreatedAt.UnixNano()),
		Member: event.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("indexing event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (r *Repository) GetEvent(ctx context.Context, id string) (webhook.Event, error) {
	hashKey := fmt.Sprintf("%s:%s", eventPrefix, id)

	data, err := r.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return webhook.Event{}, fmt.Errorf("getting event: %w", err)
	}
	if len(data) == 0 {
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}

	event := webhook.Event{
		ID:          data["id"],
		TenantID:    data["tenant_id"],
		EventType:   data["event_type"],
		Version:     data["version"],
		Source:      data["source"],
		Data:        json.RawMessage(data["data"]),
		Status:      webhook.NewEventStatus(data["status"]),
		LastError:   data["last_error"],
		CreatedAt:   parseTime(data["created_at"]),
		ProcessedAt: parseTime(data["processed_at"]),
	}
	return event, nil
}

// UpdateEventStatus transitions an event.
func (r *Repository) UpdateEventStatus(ctx context.Context, id string, status webhook.EventStatus, lastError string) error {
	hashKey := fmt.Sprintf("%s:%s", eventPrefix, id)

	exists, err := r.client.Exists(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("checking event: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}

	fields := map[string]interface{}{
		"status":     status.String(),
		"last_error": lastError,
	}
	if status == webhook.EventProcessed {
		fields["processed_at"] = timeField(time.Now())
	}
	if err := r.client.HSet(ctx, hashKey, fields).Err(); err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}
	return nil
}

// PurgeEvents deletes processed events older than the cutoff.
func (r *Repository) PurgeEvents(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, eventsByCreatedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing old events: %w", err)
	}

	purged := 0
	for _, id := range ids {
		event, err := r.GetEvent(ctx, id)
		if err != nil {
			// Hash already gone, drop the index entry
			r.client.ZRem(ctx, eventsByCreatedKey, id)
			continue
		}
		if event.Status != webhook.EventProcessed {
			continue
		}

		pipe := r.client.Pipeline()
		pipe.Del(ctx, fmt.Sprintf("%s:%s", eventPrefix, id))
		pipe.ZRem(ctx, eventsByCreatedKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("purging event %s: %w", id, err)
		}
		purged++
	}
	return purged, nil
}

// CreateDelivery stores a delivery hash and indexes it.
func (r *Repository) CreateDelivery(ctx context.Context, d webhook.Delivery) error {
	if err := r.writeDelivery(ctx, d); err != nil {
		return err
	}

	score := float64(d.CreatedAt.UnixNano())
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf("%s:%s", deliveriesByEventKey, d.EventID), d.ID)
	pipe.ZAdd(ctx, fmt.Sprintf("%s:%s", deliveriesBySubKey, d.SubscriptionID), redis.Z{Score: score, Member: d.ID})
	pipe.ZAdd(ctx, deliveriesByCreatedKey, redis.Z{Score: score, Member: d.ID})
	r.indexInFlight(ctx, pipe, d)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("indexing delivery: %w", err)
	}
	return nil
}

// UpdateDelivery replaces a delivery record and refreshes the
// in-flight index the sweep reads.
func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	hashKey := fmt.Sprintf("%s:%s", deliveryPrefix, d.ID)

	exists, err := r.client.Exists(ctx, hashKey).Result()
	if err != nil {
		return fmt.Errorf("checking delivery: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("delivery %s: %w", d.ID, webhook.ErrNotFound)
	}

	if err := r.writeDelivery(ctx, d); err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	r.indexInFlight(ctx, pipe, d)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reindexing delivery: %w", err)
	}
	return nil
}

func (r *Repository) indexInFlight(ctx context.Context, pipe redis.Pipeliner, d webhook.Delivery) {
	if d.Status.InFlight() {
		pipe.ZAdd(ctx, deliveriesInFlightKey, redis.Z{
			Score:  float64(d.CreatedAt.UnixNano()),
			Member: d.ID,
		})
	} else {
		pipe.ZRem(ctx, deliveriesInFlightKey, d.ID)
	}
}

func (r *Repository) writeDelivery(ctx context.Context, d webhook.Delivery) error {
	hashKey := fmt.Sprintf("%s:%s", deliveryPrefix, d.ID)

	err := r.client.HSet(ctx, hashKey, map[string]interface{}{
		"id":              d.ID,
		"subscription_id": d.SubscriptionID,
		"tenant_id":       d.TenantID,
		"event_id":        d.EventID,
		"event_type":      d.EventType,
		"payload":         d.Payload,
		"status":          d.Status.String(),
		"http_status":     d.HTTPStatus,
		"attempt_count":   d.AttemptCount,
		"max_retries":     d.MaxRetries,
		"next_retry_at":   timeField(d.NextRetryAt),
		"signature":       d.Signature,
		"error_message":   d.ErrorMessage,
		"error_code":      d.ErrorCode,
		"started_at":      timeField(d.StartedAt),
		"completed_at":    timeField(d.CompletedAt),
		"duration_ns":     int64(d.Duration),
		"created_at":      timeField(d.CreatedAt),
		"updated_at":      timeField(d.UpdatedAt),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (r *Repository) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	hashKey := fmt.Sprintf("%s:%s", deliveryPrefix, id)

	data, err := r.client.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return webhook.Delivery{}, fmt.Errorf("delivery %s: %w", id, webhook.ErrNotFound)
	}

	d := webhook.Delivery{
		ID:             data["id"],
		SubscriptionID: data["subscription_id"],
		TenantID:       data["tenant_id"],
		EventID:        data["event_id"],
		EventType:      data["event_type"],
		Payload:        []byte(data["payload"]),
		Status:         webhook.NewDeliveryStatus(data["status"]),
		HTTPStatus:     int(parseInt64(data["http_status"])),
		AttemptCount:   int(parseInt64(data["attempt_count"])),
		MaxRetries:     int(parseInt64(data["max_retries"])),
		NextRetryAt:    parseTime(data["next_retry_at"]),
		Signature:      data["signature"],
		ErrorMessage:   data["error_message"],
		ErrorCode:      data["error_code"],
		StartedAt:      parseTime(data["started_at"]),
		CompletedAt:    parseTime(data["completed_at"]),
		Duration:       time.Duration(parseInt64(data["duration_ns"])),
		CreatedAt:      parseTime(data["created_at"]),
		UpdatedAt:      parseTime(data["updated_at"]),
	}
	return d, nil
}

// ListDeliveriesByEvent lists deliveries fanned out from an event.
func (r *Repository) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]webhook.Delivery, error) {
	ids, err := r.client.SMembers(ctx, fmt.Sprintf("%s:%s", deliveriesByEventKey, eventID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing event deliveries: %w", err)
	}
	return r.deliveriesByIDs(ctx, ids)
}

// ListDeliveriesBySubscription lists the oldest deliveries first,
// bounded by limit.
func (r *Repository) ListDeliveriesBySubscription(ctx context.Context, subscriptionID string, limit int) ([]webhook.Delivery, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRange(ctx, fmt.Sprintf("%s:%s", deliveriesBySubKey, subscriptionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing subscription deliveries: %w", err)
	}
	return r.deliveriesByIDs(ctx, ids)
}

// ListStale returns in-flight deliveries created before the cutoff.
func (r *Repository) ListStale(ctx context.Context, olderThan time.Time) ([]webhook.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, deliveriesInFlightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing stale deliveries: %w", err)
	}
	return r.deliveriesByIDs(ctx, ids)
}

// PurgeDeliveries deletes terminal deliveries older than the cutoff.
func (r *Repository) PurgeDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, deliveriesByCreatedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("listing old deliveries: %w", err)
	}

	purged := 0
	for _, id := range ids {
		d, err := r.GetDelivery(ctx, id)
		if err != nil {
			r.client.ZRem(ctx, deliveriesByCreatedKey, id)
			continue
		}
		if !d.Status.IsTerminal() {
			continue
		}

		pipe := r.client.Pipeline()
		pipe.Del(ctx, fmt.Sprintf("%s:%s", deliveryPrefix, id))
		pipe.ZRem(ctx, deliveriesByCreatedKey, id)
		pipe.ZRem(ctx, deliveriesInFlightKey, id)
		pipe.SRem(ctx, fmt.Sprintf("%s:%s", deliveriesByEventKey, d.EventID), id)
		pipe.ZRem(ctx, fmt.Sprintf("%s:%s", deliveriesBySubKey, d.SubscriptionID), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("purging delivery %s: %w", id, err)
		}
		purged++
	}
	return purged, nil
}

func (r *Repository) deliveriesByIDs(ctx context.Context, ids []string) ([]webhook.Delivery, error) {
	var out []webhook.Delivery
	for _, id := range ids {
		d, err := r.GetDelivery(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// CountDeliveriesByStatus scans delivery hashes and counts them per
// status. Scan-based, so it is a metrics-grade answer, not a
// transactional one.
func (r *Repository) CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)

	var cursor uint64
	for {
		keys, nextCursor, err := r.client.Scan(ctx, cursor, deliveryPrefix+":*", 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning delivery keys: %w", err)
		}

		if len(keys) > 0 {
			pipe := r.client.Pipeline()
			cmds := make([]*redis.StringCmd, len(keys))
			for i, key := range keys {
				cmds[i] = pipe.HGet(ctx, key, "status")
			}
			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return nil, fmt.Errorf("reading delivery statuses: %w", err)
			}

			for _, cmd := range cmds {
				status, err := cmd.Result()
				if err != nil || status == "" {
					continue
				}
				counts[status]++
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return counts, nil
}

// Enqueue adds a job to its kind's sorted set, scored by ready time.
// One member per reference: re-enqueueing a delivery replaces its
// previous schedule instead of duplicating the job.
func (r *Repository) Enqueue(ctx context.Context, job webhook.Job) error {
	if err := job.Kind.Validate(); err != nil {
		return err
	}

	err := r.client.ZAdd(ctx, queueKey(job.Kind), redis.Z{
		Score:  float64(job.ReadyAt.UnixNano()),
		Member: job.RefID,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// Dequeue claims up to max ready jobs of the kind. A job counts as
// claimed only when this worker's ZRem removed it, so two workers
// polling the same queue never both claim one job.
func (r *Repository) Dequeue(ctx context.Context, kind webhook.JobKind, max int) ([]webhook.Job, error) {
	now := time.Now()
	key := queueKey(kind)

	ids, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}

	var claimed []webhook.Job
	for _, id := range ids {
		removed, err := r.client.ZRem(ctx, key, id).Result()
		if err != nil {
			return claimed, fmt.Errorf("claiming job: %w", err)
		}
		if removed == 0 {
			// Another worker claimed it first
			continue
		}
		claimed = append(claimed, webhook.Job{Kind: kind, RefID: id, ReadyAt: now})
	}
	return claimed, nil
}

// Depth returns the number of queued jobs of the kind, ready or not.
func (r *Repository) Depth(ctx context.Context, kind webhook.JobKind) (int64, error) {
	depth, err := r.client.ZCard(ctx, queueKey(kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return depth, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// Helper functions

func queueKey(kind webhook.JobKind) string {
	return fmt.Sprintf("%s:%s", queuePrefix, kind.String())
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeField(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func parseTime(s string) time.Time {
	nanos := parseInt64(s)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func parseInt64(s string) int64 {
	result, _ := strconv.ParseInt(s, 10, 64)
	return result
}
