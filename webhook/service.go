package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/commercekit/eventrelay/health"
	"github.com/commercekit/eventrelay/webhook/payload"
	"github.com/commercekit/eventrelay/webhook/signature"
	"github.com/google/uuid"
)

/* Service represents the business logic layer
 * Uses pointer semantics as it's an API, not data
 */

// Subscription health thresholds. An unhealthy subscription is flagged
// but never deactivated: deliveries continue and operators act on the flag.
const (
	HealthMaxConsecutiveFailures = 5
	HealthMinSuccessRate         = 0.80

	// DefaultMaxDeliveryLifetime bounds how long a delivery may stay
	// pending/retrying before the sweep expires it.
	DefaultMaxDeliveryLifetime = 24 * time.Hour

	// DefaultRetentionWindow bounds how long processed events and
	// terminal deliveries are kept before the purge removes them.
	DefaultRetentionWindow = 30 * 24 * time.Hour

	// TestEventType is the synthetic type sent by TestSubscription.
	TestEventType = "webhook.test"

	generatedSecretBytes = 32
)

// RegisterSubscriptionInput is the tenant-facing subscription configuration.
type RegisterSubscriptionInput struct {
	TenantID           string
	URL                string
	Secret             string // generated when empty
	EventTypes         []string
	MaxRetries         *int
	RetryDelay         time.Duration
	RetryBackoffFactor float64
	Timeout            time.Duration
}

// CreateEventInput is a domain event submitted by a producer module.
type CreateEventInput struct {
	TenantID  string
	EventType string
	Version   string
	Source    string
	Data      json.RawMessage
}

// HealthReport is the derived health view of one subscription.
type HealthReport struct {
	SubscriptionID       string
	Healthy              bool
	ConsecutiveFailures  int
	SuccessRate          float64
	TotalDeliveries      int64
	SuccessfulDeliveries int64
	FailedDeliveries     int64
}

// UseCase defines the business operations exposed to the HTTP layer.
type UseCase interface {
	RegisterSubscription(ctx context.Context, input RegisterSubscriptionInput) (Subscription, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string) ([]Subscription, error)
	SubscriptionHealth(ctx context.Context, id string) (HealthReport, error)
	TestSubscription(ctx context.Context, id string) (Delivery, error)

	CreateEvent(ctx context.Context, input CreateEventInput) (Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)

	GetDelivery(ctx context.Context, id string) (Delivery, error)
	ListDeliveriesByEvent(ctx context.Context, eventID string) ([]Delivery, error)
	ListDeliveriesBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Delivery, error)
	Redeliver(ctx context.Context, deliveryID string) (Delivery, error)
	CancelDelivery(ctx context.Context, deliveryID string) error
}

type Service struct {
	Repo      Repository
	deliverer *Deliverer
	tracker   *health.Tracker

	maxDeliveryLifetime time.Duration
	retentionWindow     time.Duration
	now                 func() time.Time
}

// ServiceOption is a functional option for configuring the service.
type ServiceOption func(*Service)

// WithMaxDeliveryLifetime overrides the expiry sweep cutoff.
func WithMaxDeliveryLifetime(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.maxDeliveryLifetime = d
	}
}

// WithRetentionWindow overrides the purge cutoff.
func WithRetentionWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.retentionWindow = d
	}
}

// WithServiceClock overrides the time source, used by tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new webhook service with dependency injection.
// The deliverer is used by TestSubscription to exercise the real
// delivery path synchronously.
func NewService(repo Repository, deliverer *Deliverer, options ...ServiceOption) *Service {
	s := &Service{
		Repo:                repo,
		deliverer:           deliverer,
		maxDeliveryLifetime: DefaultMaxDeliveryLifetime,
		retentionWindow:     DefaultRetentionWindow,
		now:                 time.Now,
	}
	if deliverer != nil {
		s.tracker = deliverer.tracker
	} else {
		s.tracker = health.NewTracker(5 * time.Minute)
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// RegisterSubscription validates and persists a new subscription.
// Configuration errors are rejected here and never reach delivery.
func (s *Service) RegisterSubscription(ctx context.Context, input RegisterSubscriptionInput) (Subscription, error) {
	secret := input.Secret
	if secret == "" {
		generated, err := signature.GenerateSecret(generatedSecretBytes)
		if err != nil {
			return Subscription{}, fmt.Errorf("generating secret: %w", err)
		}
		secret = generated
	}

	maxRetries := DefaultMaxRetries
	if input.MaxRetries != nil {
		maxRetries = *input.MaxRetries
	}
	retryDelay := input.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	backoffFactor := input.RetryBackoffFactor
	if backoffFactor == 0 {
		backoffFactor = DefaultRetryBackoffFactor
	}
	timeout := input.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	now := s.now()
	sub := Subscription{
		ID:                 uuid.New().String(),
		TenantID:           input.TenantID,
		URL:                input.URL,
		Secret:             secret,
		EventTypes:         input.EventTypes,
		IsActive:           true,
		IsHealthy:          true,
		MaxRetries:         maxRetries,
		RetryDelay:         retryDelay,
		RetryBackoffFactor: backoffFactor,
		Timeout:            timeout,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := sub.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("validating subscription: %w", err)
	}

	if err := s.Repo.CreateSubscription(ctx, sub); err != nil {
		return Subscription{}, fmt.Errorf("storing subscription: %w", err)
	}
	return sub, nil
}

// GetSubscription retrieves a subscription by id.
func (s *Service) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	return s.Repo.GetSubscription(ctx, id)
}

// ListSubscriptions lists a tenant's subscriptions.
func (s *Service) ListSubscriptions(ctx context.Context, tenantID string) ([]Subscription, error) {
	return s.Repo.ListSubscriptions(ctx, tenantID)
}

// CreateEvent validates and persists a domain event in pending status
// and enqueues its fan-out job. Pure append; no delivery exists yet.
// Transient downstream failures never surface here: the call fails only
// when the event itself is malformed.
func (s *Service) CreateEvent(ctx context.Context, input CreateEventInput) (Event, error) {
	if input.TenantID == "" {
		return Event{}, fmt.Errorf("tenant_id cannot be empty")
	}
	if err := payload.ValidateEventType(input.EventType); err != nil {
		return Event{}, fmt.Errorf("validating event type: %w", err)
	}
	if strings.Contains(input.EventType, "*") {
		return Event{}, fmt.Errorf("event type cannot contain wildcards: %s", input.EventType)
	}
	if len(input.Data) == 0 || !json.Valid(input.Data) {
		return Event{}, fmt.Errorf("data must be valid JSON")
	}

	version := input.Version
	if version == "" {
		version = "1"
	}

	event := Event{
		ID:        uuid.New().String(),
		TenantID:  input.TenantID,
		EventType: input.EventType,
		Version:   version,
		Source:    input.Source,
		Data:      input.Data,
		Status:    EventPending,
		CreatedAt: s.now(),
	}

	if err := s.Repo.CreateEvent(ctx, event); err != nil {
		return Event{}, fmt.Errorf("storing event: %w", err)
	}

	if err := s.Repo.Enqueue(ctx, Job{Kind: JobEvent, RefID: event.ID, ReadyAt: s.now()}); err != nil {
		return Event{}, fmt.Errorf("enqueueing event job: %w", err)
	}
	return event, nil
}

// GetEvent retrieves an event by id.
func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	return s.Repo.GetEvent(ctx, id)
}

// ProcessEvent fans an event out into one pending delivery per active,
// matching subscription. Matching membership is fixed here and never
// re-evaluated. The event is processed at most once; on a fan-out
// failure it is marked failed with the cause and only its already
// created deliveries proceed.
func (s *Service) ProcessEvent(ctx context.Context, eventID string) error {
	event, err := s.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("getting event: %w", err)
	}
	if event.Status != EventPending {
		// Already picked up, finished or cancelled
		return nil
	}

	if err := s.Repo.UpdateEventStatus(ctx, event.ID, EventProcessing, ""); err != nil {
		return fmt.Errorf("marking event processing: %w", err)
	}

	envelope, err := payload.New(event.ID, event.EventType, event.Version, event.Data, event.CreatedAt)
	if err != nil {
		s.failEvent(ctx, event.ID, err)
		return fmt.Errorf("building envelope: %w", err)
	}
	body, err := envelope.Bytes()
	if err != nil {
		s.failEvent(ctx, event.ID, err)
		return fmt.Errorf("encoding envelope: %w", err)
	}

	subs, err := s.Repo.ListSubscriptions(ctx, event.TenantID)
	if err != nil {
		s.failEvent(ctx, event.ID, err)
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	matched := 0
	for _, sub := range subs {
		if !sub.IsActive || !sub.Matches(event.EventType) {
			continue
		}

		now := s.now()
		delivery := Delivery{
			ID:             uuid.New().String(),
			SubscriptionID: sub.ID,
			TenantID:       event.TenantID,
			EventID:        event.ID,
			EventType:      event.EventType,
			Payload:        body,
			Status:         DeliveryPending,
			MaxRetries:     sub.MaxRetries,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := s.Repo.CreateDelivery(ctx, delivery); err != nil {
			s.failEvent(ctx, event.ID, err)
			return fmt.Errorf("storing delivery: %w", err)
		}
		if err := s.Repo.Enqueue(ctx, Job{Kind: JobDelivery, RefID: delivery.ID, ReadyAt: now}); err != nil {
			s.failEvent(ctx, event.ID, err)
			return fmt.Errorf("enqueueing delivery job: %w", err)
		}
		matched++
	}

	if err := s.Repo.UpdateEventStatus(ctx, event.ID, EventProcessed, ""); err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}

	slog.Info("event fanned out",
		slog.String("code", "EVT_PROCESSED"),
		slog.String("eventId", event.ID),
		slog.String("eventType", event.EventType),
		slog.Int("deliveries", matched),
	)
	return nil
}

func (s *Service) failEvent(ctx context.Context, eventID string, cause error) {
	if err := s.Repo.UpdateEventStatus(ctx, eventID, EventFailed, truncate(cause.Error(), maxErrorLength)); err != nil {
		slog.Error("marking event failed",
			slog.String("code", "DB_ERROR"),
			slog.String("eventId", eventID),
			slog.Any("error", err),
		)
	}
}

// SubscriptionHealth derives the health view of one subscription:
// healthy means fewer than five consecutive failures and a trailing
// success rate above 80%.
func (s *Service) SubscriptionHealth(ctx context.Context, id string) (HealthReport, error) {
	sub, err := s.Repo.GetSubscription(ctx, id)
	if err != nil {
		return HealthReport{}, fmt.Errorf("getting subscription: %w", err)
	}
	return s.healthReport(sub), nil
}

func (s *Service) healthReport(sub Subscription) HealthReport {
	snap := s.tracker.Snapshot(sub.ID)
	rate := snap.SuccessRate()
	return HealthReport{
		SubscriptionID:       sub.ID,
		Healthy:              sub.ConsecutiveFailures < HealthMaxConsecutiveFailures && rate > HealthMinSuccessRate,
		ConsecutiveFailures:  sub.ConsecutiveFailures,
		SuccessRate:          rate,
		TotalDeliveries:      sub.TotalDeliveries,
		SuccessfulDeliveries: sub.SuccessfulDeliveries,
		FailedDeliveries:     sub.FailedDeliveries,
	}
}

// RecheckSubscriptionHealth re-derives the health flag for every
// subscription. Flag only: an unhealthy subscription keeps receiving
// deliveries, operators and alerts act on the flag.
func (s *Service) RecheckSubscriptionHealth(ctx context.Context) error {
	subs, err := s.Repo.ListAllSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}

	for _, sub := range subs {
		report := s.healthReport(sub)
		if report.Healthy == sub.IsHealthy {
			continue
		}

		if err := s.Repo.SetHealthy(ctx, sub.ID, report.Healthy); err != nil {
			return fmt.Errorf("updating subscription health: %w", err)
		}

		code := "SUB_RECOVERED"
		if !report.Healthy {
			code = "SUB_UNHEALTHY"
		}
		slog.Warn("subscription health changed",
			slog.String("code", code),
			slog.String("subscriptionId", sub.ID),
			slog.Int("consecutiveFailures", report.ConsecutiveFailures),
			slog.Float64("successRate", report.SuccessRate),
		)
	}
	return nil
}

// TestSubscription sends a synthetic webhook.test event through the
// real delivery path, bypassing fan-out matching, for operator
// verification. The test delivery is not retried.
func (s *Service) TestSubscription(ctx context.Context, id string) (Delivery, error) {
	if s.deliverer == nil {
		return Delivery{}, fmt.Errorf("no deliverer configured")
	}
	sub, err := s.Repo.GetSubscription(ctx, id)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting subscription: %w", err)
	}

	now := s.now()
	data, _ := json.Marshal(map[string]string{"subscriptionId": sub.ID})
	envelope, err := payload.New(uuid.New().String(), TestEventType, "1", data, now)
	if err != nil {
		return Delivery{}, fmt.Errorf("building test envelope: %w", err)
	}
	body, err := envelope.Bytes()
	if err != nil {
		return Delivery{}, fmt.Errorf("encoding test envelope: %w", err)
	}

	delivery := Delivery{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventID:        envelope.EventID,
		EventType:      TestEventType,
		Payload:        body,
		Status:         DeliveryPending,
		MaxRetries:     0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.CreateDelivery(ctx, delivery); err != nil {
		return Delivery{}, fmt.Errorf("storing test delivery: %w", err)
	}

	return s.deliverer.Deliver(ctx, delivery.ID)
}

// GetDelivery retrieves a delivery by id.
func (s *Service) GetDelivery(ctx context.Context, id string) (Delivery, error) {
	return s.Repo.GetDelivery(ctx, id)
}

// ListDeliveriesByEvent lists every delivery fanned out from an event.
func (s *Service) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]Delivery, error) {
	return s.Repo.ListDeliveriesByEvent(ctx, eventID)
}

// ListDeliveriesBySubscription lists recent deliveries to a subscription.
func (s *Service) ListDeliveriesBySubscription(ctx context.Context, subscriptionID string, limit int) ([]Delivery, error) {
	return s.Repo.ListDeliveriesBySubscription(ctx, subscriptionID, limit)
}

// Redeliver re-enqueues a terminally failed delivery as a new pending
// delivery with a new id and the same payload. The original record is
// preserved as delivery history.
func (s *Service) Redeliver(ctx context.Context, deliveryID string) (Delivery, error) {
	original, err := s.Repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if original.Status != DeliveryFailed && original.Status != DeliveryExpired {
		return Delivery{}, fmt.Errorf("delivery %s cannot be redelivered in status %s", deliveryID, original.Status)
	}

	now := s.now()
	replay := Delivery{
		ID:             uuid.New().String(),
		SubscriptionID: original.SubscriptionID,
		TenantID:       original.TenantID,
		EventID:        original.EventID,
		EventType:      original.EventType,
		Payload:        original.Payload,
		Status:         DeliveryPending,
		MaxRetries:     original.MaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.CreateDelivery(ctx, replay); err != nil {
		return Delivery{}, fmt.Errorf("storing redelivery: %w", err)
	}
	if err := s.Repo.Enqueue(ctx, Job{Kind: JobDelivery, RefID: replay.ID, ReadyAt: now}); err != nil {
		return Delivery{}, fmt.Errorf("enqueueing redelivery job: %w", err)
	}
	return replay, nil
}

// CancelDelivery cancels a pending or retrying delivery. Cancellation
// is cooperative: an attempt already sending completes and records its
// outcome, but no further retry is scheduled.
func (s *Service) CancelDelivery(ctx context.Context, deliveryID string) error {
	delivery, err := s.Repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("getting delivery: %w", err)
	}
	if !delivery.Status.Cancellable() {
		return fmt.Errorf("delivery %s cannot be cancelled in status %s", deliveryID, delivery.Status)
	}

	delivery.Status = DeliveryCancelled
	delivery.CompletedAt = s.now()
	delivery.UpdatedAt = delivery.CompletedAt
	if err := s.Repo.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("cancelling delivery: %w", err)
	}
	return nil
}

// Sweep expires stale pending/retrying deliveries and purges processed
// events and terminal deliveries past the retention window.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()

	stale, err := s.Repo.ListStale(ctx, now.Add(-s.maxDeliveryLifetime))
	if err != nil {
		return fmt.Errorf("listing stale deliveries: %w", err)
	}
	for _, delivery := range stale {
		delivery.Status = DeliveryExpired
		delivery.ErrorCode = "expired"
		delivery.ErrorMessage = "exceeded maximum delivery lifetime"
		delivery.CompletedAt = now
		delivery.UpdatedAt = now
		if err := s.Repo.UpdateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("expiring delivery %s: %w", delivery.ID, err)
		}
	}

	cutoff := now.Add(-s.retentionWindow)
	purgedEvents, err := s.Repo.PurgeEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging events: %w", err)
	}
	purgedDeliveries, err := s.Repo.PurgeDeliveries(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging deliveries: %w", err)
	}

	slog.Info("sweep completed",
		slog.String("code", "SWEEP_DONE"),
		slog.Int("expired", len(stale)),
		slog.Int("purgedEvents", purgedEvents),
		slog.Int("purgedDeliveries", purgedDeliveries),
	)
	return nil
}
