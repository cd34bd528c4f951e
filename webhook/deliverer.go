package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/commercekit/eventrelay/health"
	"github.com/commercekit/eventrelay/webhook/signature"
	"github.com/google/uuid"
)

/* Deliverer performs one HTTP delivery attempt for a delivery record:
 * signs the payload, sends it, interprets the response, and decides the
 * retry or terminal outcome. Retries are scheduled through the queue's
 * delayed visibility, never with in-process sleeps, so they survive
 * process restarts.
 */

const (
	// maxResponseBytes bounds how much of the subscriber response is
	// kept on the delivery record.
	maxResponseBytes = 1024

	maxErrorLength = 512
)

// DelivererOption is a functional option for configuring the deliverer.
type DelivererOption func(*Deliverer)

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(c *http.Client) DelivererOption {
	return func(d *Deliverer) {
		d.client = c
	}
}

// WithTracker sets the rolling health tracker shared with the service.
func WithTracker(t *health.Tracker) DelivererOption {
	return func(d *Deliverer) {
		d.tracker = t
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) DelivererOption {
	return func(d *Deliverer) {
		d.now = now
	}
}

type Deliverer struct {
	repo    Repository
	tracker *health.Tracker
	client  *http.Client
	now     func() time.Time
}

// NewDeliverer creates a delivery executor over the given repository.
func NewDeliverer(repo Repository, options ...DelivererOption) *Deliverer {
	d := &Deliverer{
		repo:    repo,
		tracker: health.NewTracker(5 * time.Minute),
		client:  &http.Client{},
		now:     time.Now,
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// Deliver executes a single delivery attempt. Invoking it on a
// terminal delivery is a no-op; the record is returned unchanged.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID string) (Delivery, error) {
	delivery, err := d.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}

	// Idempotent terminality: absorbed states are never mutated again.
	// A job for an expired or cancelled delivery drains here.
	if delivery.Status.IsTerminal() {
		return delivery, nil
	}
	// Another worker owns an attempt in flight
	if delivery.Status == DeliverySending {
		return delivery, nil
	}

	sub, err := d.repo.GetSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting subscription: %w", err)
	}

	// Claim the attempt: attempts for one delivery are strictly
	// sequential, entered through the sending state.
	started := d.now()
	delivery.Status = DeliverySending
	delivery.StartedAt = started
	delivery.AttemptCount++
	delivery.UpdatedAt = started
	if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
		return Delivery{}, fmt.Errorf("claiming delivery: %w", err)
	}

	status, body, attemptErr := d.attempt(ctx, sub, &delivery)
	duration := d.now().Sub(started)

	delivery.HTTPStatus = status
	delivery.Duration = duration
	delivery.UpdatedAt = d.now()

	outcome := ClassifyOutcome(status, attemptErr)
	d.recordOutcome(ctx, sub.ID, outcome == nil)

	switch failure := outcome.(type) {
	case nil:
		delivery.Status = DeliveryDelivered
		delivery.CompletedAt = delivery.UpdatedAt
		delivery.ErrorCode = ""
		delivery.ErrorMessage = ""
		slog.Info("delivery succeeded",
			slog.String("code", "DEL_OK"),
			slog.String("deliveryId", delivery.ID),
			slog.Int("status", status),
			slog.Duration("duration", duration),
		)

	case *PermanentError:
		// Permanent rejection by the subscriber, never retried
		delivery.Status = DeliveryFailed
		delivery.CompletedAt = delivery.UpdatedAt
		delivery.ErrorCode = "permanent_rejection"
		delivery.ErrorMessage = truncate(fmt.Sprintf("subscriber rejected with status %d: %s", failure.StatusCode, body), maxErrorLength)
		slog.Warn("delivery permanently rejected",
			slog.String("code", "DEL_REJECTED"),
			slog.String("deliveryId", delivery.ID),
			slog.Int("status", failure.StatusCode),
		)

	case *TransientError:
		d.scheduleRetryOrFail(ctx, &delivery, failure, body)
	}

	// Cooperative cancellation: the completed attempt's outcome is
	// recorded, but a cancel observed now wins and stops further retries.
	fresh, err := d.repo.GetDelivery(ctx, delivery.ID)
	if err == nil && fresh.Status == DeliveryCancelled {
		delivery.Status = DeliveryCancelled
		delivery.CompletedAt = delivery.UpdatedAt
		delivery.NextRetryAt = time.Time{}
	}

	if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
		return Delivery{}, fmt.Errorf("recording delivery outcome: %w", err)
	}

	if delivery.Status == DeliveryRetrying {
		if err := d.repo.Enqueue(ctx, Job{Kind: JobDelivery, RefID: delivery.ID, ReadyAt: delivery.NextRetryAt}); err != nil {
			return Delivery{}, fmt.Errorf("enqueueing retry job: %w", err)
		}
	}

	return delivery, nil
}

func (d *Deliverer) scheduleRetryOrFail(ctx context.Context, delivery *Delivery, failure *TransientError, body string) {
	errorCode := "http_error"
	errorMessage := fmt.Sprintf("subscriber responded with status %d: %s", failure.StatusCode, body)
	if failure.Cause != nil {
		if isTimeout(failure.Cause) || errors.Is(failure.Cause, context.DeadlineExceeded) {
			errorCode = "timeout"
		} else {
			errorCode = "connection_error"
		}
		errorMessage = failure.Cause.Error()
	}
	delivery.ErrorCode = errorCode
	delivery.ErrorMessage = truncate(errorMessage, maxErrorLength)

	if delivery.AttemptCount < delivery.MaxRetries {
		sub, err := d.repo.GetSubscription(ctx, delivery.SubscriptionID)
		if err != nil {
			slog.Error("loading subscription for retry schedule, falling back to default backoff",
				slog.String("code", "DB_ERROR"),
				slog.String("deliveryId", delivery.ID),
				slog.String("subscriptionId", delivery.SubscriptionID),
				slog.Any("error", err),
			)
			sub = Subscription{RetryDelay: DefaultRetryDelay, RetryBackoffFactor: DefaultRetryBackoffFactor}
		}
		backoff := time.Duration(float64(sub.RetryDelay) * math.Pow(sub.RetryBackoffFactor, float64(delivery.AttemptCount-1)))
		delivery.Status = DeliveryRetrying
		delivery.NextRetryAt = d.now().Add(backoff)
		slog.Info("delivery scheduled for retry",
			slog.String("code", "DEL_RETRY"),
			slog.String("deliveryId", delivery.ID),
			slog.Int("attempt", delivery.AttemptCount),
			slog.Duration("delay", backoff),
		)
		return
	}

	delivery.Status = DeliveryFailed
	delivery.CompletedAt = delivery.UpdatedAt
	if delivery.ErrorCode == "http_error" {
		delivery.ErrorCode = "retries_exhausted"
	}
	slog.Error("terminal failure: max retries exceeded",
		slog.String("code", "DEL_FAILED"),
		slog.String("deliveryId", delivery.ID),
		slog.Int("attempts", delivery.AttemptCount),
		slog.Int("maxRetries", delivery.MaxRetries),
	)
}

// attempt signs and sends the payload with the subscription's timeout.
func (d *Deliverer) attempt(ctx context.Context, sub Subscription, delivery *Delivery) (int, string, error) {
	timestamp := d.now()
	sig, err := signature.Sign(sub.Secret, timestamp, delivery.Payload)
	if err != nil {
		return 0, "", fmt.Errorf("signing payload: %w", err)
	}
	delivery.Signature = sig.String()

	attemptCtx, cancel := context.WithTimeout(ctx, sub.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderID, delivery.ID)
	req.Header.Set(signature.HeaderTimestamp, fmt.Sprintf("%d", timestamp.Unix()))
	req.Header.Set(signature.HeaderNonce, uuid.New().String())
	req.Header.Set(signature.HeaderSignature, sig.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(body), nil
}

func (d *Deliverer) recordOutcome(ctx context.Context, subscriptionID string, success bool) {
	if success {
		d.tracker.RecordSuccess(subscriptionID)
	} else {
		d.tracker.RecordFailure(subscriptionID)
	}
	if err := d.repo.RecordOutcome(ctx, subscriptionID, success, d.now()); err != nil {
		slog.Error("recording subscription outcome",
			slog.String("code", "DB_ERROR"),
			slog.String("subscriptionId", subscriptionID),
			slog.Any("error", err),
		)
	}
}

func isTimeout(err error) bool {
	type timeout interface {
		Timeout() bool
	}
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
