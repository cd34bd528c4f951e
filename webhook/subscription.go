package webhook

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/commercekit/eventrelay/webhook/payload"
)

/* Subscription represents a tenant-configured webhook endpoint
 * Uses value semantics as it represents data, not behavior
 */
type Subscription struct {
	ID         string
	TenantID   string
	URL        string
	Secret     string
	EventTypes []string

	IsActive  bool
	IsHealthy bool

	MaxRetries         int
	RetryDelay         time.Duration
	RetryBackoffFactor float64
	Timeout            time.Duration

	ConsecutiveFailures  int
	TotalDeliveries      int64
	SuccessfulDeliveries int64
	FailedDeliveries     int64

	LastDeliveryAt time.Time
	LastSuccessAt  time.Time
	LastFailureAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	// MinSecretLength keeps tenants from configuring guessable secrets
	MinSecretLength = 16

	DefaultMaxRetries         = 3
	DefaultRetryDelay         = 1 * time.Second
	DefaultRetryBackoffFactor = 2.0
	DefaultTimeout            = 30 * time.Second
)

// Validate checks the subscription configuration. Invalid configuration
// is rejected at registration time and never reaches delivery.
func (s Subscription) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant_id cannot be empty")
	}
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be absolute http(s): %s", s.URL)
	}
	if len(strings.TrimSpace(s.Secret)) < MinSecretLength {
		return fmt.Errorf("secret must be at least %d characters", MinSecretLength)
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, eventType := range s.EventTypes {
		if err := payload.ValidateEventType(eventType); err != nil {
			return fmt.Errorf("invalid event type %q: %w", eventType, err)
		}
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative")
	}
	if s.RetryBackoffFactor < 1 {
		return fmt.Errorf("retry_backoff_factor must be at least 1")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Matches reports whether the subscription receives the given event type.
func (s Subscription) Matches(eventType string) bool {
	return payload.MatchesAny(eventType, s.EventTypes)
}
