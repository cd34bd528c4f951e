package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/commercekit/eventrelay/registry"
	"github.com/commercekit/eventrelay/webhook"
	"github.com/commercekit/eventrelay/webhook/payload"
	"gopkg.in/yaml.v3"
)

/* Declarative provisioning from provision.yaml.
 * Subscriptions and service instances declared in the file are created
 * at boot so a fresh deployment serves traffic without any API calls.
 * Apply is idempotent: declarations already present are skipped.
 */

// Manifest represents the structure of provision.yaml
type Manifest struct {
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Services      []ServiceConfig      `yaml:"services"`
}

// SubscriptionConfig declares one webhook subscription.
type SubscriptionConfig struct {
	TenantID           string   `yaml:"tenant_id"`
	URL                string   `yaml:"url"`
	Secret             string   `yaml:"secret"` // generated when omitted
	EventTypes         []string `yaml:"event_types"`
	MaxRetries         *int     `yaml:"max_retries"`
	RetryDelayMillis   int      `yaml:"retry_delay_ms"`
	RetryBackoffFactor float64  `yaml:"retry_backoff_factor"`
	TimeoutSeconds     int      `yaml:"timeout_seconds"`
}

// ServiceConfig declares one service registry instance.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"`
}

// Loader parses and applies a provisioning manifest.
type Loader struct {
	manifest Manifest
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the provision YAML file.
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading provision file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses manifest bytes and validates every declaration.
func (l *Loader) Parse(data []byte) error {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing provision YAML: %w", err)
	}

	for i, sc := range manifest.Subscriptions {
		if err := validateSubscription(sc); err != nil {
			return fmt.Errorf("validating subscription %d: %w", i, err)
		}
	}
	for i, svc := range manifest.Services {
		instance := svc.instance()
		if err := instance.Validate(); err != nil {
			return fmt.Errorf("validating service %d: %w", i, err)
		}
	}

	l.manifest = manifest
	return nil
}

// Manifest returns the parsed manifest.
func (l *Loader) Manifest() Manifest {
	return l.manifest
}

func validateSubscription(sc SubscriptionConfig) error {
	if sc.TenantID == "" {
		return fmt.Errorf("tenant_id cannot be empty")
	}
	if sc.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if len(sc.EventTypes) == 0 {
		return fmt.Errorf("event_types cannot be empty")
	}
	for _, eventType := range sc.EventTypes {
		if err := payload.ValidateEventType(eventType); err != nil {
			return fmt.Errorf("invalid event_type '%s': %w", eventType, err)
		}
	}
	if sc.MaxRetries != nil && *sc.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

func (sc SubscriptionConfig) input() webhook.RegisterSubscriptionInput {
	return webhook.RegisterSubscriptionInput{
		TenantID:           sc.TenantID,
		URL:                sc.URL,
		Secret:             sc.Secret,
		EventTypes:         sc.EventTypes,
		MaxRetries:         sc.MaxRetries,
		RetryDelay:         time.Duration(sc.RetryDelayMillis) * time.Millisecond,
		RetryBackoffFactor: sc.RetryBackoffFactor,
		Timeout:            time.Duration(sc.TimeoutSeconds) * time.Second,
	}
}

func (sc ServiceConfig) instance() registry.Instance {
	transport := sc.Transport
	if transport == "" {
		transport = "http"
	}
	return registry.Instance{
		ServiceName: sc.Name,
		Version:     sc.Version,
		Host:        sc.Host,
		Port:        sc.Port,
		Transport:   transport,
	}
}

// Apply creates the declared subscriptions and registers the declared
// service instances. A subscription already present for the same
// tenant and URL is left untouched.
func (l *Loader) Apply(ctx context.Context, svc webhook.UseCase, reg *registry.Registry) error {
	for _, sc := range l.manifest.Subscriptions {
		existing, err := svc.ListSubscriptions(ctx, sc.TenantID)
		if err != nil {
			return fmt.Errorf("listing subscriptions for tenant %s: %w", sc.TenantID, err)
		}

		present := false
		for _, sub := range existing {
			if sub.URL == sc.URL {
				present = true
				break
			}
		}
		if present {
			continue
		}

		sub, err := svc.RegisterSubscription(ctx, sc.input())
		if err != nil {
			return fmt.Errorf("provisioning subscription %s: %w", sc.URL, err)
		}
		slog.Info("subscription provisioned",
			slog.String("code", "PROVISION_SUB"),
			slog.String("subscriptionId", sub.ID),
			slog.String("tenantId", sub.TenantID),
			slog.String("url", sub.URL),
		)
	}

	if reg != nil {
		for _, sc := range l.manifest.Services {
			instance := sc.instance()

			registered := false
			for _, existing := range reg.Instances(instance.ServiceName) {
				if existing.ID() == instance.ID() {
					registered = true
					break
				}
			}
			if registered {
				continue
			}

			if err := reg.Register(instance); err != nil {
				return fmt.Errorf("provisioning service %s: %w", instance.ID(), err)
			}
			slog.Info("service instance provisioned",
				slog.String("code", "PROVISION_SVC"),
				slog.String("instance", instance.ID()),
			)
		}
	}
	return nil
}
