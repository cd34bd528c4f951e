package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa*/

type Config struct {
	Port          string `mapstructure:"PORT"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Empty disables boot provisioning
	ProvisionFile string `mapstructure:"PROVISION_FILE"`

	WorkerDeliveryConcurrency    int `mapstructure:"WORKER_DELIVERY_CONCURRENCY"`
	WorkerEventConcurrency       int `mapstructure:"WORKER_EVENT_CONCURRENCY"`
	WorkerHealthCheckConcurrency int `mapstructure:"WORKER_HEALTHCHECK_CONCURRENCY"`
	WorkerCleanupConcurrency     int `mapstructure:"WORKER_CLEANUP_CONCURRENCY"`

	HealthCheckIntervalSeconds int `mapstructure:"HEALTHCHECK_INTERVAL_SECONDS"`
	CleanupIntervalSeconds     int `mapstructure:"CLEANUP_INTERVAL_SECONDS"`

	MaxDeliveryLifetimeHours int `mapstructure:"MAX_DELIVERY_LIFETIME_HOURS"`
	RetentionDays            int `mapstructure:"RETENTION_DAYS"`

	BreakerFailureThreshold int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerCooldownSeconds  int `mapstructure:"BREAKER_COOLDOWN_SECONDS"`
	ProbeIntervalSeconds    int `mapstructure:"PROBE_INTERVAL_SECONDS"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PROVISION_FILE", "")
	viper.SetDefault("WORKER_DELIVERY_CONCURRENCY", 5)
	viper.SetDefault("WORKER_EVENT_CONCURRENCY", 3)
	viper.SetDefault("WORKER_HEALTHCHECK_CONCURRENCY", 2)
	viper.SetDefault("WORKER_CLEANUP_CONCURRENCY", 1)
	viper.SetDefault("HEALTHCHECK_INTERVAL_SECONDS", 30)
	viper.SetDefault("CLEANUP_INTERVAL_SECONDS", 300)
	viper.SetDefault("MAX_DELIVERY_LIFETIME_HOURS", 24)
	viper.SetDefault("RETENTION_DAYS", 30)
	viper.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	viper.SetDefault("BREAKER_COOLDOWN_SECONDS", 30)
	viper.SetDefault("PROBE_INTERVAL_SECONDS", 10)

	if err := viper.ReadInConfig(); err != nil {
		// The .env file is optional; env vars and defaults still apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// MaxDeliveryLifetime returns the expiry sweep cutoff as a duration.
func (c *Config) MaxDeliveryLifetime() time.Duration {
	return time.Duration(c.MaxDeliveryLifetimeHours) * time.Hour
}

// RetentionWindow returns the purge cutoff as a duration.
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HealthCheckInterval returns how often health rechecks are enqueued.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// CleanupInterval returns how often sweeps are enqueued.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// BreakerCooldown returns the open-state cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// ProbeInterval returns the registry probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}
