package courier

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds the configuration for a Courier instance. Field tags match
// the keys of the configuration file.
type Config struct {
	// Workers is the number of delivery worker goroutines.
	Workers int `json:"workers" yaml:"workers"`

	// ShutdownTimeoutSeconds bounds how long Stop waits for in-flight
	// attempts when its context has no deadline.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`

	Delivery     DeliveryConfig  `json:"delivery" yaml:"delivery"`
	Security     SecurityConfig  `json:"security" yaml:"security"`
	RateLimiting RateLimitConfig `json:"rate_limiting" yaml:"rate_limiting"`
	Ledger       LedgerConfig    `json:"ledger" yaml:"ledger"`
}

// DeliveryConfig controls attempts, retries and timeouts.
type DeliveryConfig struct {
	// MaxRetries is the attempt ceiling captured by each new delivery.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	RetryDelaySeconds int `json:"retry_delay_seconds" yaml:"retry_delay_seconds"`
	TimeoutSeconds    int `json:"timeout_seconds" yaml:"timeout_seconds"`

	// MaxPayloadSizeKB rejects larger formatted bodies. 0 disables the check.
	MaxPayloadSizeKB int `json:"max_payload_size_kb" yaml:"max_payload_size_kb"`

	// RetryBackoffMultiplier grows the delay per attempt. 1 keeps it fixed.
	RetryBackoffMultiplier float64 `json:"retry_backoff_multiplier" yaml:"retry_backoff_multiplier"`
	MaxRetryDelaySeconds   int     `json:"max_retry_delay_seconds" yaml:"max_retry_delay_seconds"`
}

// SecurityConfig controls payload signing.
type SecurityConfig struct {
	SignPayloads       bool   `json:"sign_payloads" yaml:"sign_payloads"`
	SignatureHeader    string `json:"signature_header" yaml:"signature_header"`
	SignatureAlgorithm string `json:"signature_algorithm" yaml:"signature_algorithm"`
}

// RateLimitConfig caps attempts per webhook.
type RateLimitConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	MaxPerMinute int  `json:"max_per_minute" yaml:"max_per_minute"`
	MaxPerHour   int  `json:"max_per_hour" yaml:"max_per_hour"`
}

// LedgerConfig controls retention of final deliveries.
type LedgerConfig struct {
	// RetentionDays is how long final deliveries are kept. 0 keeps them forever.
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
	PurgeSchedule string `json:"purge_schedule" yaml:"purge_schedule"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:                2,
		ShutdownTimeoutSeconds: 30,
		Delivery: DeliveryConfig{
			MaxRetries:             3,
			RetryDelaySeconds:      60,
			TimeoutSeconds:         10,
			MaxPayloadSizeKB:       512,
			RetryBackoffMultiplier: 1,
			MaxRetryDelaySeconds:   3600,
		},
		Security: SecurityConfig{
			SignPayloads:       true,
			SignatureHeader:    "X-Courier-Signature",
			SignatureAlgorithm: "sha256",
		},
		RateLimiting: RateLimitConfig{
			Enabled:      true,
			MaxPerMinute: 60,
			MaxPerHour:   1000,
		},
		Ledger: LedgerConfig{
			RetentionDays: 30,
			PurgeSchedule: "@daily",
		},
	}
}

// Validate reports every invalid setting. An unrecognized signature
// algorithm is accepted; deliveries fall back to sha256.
func (c Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{key}, args...)...))
	}

	if c.Workers < 1 {
		bad("workers", "must be at least 1, got %d", c.Workers)
	}
	if c.ShutdownTimeoutSeconds < 0 {
		bad("shutdown_timeout_seconds", "must not be negative")
	}

	d := c.Delivery
	if d.MaxRetries < 1 {
		bad("delivery.max_retries", "must be at least 1, got %d", d.MaxRetries)
	}
	if d.RetryDelaySeconds < 0 {
		bad("delivery.retry_delay_seconds", "must not be negative")
	}
	if d.TimeoutSeconds < 1 {
		bad("delivery.timeout_seconds", "must be at least 1, got %d", d.TimeoutSeconds)
	}
	if d.MaxPayloadSizeKB < 0 {
		bad("delivery.max_payload_size_kb", "must not be negative")
	}
	if d.RetryBackoffMultiplier < 1 {
		bad("delivery.retry_backoff_multiplier", "must be at least 1, got %g", d.RetryBackoffMultiplier)
	}
	if d.MaxRetryDelaySeconds < 0 {
		bad("delivery.max_retry_delay_seconds", "must not be negative")
	}

	if c.Security.SignPayloads && c.Security.SignatureHeader == "" {
		bad("security.signature_header", "is required when signing is enabled")
	}

	if c.RateLimiting.MaxPerMinute < 0 || c.RateLimiting.MaxPerHour < 0 {
		bad("rate_limiting", "limits must not be negative")
	}

	if c.Ledger.RetentionDays < 0 {
		bad("ledger.retention_days", "must not be negative")
	}
	if c.Ledger.PurgeSchedule != "" {
		if _, err := cron.ParseStandard(c.Ledger.PurgeSchedule); err != nil {
			bad("ledger.purge_schedule", "%v", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// RetryDelay returns the base delay before a retry.
func (d DeliveryConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelaySeconds) * time.Second
}

// Timeout returns the per-attempt HTTP timeout.
func (d DeliveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// MaxRetryDelay returns the cap on a grown retry delay.
func (d DeliveryConfig) MaxRetryDelay() time.Duration {
	return time.Duration(d.MaxRetryDelaySeconds) * time.Second
}

// ShutdownTimeout returns the default bound on Stop.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Retention returns how long final deliveries are kept.
func (l LedgerConfig) Retention() time.Duration {
	return time.Duration(l.RetentionDays) * 24 * time.Hour
}
