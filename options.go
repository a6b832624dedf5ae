package courier

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
)

// Option configures a Courier instance.
type Option func(*Courier) error

// WithStore sets the persistence backend for the Courier instance.
func WithStore(s store.Store) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}

// WithQueue sets the delivery queue. The default is an in-process queue.
func WithQueue(q queue.Queue) Option {
	return func(c *Courier) error {
		c.queue = q
		return nil
	}
}

// WithLogger sets the structured logger for the Courier instance.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. It is validated by New.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		c.config = cfg
		return nil
	}
}

// WithWorkers sets the number of delivery worker goroutines.
func WithWorkers(n int) Option {
	return func(c *Courier) error {
		c.config.Workers = n
		return nil
	}
}

// WithMaxRetries sets the attempt ceiling for new deliveries.
func WithMaxRetries(n int) Option {
	return func(c *Courier) error {
		c.config.Delivery.MaxRetries = n
		return nil
	}
}

// WithRetryDelay sets the delay before a retry, rounded to whole seconds.
// See WithSettingsOverride for sub-second delays.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.Delivery.RetryDelaySeconds = int(d / time.Second)
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt, rounded to
// whole seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Courier) error {
		c.config.Delivery.TimeoutSeconds = int(d / time.Second)
		return nil
	}
}

// WithHTTPClient sets the client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Courier) error {
		c.httpClient = client
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Courier) error {
		c.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans around delivery attempts.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Courier) error {
		c.tracer = t
		return nil
	}
}

// WithSettingsOverride adjusts the engine settings derived from the
// configuration before every attempt. It exists for sub-second retry
// delays and timeouts, which the configuration file cannot express.
func WithSettingsOverride(fn func(*Settings)) Option {
	return func(c *Courier) error {
		c.override = fn
		return nil
	}
}
