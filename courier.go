package courier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/courier/delivery"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/janitor"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/payload"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/queue/memory"
	"github.com/xraph/courier/ratelimit"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/webhook"
)

// TestEvent is the event name used by TriggerTest.
const TestEvent = "test.event"

// Settings are the per-attempt delivery settings derived from Config.
type Settings = delivery.Settings

// Courier is the root webhook delivery service.
type Courier struct {
	mu     sync.RWMutex
	config Config

	store      store.Store
	queue      queue.Queue
	webhookSvc *webhook.Service
	engine     *delivery.Engine
	limiter    *ratelimit.Limiter
	janitor    *janitor.Janitor
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	httpClient *http.Client
	override   func(*Settings)
	logger     *slog.Logger

	stopped atomic.Bool
}

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	if c.queue == nil {
		c.queue = memory.New()
	}
	if err := c.wireServices(); err != nil {
		return nil, err
	}
	return c, nil
}

// wireServices initializes the internal services after options have been applied.
func (c *Courier) wireServices() error {
	c.webhookSvc = webhook.NewService(c.store, c.logger)

	c.limiter = ratelimit.New(c.rateLimitConfig(c.config), ratelimit.DefaultCacheSize)

	c.engine = delivery.NewEngine(c.store, c.queue, delivery.EngineConfig{
		Workers:    c.config.Workers,
		Settings:   c.settings,
		Limiter:    c.limiter,
		HTTPClient: c.httpClient,
		Metrics:    c.metrics,
		Tracer:     c.tracer,
	}, c.logger)

	schedule := c.config.Ledger.PurgeSchedule
	if schedule == "" {
		schedule = DefaultConfig().Ledger.PurgeSchedule
	}
	j, err := janitor.New(c.store, schedule, func() time.Duration {
		return c.Config().Ledger.Retention()
	}, c.logger)
	if err != nil {
		return err
	}
	c.janitor = j
	return nil
}

// settings derives the engine settings from the current configuration.
func (c *Courier) settings() Settings {
	cfg := c.Config()
	s := Settings{
		RetryDelay:         cfg.Delivery.RetryDelay(),
		BackoffMultiplier:  cfg.Delivery.RetryBackoffMultiplier,
		MaxRetryDelay:      cfg.Delivery.MaxRetryDelay(),
		Timeout:            cfg.Delivery.Timeout(),
		MaxPayloadBytes:    cfg.Delivery.MaxPayloadSizeKB * 1024,
		SignPayloads:       cfg.Security.SignPayloads,
		SignatureHeader:    cfg.Security.SignatureHeader,
		SignatureAlgorithm: cfg.Security.SignatureAlgorithm,
	}
	if c.override != nil {
		c.override(&s)
	}
	return s
}

func (c *Courier) rateLimitConfig(cfg Config) ratelimit.Config {
	return ratelimit.Config{
		Enabled:   cfg.RateLimiting.Enabled,
		PerMinute: cfg.RateLimiting.MaxPerMinute,
		PerHour:   cfg.RateLimiting.MaxPerHour,
	}
}

// Start recovers unfinished deliveries and begins delivering.
func (c *Courier) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrStopped
	}
	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	c.janitor.Start()
	c.logger.InfoContext(ctx, "courier started", "workers", c.Config().Workers)
	return nil
}

// Stop refuses new triggers, drops scheduled retries and waits for
// in-flight attempts. Without a deadline on ctx the wait is bounded by
// shutdown_timeout_seconds. Deliveries left pending resume on the next
// start of a new Courier over the same store.
func (c *Courier) Stop(ctx context.Context) error {
	if c.stopped.Swap(true) {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		if d := c.Config().ShutdownTimeout(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	err := c.engine.Stop(ctx)
	c.janitor.Stop()
	if qerr := c.queue.Close(); qerr != nil {
		c.logger.WarnContext(ctx, "close queue failed", "error", qerr)
	}
	if err != nil {
		return fmt.Errorf("courier: shutdown: %w", err)
	}
	c.logger.InfoContext(ctx, "courier stopped")
	return nil
}

// Register creates an active webhook and returns its ID.
func (c *Courier) Register(ctx context.Context, in webhook.Input) (id.ID, error) {
	w, err := c.webhookSvc.Register(ctx, in)
	if err != nil {
		return id.Nil, err
	}
	return w.ID, nil
}

// Update applies a partial update and returns the webhook, secret masked.
func (c *Courier) Update(ctx context.Context, whID id.ID, p webhook.Patch) (*webhook.Webhook, error) {
	return c.webhookSvc.Update(ctx, whID, p)
}

// Delete removes a webhook. Its pending deliveries fail as target unavailable
// and its rate-limit buckets are dropped.
func (c *Courier) Delete(ctx context.Context, whID id.ID) error {
	if err := c.webhookSvc.Delete(ctx, whID); err != nil {
		return err
	}
	c.limiter.Reset(whID.String())
	return nil
}

// Get returns a webhook with its secret masked, or ErrWebhookNotFound.
func (c *Courier) Get(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	return c.webhookSvc.Get(ctx, whID)
}

// List returns webhooks with secrets masked.
func (c *Courier) List(ctx context.Context, activeOnly bool) ([]*webhook.Webhook, error) {
	return c.webhookSvc.List(ctx, webhook.ListOpts{ActiveOnly: activeOnly})
}

// Trigger creates and enqueues one delivery for every active webhook
// subscribed to event. When webhookIDs is non-empty only those webhooks are
// considered. It returns the number of deliveries queued.
//
// Webhooks are read once up front, so a webhook registered while Trigger
// runs is not notified.
func (c *Courier) Trigger(ctx context.Context, event string, body any, webhookIDs ...id.ID) (int, error) {
	if c.stopped.Load() {
		return 0, ErrStopped
	}

	// Deliveries share one immutable copy of the payload.
	v, err := payload.FromAny(body)
	if err != nil {
		return 0, fmt.Errorf("courier: invalid payload: %w", err)
	}
	snapshot := payload.Interface(v)

	hooks, err := c.store.ListWebhooks(ctx, webhook.ListOpts{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("courier: list webhooks: %w", err)
	}

	var only map[id.ID]bool
	if len(webhookIDs) > 0 {
		only = make(map[id.ID]bool, len(webhookIDs))
		for _, whID := range webhookIDs {
			only[whID] = true
		}
	}

	maxAttempts := c.Config().Delivery.MaxRetries
	count := 0
	for _, wh := range hooks {
		if only != nil && !only[wh.ID] {
			continue
		}
		if !wh.Subscribed(event) {
			continue
		}

		d := &delivery.Delivery{
			Entity:        entity.New(),
			ID:            id.NewDeliveryID(),
			WebhookID:     wh.ID,
			Event:         event,
			Payload:       snapshot,
			Status:        delivery.StatusPending,
			MaxAttempts:   maxAttempts,
			NextAttemptAt: time.Now().UTC(),
		}
		if err := c.store.CreateDelivery(ctx, d); err != nil {
			c.metrics.RecordTrigger(count)
			return count, fmt.Errorf("courier: persist delivery: %w", err)
		}
		// A delivery persisted but not queued stays pending and is picked
		// up again on the next start.
		if err := c.queue.Enqueue(ctx, queue.Task{DeliveryID: d.ID, WebhookID: wh.ID}); err != nil {
			c.metrics.RecordTrigger(count)
			return count, fmt.Errorf("courier: enqueue delivery: %w", err)
		}
		count++
	}

	c.metrics.RecordTrigger(count)
	c.logger.DebugContext(ctx, "event triggered", "event", event, "deliveries", count)
	return count, nil
}

// TriggerTest sends a sample TestEvent to subscribed webhooks, optionally
// limited to webhookIDs.
func (c *Courier) TriggerTest(ctx context.Context, webhookIDs ...id.ID) (int, error) {
	return c.Trigger(ctx, TestEvent, map[string]any{
		"event":     TestEvent,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   "This is a test webhook event",
		"data": map[string]any{
			"test":   true,
			"source": "courier",
		},
	}, webhookIDs...)
}

// Reconfigure validates and applies cfg. Delivery settings take effect on
// the next attempt; max_retries applies to deliveries created afterwards.
// The worker count is fixed at construction.
func (c *Courier) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Ledger.PurgeSchedule != "" {
		if err := c.janitor.SetSchedule(cfg.Ledger.PurgeSchedule); err != nil {
			return err
		}
	}

	c.mu.Lock()
	old := c.config
	c.config = cfg
	c.mu.Unlock()

	c.limiter.SetConfig(c.rateLimitConfig(cfg))
	if old.Workers != cfg.Workers {
		c.logger.Warn("worker count change requires a restart",
			"workers", old.Workers, "requested", cfg.Workers)
	}
	c.logger.Info("configuration applied")
	return nil
}

// Config returns a copy of the current configuration.
func (c *Courier) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// Webhooks returns the webhook management service.
func (c *Courier) Webhooks() *webhook.Service {
	return c.webhookSvc
}

// Store returns the underlying store.
func (c *Courier) Store() store.Store {
	return c.store
}

// Delivery returns one ledger record.
func (c *Courier) Delivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	return c.store.GetDelivery(ctx, delID)
}

// Deliveries lists ledger records, newest first.
func (c *Courier) Deliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	return c.store.ListDeliveries(ctx, opts)
}

// Scheduled returns the number of deliveries waiting for a retry delay.
func (c *Courier) Scheduled() int {
	return c.engine.Scheduled()
}

// PurgeDeliveries runs ledger retention now.
func (c *Courier) PurgeDeliveries(ctx context.Context) (int, error) {
	return c.janitor.RunOnce(ctx)
}

// RotateSecret replaces a webhook's signing secret and returns the new one.
func (c *Courier) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	return c.webhookSvc.RotateSecret(ctx, whID)
}
