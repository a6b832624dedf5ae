// Package delivery implements the delivery ledger contract and the worker
// pool that attempts, signs, retries and finalizes webhook deliveries.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/payload"
	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/signature"
	"github.com/xraph/courier/webhook"
)

// Standard headers set on every delivery.
const (
	HeaderEvent    = "X-Courier-Event"
	HeaderDelivery = "X-Courier-Delivery"
)

// Settings are the delivery knobs. The engine reads them before every
// attempt, so a configuration reload applies to the next attempt.
type Settings struct {
	RetryDelay         time.Duration
	BackoffMultiplier  float64
	MaxRetryDelay      time.Duration
	Timeout            time.Duration
	MaxPayloadBytes    int
	SignPayloads       bool
	SignatureHeader    string
	SignatureAlgorithm string
}

// DefaultLeaseMargin is added to the attempt timeout to form the claim
// lease when EngineConfig.ClaimLease is zero.
const DefaultLeaseMargin = 30 * time.Second

// Limiter postpones attempts to webhooks over their rate budget. Reserve
// returns zero when the attempt may proceed now, or the wait otherwise.
type Limiter interface {
	Reserve(key string) time.Duration
}

// EngineStore is the persistence the engine needs.
type EngineStore interface {
	Store
	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
	RecordAttempt(ctx context.Context, whID id.ID) error
	RecordOutcome(ctx context.Context, whID id.ID, success bool, at time.Time) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Workers  int
	Settings func() Settings

	// ClaimLease is how long an in-flight claim is honoured before another
	// engine may recover it. Zero derives it from the attempt timeout.
	ClaimLease time.Duration


	Limiter    Limiter
	HTTPClient *http.Client
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Engine is the fixed-size worker pool draining the delivery queue.
type Engine struct {
	store  EngineStore
	queue  queue.Queue
	sender *Sender
	config EngineConfig
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	scheduler *Scheduler
	cancel    context.CancelFunc
	abort     context.CancelFunc
	wg        sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, q queue.Queue, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Settings == nil {
		cfg.Settings = func() Settings { return Settings{RetryDelay: time.Minute, Timeout: 10 * time.Second} }
	}
	e := &Engine{
		store:  store,
		queue:  q,
		sender: NewSender(cfg.HTTPClient),
		config: cfg,
		logger: logger,
	}
	e.scheduler = e.newScheduler()
	return e
}

func (e *Engine) newScheduler() *Scheduler {
	s := NewScheduler(e.queue, e.logger)
	s.observe = e.config.Metrics.SetScheduled
	return s
}

// Start recovers unfinished deliveries and launches the workers.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	recovered, err := e.store.RecoverInFlight(ctx, time.Now().UTC().Add(-e.lease()))
	if err != nil {
		return fmt.Errorf("courier: recover in-flight deliveries: %w", err)
	}
	pending, err := e.store.PendingDeliveries(ctx)
	if err != nil {
		return fmt.Errorf("courier: load pending deliveries: %w", err)
	}

	e.scheduler = e.newScheduler()
	e.scheduler.Start()

	now := time.Now()
	for _, d := range pending {
		t := queue.Task{DeliveryID: d.ID, WebhookID: d.WebhookID}
		if d.NextAttemptAt.After(now) {
			e.scheduler.Schedule(t, d.NextAttemptAt)
			continue
		}
		if err := e.queue.Enqueue(ctx, t); err != nil {
			e.scheduler.Stop()
			return fmt.Errorf("courier: requeue pending delivery: %w", err)
		}
	}
	if len(recovered) > 0 || len(pending) > 0 {
		e.logger.InfoContext(ctx, "resumed unfinished deliveries",
			"recovered_in_flight", len(recovered), "pending", len(pending))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	workCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel, e.abort = cancel, abort
	e.running = true

	for range e.config.Workers {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.work(loopCtx, workCtx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reap(loopCtx)
	}()
	return nil
}

// lease returns how long a claim stays valid.
func (e *Engine) lease() time.Duration {
	if e.config.ClaimLease > 0 {
		return e.config.ClaimLease
	}
	return e.config.Settings().Timeout + DefaultLeaseMargin
}

// reap periodically recovers claims whose lease expired, e.g. those of a
// process that died mid-attempt, and queues them again.
func (e *Engine) reap(ctx context.Context) {
	for {
		lease := e.lease()
		t := time.NewTimer(lease / 2)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		recovered, err := e.store.RecoverInFlight(ctx, time.Now().UTC().Add(-lease))
		if err != nil {
			if ctx.Err() == nil {
				e.logger.ErrorContext(ctx, "recover expired claims failed", "error", err)
			}
			continue
		}
		for _, d := range recovered {
			e.logger.WarnContext(ctx, "claim expired, delivery requeued",
				"delivery_id", d.ID, "webhook_id", d.WebhookID)
			e.requeue(ctx, d)
		}
	}
}

// requeue queues a pending delivery, through the scheduler when it is not
// yet due.
func (e *Engine) requeue(ctx context.Context, d *Delivery) {
	e.mu.Lock()
	sched := e.scheduler
	e.mu.Unlock()

	t := queue.Task{DeliveryID: d.ID, WebhookID: d.WebhookID}
	if d.NextAttemptAt.After(time.Now()) {
		sched.Schedule(t, d.NextAttemptAt)
		return
	}
	if err := e.queue.Enqueue(ctx, t); err != nil {
		e.logger.ErrorContext(ctx, "requeue delivery failed", "delivery_id", d.ID, "error", err)
	}
}

// Stop stops taking tasks, drops scheduled retries and waits for in-flight
// attempts. If ctx ends first the attempts are aborted and ctx.Err() is
// returned; their deliveries are recovered on the next Start.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, abort := e.cancel, e.abort
	e.mu.Unlock()

	cancel()
	e.scheduler.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		abort()
		return nil
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}
}

// Scheduled returns the number of deliveries waiting for a retry delay.
func (e *Engine) Scheduled() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler.Len()
}

func (e *Engine) work(loopCtx, workCtx context.Context) {
	for {
		t, err := e.queue.Dequeue(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			e.logger.ErrorContext(loopCtx, "dequeue failed", "error", err)
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		e.process(workCtx, t)
	}
}

// process claims and attempts a single delivery.
func (e *Engine) process(ctx context.Context, t queue.Task) {
	d, claimed, err := e.store.ClaimDelivery(ctx, t.DeliveryID)
	if err != nil {
		e.logger.ErrorContext(ctx, "claim delivery failed", "delivery_id", t.DeliveryID, "error", err)
		return
	}
	if !claimed {
		e.logger.DebugContext(ctx, "delivery not claimable, dropping task", "delivery_id", t.DeliveryID)
		return
	}

	s := e.config.Settings()
	retrier := NewRetrier(s.RetryDelay, s.BackoffMultiplier, s.MaxRetryDelay)

	// A task that arrives early, e.g. a duplicate left in a shared queue,
	// waits for the recorded retry time.
	if wait := time.Until(d.NextAttemptAt); wait > 0 {
		e.release(ctx, d, d.StatusMessage, d.NextAttemptAt)
		return
	}

	attempted := false
	var span trace.Span
	defer func() {
		if rec := recover(); rec != nil {
			if span != nil {
				e.config.Tracer.EndAttemptSpan(span, 0, 0, fmt.Sprint(rec))
			}
			e.logger.ErrorContext(ctx, "delivery attempt panicked",
				"delivery_id", d.ID, "panic", rec, "stack", string(debug.Stack()))
			if !attempted {
				if n, incErr := e.store.IncrementAttempts(ctx, d.ID); incErr == nil {
					d.Attempts = n
				}
			}
			e.settle(ctx, d, Result{Error: fmt.Sprintf("internal error: %v", rec)}, false, retrier)
		}
	}()

	wh, err := e.store.GetWebhook(ctx, d.WebhookID)
	if errors.Is(err, webhook.ErrNotFound) {
		e.complete(ctx, d, StatusFailed, MessageTargetUnavailable, false)
		return
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "get webhook failed", "delivery_id", d.ID, "webhook_id", d.WebhookID, "error", err)
		e.release(ctx, d, d.StatusMessage, time.Now().UTC().Add(retrier.Delay(d.Attempts)))
		return
	}

	if d.Attempts >= d.MaxAttempts {
		e.complete(ctx, d, StatusFailed, MessageExhausted, true)
		return
	}

	if e.config.Limiter != nil {
		if wait := e.config.Limiter.Reserve(wh.ID.String()); wait > 0 {
			e.config.Metrics.RecordRateLimited()
			e.logger.DebugContext(ctx, "delivery rate limited",
				"delivery_id", d.ID, "webhook_id", wh.ID, "wait", wait)
			e.release(ctx, d, MessageRateLimited, time.Now().UTC().Add(wait))
			return
		}
	}

	n, err := e.store.IncrementAttempts(ctx, d.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "record attempt failed", "delivery_id", d.ID, "error", err)
		e.release(ctx, d, d.StatusMessage, time.Now().UTC().Add(retrier.Delay(d.Attempts)))
		return
	}
	d.Attempts = n
	attempted = true
	if err := e.store.RecordAttempt(ctx, wh.ID); err != nil {
		e.logger.WarnContext(ctx, "update webhook attempt count failed", "webhook_id", wh.ID, "error", err)
	}

	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartAttemptSpan(ctx, d.ID.String(), wh.ID.String(), d.Event, d.Attempts)
	}

	res, permanent := e.send(ctx, wh, d, s)

	if span != nil {
		e.config.Tracer.EndAttemptSpan(span, res.StatusCode, res.LatencyMs, res.Error)
		span = nil
	}

	e.settle(ctx, d, res, permanent, retrier)
}

// send formats, signs and posts the payload. It reports permanent when the
// body itself is unusable, which no retry can fix.
func (e *Engine) send(ctx context.Context, wh *webhook.Webhook, d *Delivery, s Settings) (Result, bool) {
	body, kind, err := payload.Format(d.Payload, wh.Format)
	if _, ok := payload.ParseKind(wh.Format); !ok {
		e.logger.WarnContext(ctx, "unknown webhook format, falling back to json",
			"webhook_id", wh.ID, "format", wh.Format)
	}
	if err != nil {
		return Result{Error: "format payload: " + err.Error()}, true
	}
	if s.MaxPayloadBytes > 0 && len(body) > s.MaxPayloadBytes {
		return Result{Error: fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", len(body), s.MaxPayloadBytes)}, true
	}

	header := http.Header{}
	header.Set("Content-Type", payload.ContentType(kind))
	header.Set("User-Agent", UserAgent)
	header.Set(HeaderEvent, d.Event)
	header.Set(HeaderDelivery, d.ID.String())
	for k, v := range wh.Headers {
		header.Set(k, v)
	}

	if s.SignPayloads && wh.Secret != "" {
		alg, algErr := signature.ParseAlgorithm(s.SignatureAlgorithm)
		if algErr != nil {
			e.logger.WarnContext(ctx, "unsupported signature algorithm, using sha256",
				"algorithm", s.SignatureAlgorithm)
		}
		header.Set(s.SignatureHeader, signature.Sign(body, wh.Secret, alg))
	}

	return e.sender.Send(ctx, wh.URL, body, header, s.Timeout), false
}

// settle records the result of an attempt and retries or finalizes.
func (e *Engine) settle(ctx context.Context, d *Delivery, res Result, permanent bool, retrier *Retrier) {
	d.LastStatusCode = res.StatusCode
	msg := res.Message()
	latency := float64(res.LatencyMs) / 1000.0

	decision := retrier.Decide(res, d)
	if permanent && decision == Retry {
		decision = Exhausted
	}

	switch decision {
	case Delivered:
		e.config.Metrics.RecordAttempt("success", latency)
		e.complete(ctx, d, StatusDelivered, msg, true)

	case Retry:
		e.config.Metrics.RecordAttempt("retry", latency)
		next := time.Now().UTC().Add(retrier.Delay(d.Attempts))
		e.logger.WarnContext(ctx, "delivery attempt failed, retry scheduled",
			"delivery_id", d.ID, "webhook_id", d.WebhookID, "attempt", d.Attempts,
			"max_attempts", d.MaxAttempts, "next_attempt_at", next, "status", msg)
		e.release(ctx, d, msg, next)

	case Exhausted:
		e.config.Metrics.RecordAttempt("failed", latency)
		e.complete(ctx, d, StatusFailed, msg, true)
	}
}

// complete finalizes d. Stats are only touched when the ledger accepted the
// transition, so a delivery is counted at most once.
func (e *Engine) complete(ctx context.Context, d *Delivery, status Status, msg string, withStats bool) {
	now := time.Now().UTC()
	d.Status = status
	d.StatusMessage = msg
	d.CompletedAt = &now

	if err := e.store.CompleteDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "finalize delivery failed",
			"delivery_id", d.ID, "status", status, "error", err)
		return
	}
	e.config.Metrics.RecordFinal(string(status))

	if withStats {
		err := e.store.RecordOutcome(ctx, d.WebhookID, status == StatusDelivered, now)
		if err != nil && !errors.Is(err, webhook.ErrNotFound) {
			e.logger.WarnContext(ctx, "update webhook stats failed", "webhook_id", d.WebhookID, "error", err)
		}
	}

	if status == StatusDelivered {
		e.logger.InfoContext(ctx, "webhook delivered",
			"delivery_id", d.ID, "webhook_id", d.WebhookID, "attempts", d.Attempts, "status", msg)
		return
	}
	e.logger.WarnContext(ctx, "webhook delivery failed",
		"delivery_id", d.ID, "webhook_id", d.WebhookID, "attempts", d.Attempts, "status", msg)
}

// release returns d to pending and schedules it for next.
func (e *Engine) release(ctx context.Context, d *Delivery, msg string, next time.Time) {
	d.Status = StatusPending
	d.StatusMessage = msg
	d.NextAttemptAt = next

	if err := e.store.ReleaseDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "release delivery failed", "delivery_id", d.ID, "error", err)
		return
	}

	e.mu.Lock()
	sched := e.scheduler
	e.mu.Unlock()

	t := queue.Task{DeliveryID: d.ID, WebhookID: d.WebhookID}
	if !sched.Schedule(t, next) {
		e.logger.DebugContext(ctx, "engine stopping, delivery left pending", "delivery_id", d.ID)
	}
}
