package webhook

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/internal/entity"
	"github.com/xraph/courier/payload"
	"github.com/xraph/courier/signature"
)

// updateStripes is the number of locks updates of distinct webhooks spread over.
const updateStripes = 64

// Service provides webhook management operations.
type Service struct {
	store  Store
	logger *slog.Logger

	// Updates read, patch and write back the whole record, so updates of
	// one webhook must not interleave.
	locks [updateStripes]sync.Mutex
}

// NewService creates a new webhook service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Register validates in and persists a new active webhook. The returned
// webhook carries the real secret so the caller can hand it out once.
func (svc *Service) Register(ctx context.Context, in Input) (*Webhook, error) {
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}

	w := &Webhook{
		Entity:      entity.New(),
		ID:          id.NewWebhookID(),
		URL:         in.URL,
		Description: in.Description,
		Format:      normalizeFormat(in.Format),
		Headers:     in.Headers,
		Events:      in.Events,
		Secret:      in.Secret,
		Active:      true,
	}
	if w.Description == "" {
		w.Description = "Webhook registered on " + w.CreatedAt.Format(time.RFC3339)
	}
	if len(w.Events) == 0 {
		w.Events = append([]string(nil), DefaultEvents...)
	}
	if w.Headers == nil {
		w.Headers = map[string]string{}
	}
	if w.Secret == "" {
		w.Secret = signature.GenerateSecret()
	}
	if _, ok := payload.ParseKind(w.Format); !ok {
		svc.logger.WarnContext(ctx, "unknown webhook format, deliveries will use json",
			"webhook_id", w.ID, "format", w.Format)
	}

	if err := svc.store.CreateWebhook(ctx, w); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "webhook registered", "webhook_id", w.ID, "url", w.URL)
	return w, nil
}

// Get returns a webhook by ID with its secret masked.
func (svc *Service) Get(ctx context.Context, whID id.ID) (*Webhook, error) {
	w, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}
	return w.Masked(), nil
}

// Update applies p to an existing webhook and returns the masked result.
func (svc *Service) Update(ctx context.Context, whID id.ID, p Patch) (*Webhook, error) {
	mu := svc.lockFor(whID)
	mu.Lock()
	defer mu.Unlock()

	w, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	if p.URL != nil {
		if err := validateURL(*p.URL); err != nil {
			return nil, err
		}
		w.URL = *p.URL
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if p.Format != nil {
		w.Format = normalizeFormat(*p.Format)
	}
	if p.Headers != nil {
		w.Headers = p.Headers
	}
	if p.Events != nil {
		w.Events = p.Events
	}
	if p.Secret != nil {
		w.Secret = *p.Secret
	}
	if p.Active != nil {
		w.Active = *p.Active
	}
	w.Touch()

	if err := svc.store.UpdateWebhook(ctx, w); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "webhook updated", "webhook_id", whID)
	return w.Masked(), nil
}

// Delete removes a webhook. Pending deliveries to it fail when next picked up.
func (svc *Service) Delete(ctx context.Context, whID id.ID) error {
	if err := svc.store.DeleteWebhook(ctx, whID); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "webhook deleted", "webhook_id", whID)
	return nil
}

// List returns webhooks with their secrets masked.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Webhook, error) {
	ws, err := svc.store.ListWebhooks(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*Webhook, len(ws))
	for i, w := range ws {
		out[i] = w.Masked()
	}
	return out, nil
}

// SetActive activates or deactivates a webhook.
func (svc *Service) SetActive(ctx context.Context, whID id.ID, active bool) error {
	_, err := svc.Update(ctx, whID, Patch{Active: &active})
	return err
}

// RotateSecret generates a new signing secret and returns it unmasked.
func (svc *Service) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	secret := signature.GenerateSecret()
	if _, err := svc.Update(ctx, whID, Patch{Secret: &secret}); err != nil {
		return "", err
	}
	return secret, nil
}

func (svc *Service) lockFor(whID id.ID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(whID.String()))
	return &svc.locks[h.Sum32()%updateStripes]
}

func validateURL(u string) error {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return &ValidationError{Field: "url", Message: "must start with http:// or https://", Err: ErrInvalidURL}
	}
	return nil
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	if f == "" {
		return string(payload.JSON)
	}
	return f
}
