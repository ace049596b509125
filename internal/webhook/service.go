// Package webhook delivers lead events to owner-registered endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sells-group/leadwatch/internal/model"
	"github.com/sells-group/leadwatch/internal/resilience"
)

// Store is the endpoint registry.
type Store interface {
	ListWebhooks(ctx context.Context, ownerID string) ([]model.WebhookEndpoint, error)
	TouchWebhook(ctx context.Context, webhookID string, at time.Time) error
}

// Config tunes delivery.
type Config struct {
	Timeout          time.Duration
	MaxAttempts      uint
	RetryDelay       time.Duration
	FailureThreshold int
	ResetTimeout     time.Duration
	AppURL           string
}

// Service fans events out to matching endpoints. Each endpoint has its own
// circuit breaker so a dead receiver stops costing retries.
type Service struct {
	store    Store
	http     *http.Client
	breakers *resilience.Breakers
	cfg      Config
	now      func() time.Time
}

// NewService creates a webhook Service.
func NewService(store Store, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Service{
		store:    store,
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: resilience.NewBreakers(resilience.FromCircuitConfig(cfg.FailureThreshold, int(cfg.ResetTimeout/time.Second))),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Broadcast sends event for lead to every active endpoint of the lead's
// owner that accepts it and is not rate limited. It returns how many
// endpoints received the event; delivery failures are combined into err.
func (s *Service) Broadcast(ctx context.Context, event string, lead *model.PersistedLead, priority model.Priority) (int, error) {
	log := zap.L().With(
		zap.String("owner_id", lead.OwnerID),
		zap.String("subscription_id", lead.SubscriptionID),
		zap.String("url", lead.URL),
		zap.String("priority", string(priority)),
	)

	hooks, err := s.store.ListWebhooks(ctx, lead.OwnerID)
	if err != nil {
		return 0, eris.Wrap(err, "webhook: list endpoints")
	}

	now := s.now()
	ev := NewEvent(event, lead, priority, now)

	var (
		sent int
		errs error
	)
	for _, h := range hooks {
		if !h.Accepts(event, *lead, priority) {
			continue
		}
		if h.RateLimited(now) {
			log.Debug("webhook: endpoint rate limited", zap.String("webhook_id", h.ID))
			continue
		}

		body, err := json.Marshal(Format(h.Type, ev, s.cfg.AppURL))
		if err != nil {
			errs = multierr.Append(errs, eris.Wrapf(err, "webhook: marshal payload for %s", h.ID))
			continue
		}

		err = s.breakers.Get(h.ID).Execute(ctx, func(ctx context.Context) error {
			return s.deliver(ctx, h, body)
		})
		if err != nil {
			log.Warn("webhook: delivery failed", zap.String("webhook_id", h.ID), zap.Error(err))
			errs = multierr.Append(errs, eris.Wrapf(err, "webhook: deliver to %s", h.ID))
			continue
		}

		sent++
		if err := s.store.TouchWebhook(ctx, h.ID, now); err != nil {
			log.Warn("webhook: failed to record delivery", zap.String("webhook_id", h.ID), zap.Error(err))
		}
		log.Info("webhook: delivered", zap.String("webhook_id", h.ID), zap.String("type", string(h.Type)))
	}
	return sent, errs
}

// deliver POSTs body to the endpoint, retrying transport errors and
// transient statuses.
func (s *Service) deliver(ctx context.Context, h model.WebhookEndpoint, body []byte) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(eris.Wrap(err, "webhook: create request"))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("User-Agent", "LeadWatch-Webhook/1.0")

			resp, err := s.http.Do(req)
			if err != nil {
				return eris.Wrap(err, "webhook: send")
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body) //nolint:errcheck

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = resilience.StatusError("webhook", resp.StatusCode)
			if !resilience.IsTransient(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(s.cfg.MaxAttempts),
		retry.Delay(s.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(s.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			zap.L().Info("webhook: retrying delivery",
				zap.String("webhook_id", h.ID), zap.Uint("attempt", n), zap.Error(err))
		}),
	)
}
