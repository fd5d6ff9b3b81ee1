package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/minutes/pkg/logger"
	"github.com/dmitrymomot/minutes/pkg/outbox"
)

// Enqueuer records payloads in the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...outbox.EnqueueOption) (*outbox.Record, error)
}

// WebhookResult describes what happened to a delivered webhook.
type WebhookResult struct {
	Event     *SubscriptionEvent
	Ignored   bool
	Duplicate bool
}

// Service turns billing webhooks into plan change records and creates
// checkouts.
type Service struct {
	provider    Provider
	dedup       Deduper
	outbox      Enqueuer
	log         *slog.Logger
	redirectURL string
}

type ServiceOption func(*Service)

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func WithDeduper(d Deduper) ServiceOption {
	return func(s *Service) { s.dedup = d }
}

func WithCheckoutRedirectURL(u string) ServiceOption {
	return func(s *Service) { s.redirectURL = u }
}

func NewService(provider Provider, enq Enqueuer, opts ...ServiceOption) *Service {
	s := &Service{
		provider: provider,
		outbox:   enq,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dedup == nil {
		s.dedup = NewMemoryDeduper(defaultDedupTTL)
	}
	s.log = s.log.With(logger.Component("billing"), logger.Provider(provider.Name()))
	return s
}

// HandleWebhook verifies and maps a webhook, then records exactly one plan
// change for it. Signature and payload errors are returned to the caller;
// irrelevant and repeated events are reported in the result.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookResult, error) {
	ev, err := s.provider.ParseWebhook(ctx, payload, header)
	if errors.Is(err, ErrIgnoredEvent) {
		s.log.DebugContext(ctx, "billing event ignored", logger.Error(err))
		return &WebhookResult{Ignored: true}, nil
	}
	if err != nil {
		s.log.WarnContext(ctx, "billing webhook rejected", logger.Error(err))
		return nil, err
	}

	log := s.log.With(logger.EventID(ev.ID), logger.EventType(string(ev.Type)), logger.UserID(ev.UserID))

	claimed, err := s.dedup.Claim(ctx, ev.ID)
	if err != nil {
		log.ErrorContext(ctx, "billing event dedup failed", logger.Error(err))
		return nil, err
	}
	if !claimed {
		log.InfoContext(ctx, "duplicate billing event skipped")
		return &WebhookResult{Event: ev, Duplicate: true}, nil
	}

	_, err = s.outbox.Enqueue(ctx, newPlanChange(ev), outbox.WithKey(ev.ID), outbox.WithPriority(outbox.PriorityHigh))
	if errors.Is(err, outbox.ErrDuplicateRecord) {
		log.InfoContext(ctx, "billing event already recorded")
		return &WebhookResult{Event: ev, Duplicate: true}, nil
	}
	if err != nil {
		if rerr := s.dedup.Release(ctx, ev.ID); rerr != nil {
			log.ErrorContext(ctx, "billing event claim not released", logger.Error(rerr))
		}
		log.ErrorContext(ctx, "billing event not recorded", logger.Error(err))
		return nil, errors.Join(ErrEnqueue, err)
	}

	log.InfoContext(ctx, "plan change recorded", logger.Plan(ev.NewPlan.String()))
	return &WebhookResult{Event: ev}, nil
}

// CreateCheckout starts a pro-plan checkout for userID.
func (s *Service) CreateCheckout(ctx context.Context, userID, email string) (*Checkout, error) {
	c, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		UserID:      userID,
		Email:       email,
		RedirectURL: s.redirectURL,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "checkout failed", logger.UserID(userID), logger.Error(err))
		return nil, err
	}
	return c, nil
}
