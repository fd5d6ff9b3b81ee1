package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/minutes/svc/profile"
)

var (
	ErrInvalidSignature = errors.New("billing: webhook signature is invalid")
	ErrInvalidPayload   = errors.New("billing: webhook payload is invalid")
	ErrIgnoredEvent     = errors.New("billing: event is not relevant")
	ErrCheckout         = errors.New("billing: checkout creation failed")
	ErrInvalidConfig    = errors.New("billing: invalid configuration")
	ErrUnknownProvider  = errors.New("billing: unknown provider")
	ErrDedup            = errors.New("billing: deduplication store failed")
	ErrEnqueue          = errors.New("billing: failed to record plan change")
)

// EventType is a provider-neutral subscription lifecycle event.
type EventType string

const (
	EventConversion   EventType = "conversion"
	EventCancellation EventType = "cancellation"
	EventExpiration   EventType = "expiration"
	EventRenewal      EventType = "renewal"
)

// Plan returns the plan a user holds after the event.
func (t EventType) Plan() profile.Plan {
	switch t {
	case EventConversion, EventRenewal:
		return profile.PlanPro
	default:
		return profile.PlanFree
	}
}

// SubscriptionEvent is a verified webhook mapped onto a plan transition.
type SubscriptionEvent struct {
	ID            string
	UserID        string
	Type          EventType
	PreviousPlan  profile.Plan
	NewPlan       profile.Plan
	OccurredAt    time.Time
	Provider      string
	ProviderEvent string
}

func newEvent(id, userID string, t EventType, at time.Time, provider, providerEvent string) *SubscriptionEvent {
	prev := profile.PlanPro
	if t.Plan() == profile.PlanPro {
		prev = profile.PlanFree
	}
	return &SubscriptionEvent{
		ID:            id,
		UserID:        userID,
		Type:          t,
		PreviousPlan:  prev,
		NewPlan:       t.Plan(),
		OccurredAt:    at.UTC(),
		Provider:      provider,
		ProviderEvent: providerEvent,
	}
}

type CheckoutRequest struct {
	UserID      string
	Email       string
	RedirectURL string
}

type Checkout struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Provider adapts a billing provider.
//
// ParseWebhook verifies the signature and maps the payload; events that do
// not change a plan, or belong to another store or product, are reported
// with ErrIgnoredEvent.
type Provider interface {
	Name() string
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*SubscriptionEvent, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

type Config struct {
	Provider            string        `env:"BILLING_PROVIDER" envDefault:"lemonsqueezy"`
	DedupTTL            time.Duration `env:"BILLING_DEDUP_TTL" envDefault:"72h"`
	CheckoutTTL         time.Duration `env:"BILLING_CHECKOUT_TTL" envDefault:"24h"`
	CheckoutRedirectURL string        `env:"BILLING_CHECKOUT_REDIRECT_URL"`
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	httpClient  *http.Client
	log         *slog.Logger
	now         func() time.Time
	baseURL     string
	checkoutTTL time.Duration
}

func defaultOptions() *options {
	return &options{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		log:         slog.Default(),
		now:         time.Now,
		checkoutTTL: 24 * time.Hour,
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBaseURL points the provider API client elsewhere, e.g. at a test server.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

func WithCheckoutTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.checkoutTTL = d
		}
	}
}
