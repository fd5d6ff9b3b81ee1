package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dmitrymomot/minutes/pkg/logger"
)

const (
	LemonSqueezyName = "lemonsqueezy"

	lemonSignatureHeader = "X-Signature"
	lemonMediaType       = "application/vnd.api+json"
)

type LemonSqueezyConfig struct {
	APIKey        string `env:"LEMONSQUEEZY_API_KEY"`
	StoreID       string `env:"LEMONSQUEEZY_STORE_ID"`
	WebhookSecret string `env:"LEMONSQUEEZY_WEBHOOK_SECRET"`
	ProVariantID  string `env:"LEMONSQUEEZY_PRO_VARIANT_ID"`
	APIURL        string `env:"LEMONSQUEEZY_API_URL" envDefault:"https://api.lemonsqueezy.com/v1"`
}

func (c LemonSqueezyConfig) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"LEMONSQUEEZY_API_KEY":        c.APIKey,
		"LEMONSQUEEZY_STORE_ID":       c.StoreID,
		"LEMONSQUEEZY_WEBHOOK_SECRET": c.WebhookSecret,
		"LEMONSQUEEZY_PRO_VARIANT_ID": c.ProVariantID,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is empty", name))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// LemonSqueezyProvider verifies X-Signature webhooks and creates hosted
// checkouts through the JSON:API REST endpoint.
type LemonSqueezyProvider struct {
	cfg     LemonSqueezyConfig
	api     *http.Client
	baseURL string
	opts    *options
	log     *slog.Logger
}

func NewLemonSqueezyProvider(ctx context.Context, cfg LemonSqueezyConfig, opts ...Option) (*LemonSqueezyProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	baseURL := cfg.APIURL
	if o.baseURL != "" {
		baseURL = o.baseURL
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	api := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey}))
	api.Timeout = o.httpClient.Timeout

	return &LemonSqueezyProvider{
		cfg:     cfg,
		api:     api,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    o,
		log:     o.log.With(logger.Provider(LemonSqueezyName)),
	}, nil
}

func (p *LemonSqueezyProvider) Name() string { return LemonSqueezyName }

type lemonWebhook struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			StoreID   json.Number `json:"store_id"`
			VariantID json.Number `json:"variant_id"`
			Status    string      `json:"status"`
			CreatedAt *time.Time  `json:"created_at"`
			UpdatedAt *time.Time  `json:"updated_at"`
		} `json:"attributes"`
	} `json:"data"`
}

var lemonEvents = map[string]EventType{
	"subscription_created":         EventConversion,
	"subscription_resumed":         EventConversion,
	"subscription_unpaused":        EventConversion,
	"subscription_payment_success": EventRenewal,
	"subscription_cancelled":       EventCancellation,
	"subscription_expired":         EventExpiration,
}

func (p *LemonSqueezyProvider) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*SubscriptionEvent, error) {
	if err := p.verify(payload, header.Get(lemonSignatureHeader)); err != nil {
		return nil, err
	}

	var wh lemonWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if wh.Meta.EventName == "" || wh.Data.ID == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("missing event name or resource id"))
	}

	eventType, ok := lemonEvents[wh.Meta.EventName]
	if !ok {
		return nil, fmt.Errorf("%w: event %q", ErrIgnoredEvent, wh.Meta.EventName)
	}
	attrs := wh.Data.Attributes
	if attrs.StoreID.String() != p.cfg.StoreID {
		return nil, fmt.Errorf("%w: store %q", ErrIgnoredEvent, attrs.StoreID)
	}
	// Invoice payloads carry no variant, only subscriptions do.
	if attrs.VariantID != "" && attrs.VariantID.String() != p.cfg.ProVariantID {
		return nil, fmt.Errorf("%w: variant %q", ErrIgnoredEvent, attrs.VariantID)
	}
	userID, _ := wh.Meta.CustomData["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: no user_id in custom data", ErrIgnoredEvent)
	}

	at := p.opts.now()
	switch {
	case attrs.UpdatedAt != nil:
		at = *attrs.UpdatedAt
	case attrs.CreatedAt != nil:
		at = *attrs.CreatedAt
	}

	return newEvent(lemonEventKey(wh.Meta.EventName, wh.Data.Type, wh.Data.ID, at),
		userID, eventType, at, LemonSqueezyName, wh.Meta.EventName), nil
}

func (p *LemonSqueezyProvider) verify(payload []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// lemonEventKey derives a stable key, since Lemon Squeezy sends no event id.
// A redelivery hashes to the same key; a later state change does not.
func lemonEventKey(name, resourceType, resourceID string, at time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		name, resourceType, resourceID, at.UTC().Format(time.RFC3339Nano),
	}, "|")))
	return "ls_" + hex.EncodeToString(sum[:16])
}

type jsonAPIRef struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

func ref(typ, id string) jsonAPIRef {
	var r jsonAPIRef
	r.Data.Type = typ
	r.Data.ID = id
	return r
}

func (p *LemonSqueezyProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.UserID == "" {
		return nil, errors.Join(ErrCheckout, errors.New("user id is required"))
	}
	expiresAt := p.opts.now().UTC().Add(p.opts.checkoutTTL).Truncate(time.Second)

	checkoutData := map[string]any{
		"custom": map[string]string{"user_id": req.UserID},
	}
	if req.Email != "" {
		checkoutData["email"] = req.Email
	}
	attributes := map[string]any{
		"checkout_data": checkoutData,
		"expires_at":    expiresAt.Format(time.RFC3339),
	}
	if req.RedirectURL != "" {
		attributes["product_options"] = map[string]string{"redirect_url": req.RedirectURL}
	}
	body := map[string]any{
		"data": map[string]any{
			"type":       "checkouts",
			"attributes": attributes,
			"relationships": map[string]any{
				"store":   ref("stores", p.cfg.StoreID),
				"variant": ref("variants", p.cfg.ProVariantID),
			},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Join(ErrCheckout, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/checkouts", bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(ErrCheckout, err)
	}
	httpReq.Header.Set("Accept", lemonMediaType)
	httpReq.Header.Set("Content-Type", lemonMediaType)

	resp, err := p.api.Do(httpReq)
	if err != nil {
		return nil, errors.Join(ErrCheckout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Join(ErrCheckout, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	var out struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				URL       string     `json:"url"`
				ExpiresAt *time.Time `json:"expires_at"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Join(ErrCheckout, err)
	}
	if out.Data.Attributes.URL == "" {
		return nil, errors.Join(ErrCheckout, errors.New("no checkout url returned"))
	}
	if out.Data.Attributes.ExpiresAt != nil {
		expiresAt = out.Data.Attributes.ExpiresAt.UTC()
	}

	p.log.InfoContext(ctx, "checkout created", logger.UserID(req.UserID), slog.String("checkout_id", out.Data.ID))
	return &Checkout{URL: out.Data.Attributes.URL, ExpiresAt: expiresAt}, nil
}
