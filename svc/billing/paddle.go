package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/minutes/pkg/logger"
)

const (
	PaddleName = "paddle"

	paddleSignatureHeader = "Paddle-Signature"
)

type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	ProPriceID    string `env:"PADDLE_PRO_PRICE_ID"`
}

func (c PaddleConfig) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("PADDLE_API_KEY is empty"))
	}
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("PADDLE_WEBHOOK_SECRET is empty"))
	}
	if c.ProPriceID == "" {
		errs = append(errs, errors.New("PADDLE_PRO_PRICE_ID is empty"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// PaddleProvider maps Paddle Billing notifications and creates checkouts as
// draft transactions.
type PaddleProvider struct {
	cfg      PaddleConfig
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	opts     *options
	log      *slog.Logger
}

func NewPaddleProvider(cfg PaddleConfig, opts ...Option) (*PaddleProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var sdkOpts []paddle.Option
	if o.baseURL != "" {
		sdkOpts = append(sdkOpts, paddle.WithBaseURL(o.baseURL))
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey, sdkOpts...)
	case "production", "":
		client, err = paddle.New(cfg.APIKey, sdkOpts...)
	default:
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("PADDLE_ENVIRONMENT %q", cfg.Environment))
	}
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	return &PaddleProvider{
		cfg:      cfg,
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		opts:     o,
		log:      o.log.With(logger.Provider(PaddleName)),
	}, nil
}

func (p *PaddleProvider) Name() string { return PaddleName }

type paddleItem struct {
	PriceID string `json:"price_id"`
	Price   *struct {
		ID string `json:"id"`
	} `json:"price"`
}

func (i paddleItem) priceID() string {
	if i.Price != nil && i.Price.ID != "" {
		return i.Price.ID
	}
	return i.PriceID
}

type paddleNotification struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		ID             string         `json:"id"`
		Status         string         `json:"status"`
		Origin         string         `json:"origin"`
		SubscriptionID *string        `json:"subscription_id"`
		CustomData     map[string]any `json:"custom_data"`
		Items          []paddleItem   `json:"items"`
	} `json:"data"`
}

// paddleEventType maps a notification onto a plan transition. Transactions
// count only when they renew an existing subscription.
func paddleEventType(n *paddleNotification) (EventType, bool) {
	switch n.EventType {
	case "subscription.created", "subscription.activated", "subscription.resumed":
		return EventConversion, true
	case "subscription.canceled":
		return EventCancellation, true
	case "subscription.paused":
		return EventExpiration, true
	case "transaction.completed":
		if n.Data.Origin == "subscription_recurring" {
			return EventRenewal, true
		}
	}
	return "", false
}

func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*SubscriptionEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	req.Header.Set(paddleSignatureHeader, header.Get(paddleSignatureHeader))

	valid, err := p.verifier.Verify(req)
	if err != nil || !valid {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if n.EventID == "" || n.EventType == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("missing event id or type"))
	}

	eventType, ok := paddleEventType(&n)
	if !ok {
		return nil, fmt.Errorf("%w: event %q", ErrIgnoredEvent, n.EventType)
	}
	if !slices.ContainsFunc(n.Data.Items, func(i paddleItem) bool { return i.priceID() == p.cfg.ProPriceID }) {
		return nil, fmt.Errorf("%w: no pro price in items", ErrIgnoredEvent)
	}
	userID, _ := n.Data.CustomData["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: no user_id in custom data", ErrIgnoredEvent)
	}

	at := n.OccurredAt
	if at.IsZero() {
		at = p.opts.now()
	}
	return newEvent(n.EventID, userID, eventType, at, PaddleName, n.EventType), nil
}

func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.UserID == "" {
		return nil, errors.Join(ErrCheckout, errors.New("user id is required"))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  p.cfg.ProPriceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{"user_id": req.UserID},
	}
	if req.Email != "" {
		txReq.CustomData["email"] = req.Email
	}
	if req.RedirectURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.RedirectURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, errors.Join(ErrCheckout, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil || *tx.Checkout.URL == "" {
		return nil, errors.Join(ErrCheckout, errors.New("no checkout url returned"))
	}

	p.log.InfoContext(ctx, "checkout created", logger.UserID(req.UserID), slog.String("transaction_id", tx.ID))
	return &Checkout{
		URL:       *tx.Checkout.URL,
		ExpiresAt: p.opts.now().UTC().Add(p.opts.checkoutTTL).Truncate(time.Second),
	}, nil
}
