// Package api mounts the JSON routes served to the front end and to the
// identity and billing providers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/minutes/handler"
	"github.com/dmitrymomot/minutes/pkg/httpserver"
	"github.com/dmitrymomot/minutes/svc/billing"
	"github.com/dmitrymomot/minutes/svc/identity"
	"github.com/dmitrymomot/minutes/svc/minutes"
	"github.com/dmitrymomot/minutes/svc/profile"
)

type Config struct {
	// MetadataRouteToken guards the metadata update route when set.
	MetadataRouteToken string        `env:"METADATA_ROUTE_TOKEN"`
	WebhookMaxBytes    int64         `env:"BILLING_WEBHOOK_MAX_BYTES" envDefault:"1048576"`
	ReadinessTimeout   time.Duration `env:"READINESS_TIMEOUT" envDefault:"2s"`
}

type Profiles interface {
	Sync(ctx context.Context, id identity.Identity) (*profile.Profile, error)
	Get(ctx context.Context, externalUserID string) (*profile.Profile, error)
}

type Minutes interface {
	Get(ctx context.Context, rawID string) (*minutes.Minutes, error)
}

type Billing interface {
	HandleWebhook(ctx context.Context, payload []byte, header http.Header) (*billing.WebhookResult, error)
	CreateCheckout(ctx context.Context, userID, email string) (*billing.Checkout, error)
}

// RouterOptions carries the router's collaborators. Billing may be nil, in
// which case the billing routes are not mounted.
type RouterOptions struct {
	Config   Config
	Logger   *slog.Logger
	Identity identity.Provider
	Profiles Profiles
	Minutes  Minutes
	Billing  Billing
	Checks   map[string]httpserver.Check
}

type routes struct {
	cfg      Config
	log      *slog.Logger
	identity identity.Provider
	profiles Profiles
	minutes  Minutes
	billing  Billing
	errors   handler.ErrorHandler[handler.Context]
}

func NewRouter(opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Config.WebhookMaxBytes <= 0 {
		opts.Config.WebhookMaxBytes = 1 << 20
	}
	h := &routes{
		cfg:      opts.Config,
		log:      log,
		identity: opts.Identity,
		profiles: opts.Profiles,
		minutes:  opts.Minutes,
		billing:  opts.Billing,
		errors:   handler.NewErrorHandler(log),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.HandleFunc("/health", httpserver.HealthCheckHandler())
		r.Get("/ready", httpserver.ReadinessHandler(log, opts.Config.ReadinessTimeout, opts.Checks))

		r.With(bearerGuard(opts.Config.MetadataRouteToken)).
			Post("/clerk/update-metadata", wrap[updateMetadataRequest](h.updateMetadata, h.errors, jsonBinders...))

		r.Get("/minutes/{minutesId}", wrap[getMinutesRequest](h.getMinutes, h.errors, pathBinders...))
		r.Get("/profiles/{userId}", wrap[getProfileRequest](h.getProfile, h.errors, pathBinders...))

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(opts.Identity, log), identity.RequireIdentity)
			r.Get("/me", wrap[struct{}](h.me, h.errors))
			r.Post("/profile/sync", wrap[struct{}](h.syncProfile, h.errors))
			if opts.Billing != nil {
				r.Post("/billing/checkout", wrap[struct{}](h.checkout, h.errors))
			}
		})

		if opts.Billing != nil {
			r.Post("/billing/webhook", wrap[struct{}](h.billingWebhook, h.errors))
		}
	})

	return r
}

func wrap[R any](fn handler.HandlerFunc[handler.Context, R], eh handler.ErrorHandler[handler.Context], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(fn,
		handler.WithErrorHandler[handler.Context, R](eh),
		handler.WithBinders[handler.Context, R](binders...),
	)
}
