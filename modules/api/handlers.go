package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/minutes/handler"
	"github.com/dmitrymomot/minutes/pkg/logger"
	"github.com/dmitrymomot/minutes/svc/billing"
	"github.com/dmitrymomot/minutes/svc/identity"
	"github.com/dmitrymomot/minutes/svc/minutes"
)

type updateMetadataRequest struct {
	UserID string `json:"userId" validate:"required,notblank"`
	Plan   string `json:"plan" validate:"required,oneof=free pro"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// updateMetadata writes the plan to the identity provider only. It makes
// exactly one provider call and never retries.
func (h *routes) updateMetadata(ctx handler.Context, req updateMetadataRequest) handler.Response {
	userID := strings.TrimSpace(req.UserID)
	if err := h.identity.UpdatePlanMetadata(ctx, userID, req.Plan); err != nil {
		if errors.Is(err, identity.ErrInvalidInput) {
			return handler.Error(handler.ErrBadRequest.Wrap(err))
		}
		return handler.Error(handler.ErrInternal.Wrap(err))
	}
	h.log.InfoContext(ctx, "plan metadata updated", logger.UserID(userID), logger.Plan(req.Plan))
	return handler.JSON(successResponse{Success: true})
}

type getMinutesRequest struct {
	MinutesID string `path:"minutesId" validate:"required"`
}

func (h *routes) getMinutes(ctx handler.Context, req getMinutesRequest) handler.Response {
	m, err := h.minutes.Get(ctx, req.MinutesID)
	if errors.Is(err, minutes.ErrInvalidID) {
		return handler.Error(handler.BadRequest("invalid minutes id").Wrap(err))
	}
	if err != nil {
		return handler.Error(handler.ErrInternal.Wrap(err))
	}
	return handler.JSON(m)
}

type getProfileRequest struct {
	UserID string `path:"userId" validate:"required"`
}

func (h *routes) getProfile(ctx handler.Context, req getProfileRequest) handler.Response {
	p, err := h.profiles.Get(ctx, req.UserID)
	if err != nil {
		return handler.Error(handler.ErrInternal.Wrap(err))
	}
	return handler.JSON(p)
}

type meResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (h *routes) me(ctx handler.Context, _ struct{}) handler.Response {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	return handler.JSON(meResponse{UserID: id.UserID, Email: id.Email, Name: id.DisplayName()})
}

func (h *routes) syncProfile(ctx handler.Context, _ struct{}) handler.Response {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	p, err := h.profiles.Sync(ctx, *id)
	if err != nil {
		return handler.Error(handler.ErrInternal.Wrap(err))
	}
	return handler.JSON(p)
}

type checkoutResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *routes) checkout(ctx handler.Context, _ struct{}) handler.Response {
	id, ok := identity.FromContext(ctx)
	if !ok {
		return handler.Error(handler.ErrUnauthorized)
	}
	c, err := h.billing.CreateCheckout(ctx, id.UserID, id.Email)
	if err != nil {
		return handler.Error(handler.ErrInternal.Wrap(err))
	}
	return handler.JSON(checkoutResponse{URL: c.URL, ExpiresAt: c.ExpiresAt})
}

type webhookResponse struct {
	Received bool `json:"received"`
	Ignored  bool `json:"ignored,omitempty"`
}

// billingWebhook acknowledges every verified event. Failures to record an
// event answer 500 so the provider redelivers it.
func (h *routes) billingWebhook(ctx handler.Context, _ struct{}) handler.Response {
	r := ctx.Request()
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, h.cfg.WebhookMaxBytes))
	if err != nil {
		return handler.Error(handler.BadRequest("invalid payload").Wrap(err))
	}

	res, err := h.billing.HandleWebhook(ctx, payload, r.Header)
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		return handler.Error(handler.BadRequest("invalid signature").Wrap(err))
	case errors.Is(err, billing.ErrInvalidPayload):
		return handler.Error(handler.BadRequest("invalid payload").Wrap(err))
	case err != nil:
		return handler.Error(handler.ErrInternal.Wrap(err))
	}
	return handler.JSON(webhookResponse{Received: true, Ignored: res.Ignored || res.Duplicate})
}
