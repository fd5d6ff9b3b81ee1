package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/minutes/pkg/logger"
	"github.com/dmitrymomot/minutes/pkg/outbox"
	"github.com/dmitrymomot/minutes/svc/profile"
)

// PlanChange is the outbox payload recorded for each billing event.
type PlanChange struct {
	EventID       string       `json:"event_id"`
	UserID        string       `json:"user_id"`
	EventType     EventType    `json:"event_type"`
	PreviousPlan  profile.Plan `json:"previous_plan"`
	Plan          profile.Plan `json:"plan"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Provider      string       `json:"provider"`
	ProviderEvent string       `json:"provider_event"`
}

func newPlanChange(ev *SubscriptionEvent) PlanChange {
	return PlanChange{
		EventID:       ev.ID,
		UserID:        ev.UserID,
		EventType:     ev.Type,
		PreviousPlan:  ev.PreviousPlan,
		Plan:          ev.NewPlan,
		OccurredAt:    ev.OccurredAt,
		Provider:      ev.Provider,
		ProviderEvent: ev.ProviderEvent,
	}
}

// Profiles is the part of the profile service the reconciler writes through.
type Profiles interface {
	ApplyPlan(ctx context.Context, externalUserID string, plan profile.Plan, at time.Time) (bool, error)
	Get(ctx context.Context, externalUserID string) (*profile.Profile, error)
}

// MetadataWriter is the part of the identity provider the reconciler writes through.
type MetadataWriter interface {
	UpdatePlanMetadata(ctx context.Context, userID, plan string) error
}

// Reconciler applies a PlanChange to the profile store and the identity
// provider. Both writes are idempotent, so a failed attempt is retried whole.
type Reconciler struct {
	profiles Profiles
	identity MetadataWriter
	log      *slog.Logger
}

func NewReconciler(profiles Profiles, identity MetadataWriter, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{profiles: profiles, identity: identity, log: log.With(logger.Component("reconciler"))}
}

// Reconcile writes the profile plan first. When the change is stale the
// identity provider receives the profile's current plan instead, so a retry
// after a partial failure still converges both records.
func (r *Reconciler) Reconcile(ctx context.Context, c PlanChange) error {
	log := r.log.With(logger.EventID(c.EventID), logger.UserID(c.UserID))

	applied, err := r.profiles.ApplyPlan(ctx, c.UserID, c.Plan, c.OccurredAt)
	if err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}

	plan := c.Plan
	if !applied {
		current, err := r.profiles.Get(ctx, c.UserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if current == nil {
			return errors.Join(profile.ErrStore, fmt.Errorf("profile %q missing after plan change", c.UserID))
		}
		plan = current.Plan
	}

	if err := r.identity.UpdatePlanMetadata(ctx, c.UserID, plan.String()); err != nil {
		return fmt.Errorf("update identity metadata: %w", err)
	}

	log.InfoContext(ctx, "plan reconciled", logger.Plan(plan.String()), slog.Bool("stale", !applied))
	return nil
}

// Handler binds Reconcile to PlanChange outbox records.
func (r *Reconciler) Handler() outbox.Handler {
	return outbox.NewHandler[PlanChange](r.Reconcile)
}
