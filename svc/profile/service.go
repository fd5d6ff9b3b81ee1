package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/minutes/pkg/logger"
	"github.com/dmitrymomot/minutes/svc/identity"
)

// Service runs the profile sync and plan reconciliation operations.
type Service struct {
	store Store
	log   *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("profile"))
	return s
}

// Sync upserts the profile of the given identity. Running it repeatedly with
// the same identity leaves a single row; the plan is never touched.
func (s *Service) Sync(ctx context.Context, id identity.Identity) (*Profile, error) {
	id = id.Normalize()
	if id.UserID == "" {
		return nil, ErrMissingUserID
	}

	p, err := s.store.Upsert(ctx, Details{
		ExternalUserID: id.UserID,
		Email:          id.Email,
		Name:           id.DisplayName(),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "profile sync failed", logger.UserID(id.UserID), logger.Error(err))
		return nil, err
	}
	s.log.DebugContext(ctx, "profile synced", logger.UserID(id.UserID))
	return p, nil
}

// Get returns nil, nil for unknown users.
func (s *Service) Get(ctx context.Context, externalUserID string) (*Profile, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, ErrMissingUserID
	}
	return s.store.GetByExternalID(ctx, externalUserID)
}

// ApplyPlan sets the plan unless a newer change was already applied.
// Timestamps are kept at millisecond precision, the coarsest of the stores.
func (s *Service) ApplyPlan(ctx context.Context, externalUserID string, plan Plan, at time.Time) (bool, error) {
	if externalUserID == "" {
		return false, ErrMissingUserID
	}
	if !plan.Valid() {
		return false, errors.Join(ErrInvalidPlan, errors.New(string(plan)))
	}

	at = at.UTC().Truncate(time.Millisecond)
	applied, err := s.store.SetPlan(ctx, externalUserID, plan, at)
	if err != nil {
		return false, err
	}

	attrs := []any{logger.UserID(externalUserID), logger.Plan(plan.String()), slog.Time("at", at)}
	if applied {
		s.log.InfoContext(ctx, "plan applied", attrs...)
	} else {
		s.log.InfoContext(ctx, "stale plan change skipped", attrs...)
	}
	return applied, nil
}
