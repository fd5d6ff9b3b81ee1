// Package minutes stores meeting minutes and serves them by id.
package minutes

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/minutes/pkg/logger"
)

var (
	ErrInvalidID = errors.New("minutes: malformed id")
	ErrStore     = errors.New("minutes: store operation failed")
)

type Minutes struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store returns nil, nil from GetByID when no record exists.
type Store interface {
	Create(ctx context.Context, m *Minutes) error
	GetByID(ctx context.Context, id uuid.UUID) (*Minutes, error)
}

type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log.With(logger.Component("minutes"))}
}

// Get parses rawID and looks the record up. Unknown ids yield nil, nil.
func (s *Service) Get(ctx context.Context, rawID string) (*Minutes, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return nil, errors.Join(ErrInvalidID, err)
	}
	m, err := s.store.GetByID(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "minutes lookup failed", logger.RecordID(id), logger.Error(err))
		return nil, err
	}
	return m, nil
}

// Create assigns an id and timestamps when they are missing.
func (s *Service) Create(ctx context.Context, m *Minutes) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return s.store.Create(ctx, m)
}
