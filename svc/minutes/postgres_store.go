package minutes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

func (s *postgresStore) Create(ctx context.Context, m *Minutes) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO minutes (id, user_id, title, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.Title, m.Content, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *postgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Minutes, error) {
	var m Minutes
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, content, created_at, updated_at
		FROM minutes WHERE id = $1`, id,
	).Scan(&m.ID, &m.UserID, &m.Title, &m.Content, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return &m, nil
}
