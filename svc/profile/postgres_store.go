package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the profiles table.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool}
}

const profileColumns = `id, external_user_id, email, name, plan, plan_updated_at, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	if err := row.Scan(
		&p.ID, &p.ExternalUserID, &p.Email, &p.Name, &p.Plan,
		&p.PlanUpdatedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *postgresStore) Upsert(ctx context.Context, d Details) (*Profile, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, external_user_id, email, name, plan)
		VALUES ($1, $2, $3, $4, 'free')
		ON CONFLICT (external_user_id) DO UPDATE
		SET email = EXCLUDED.email,
			name = EXCLUDED.name,
			updated_at = now()
		RETURNING `+profileColumns,
		uuid.New(), d.ExternalUserID, d.Email, d.Name,
	)
	p, err := scanProfile(row)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return p, nil
}

func (s *postgresStore) GetByExternalID(ctx context.Context, externalUserID string) (*Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE external_user_id = $1`, externalUserID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return p, nil
}

func (s *postgresStore) SetPlan(ctx context.Context, externalUserID string, plan Plan, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, external_user_id, plan, plan_updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_user_id) DO UPDATE
		SET plan = EXCLUDED.plan,
			plan_updated_at = EXCLUDED.plan_updated_at,
			updated_at = now()
		WHERE profiles.plan_updated_at IS NULL
		   OR profiles.plan_updated_at < EXCLUDED.plan_updated_at`,
		uuid.New(), externalUserID, plan, at,
	)
	if err != nil {
		return false, errors.Join(ErrStore, err)
	}
	return tag.RowsAffected() == 1, nil
}
