package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage persists records in outbox_records and outbox_dlq.
// Concurrent relays claim with FOR UPDATE SKIP LOCKED.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

const recordColumns = `id, queue, name, dedup_key, payload, status, priority, attempts, max_attempts,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		payload []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Queue, &rec.Name, &rec.Key, &payload, &rec.Status, &rec.Priority,
		&rec.Attempts, &rec.MaxAttempts, &rec.ScheduledAt, &rec.LockedUntil, &rec.LockedBy,
		&rec.ProcessedAt, &rec.Error, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	return &rec, nil
}

func (s *PostgresStorage) Insert(ctx context.Context, rec *Record) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (queue, dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING`,
		rec.ID, rec.Queue, rec.Name, rec.Key, []byte(rec.Payload), rec.Status, rec.Priority,
		rec.Attempts, rec.MaxAttempts, rec.ScheduledAt, rec.LockedUntil, rec.LockedBy,
		rec.ProcessedAt, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

func (s *PostgresStorage) Claim(ctx context.Context, workerID uuid.UUID, queues []string, lease time.Duration) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE outbox_records
		SET status = 'processing',
			attempts = attempts + 1,
			locked_until = now() + make_interval(secs => $3),
			locked_by = $1
		WHERE id = (
			SELECT id FROM outbox_records
			WHERE queue = ANY($2)
			  AND ((status = 'pending' AND scheduled_at <= now())
			    OR (status = 'processing' AND locked_until < now()))
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+recordColumns,
		workerID, queues, lease.Seconds(),
	)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	return rec, err
}

func (s *PostgresStorage) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'completed', processed_at = now(), locked_until = NULL, locked_by = NULL, error = NULL
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (s *PostgresStorage) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_records
		SET status = 'pending', error = $2, scheduled_at = $3, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, id, errMsg, retryAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (s *PostgresStorage) MoveToDLQ(ctx context.Context, id uuid.UUID, errMsg string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO outbox_dlq (id, record_id, queue, name, dedup_key, payload, attempts, error, failed_at, created_at)
			SELECT $2, id, queue, name, dedup_key, payload, attempts, $3, now(), created_at
			FROM outbox_records WHERE id = $1`, id, uuid.New(), errMsg)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRecordNotFound
		}
		_, err = tx.Exec(ctx, `DELETE FROM outbox_records WHERE id = $1`, id)
		return err
	})
}

// Get loads a live record.
func (s *PostgresStorage) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM outbox_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}
