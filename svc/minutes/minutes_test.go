package minutes_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/minutes/migrations"
	"github.com/dmitrymomot/minutes/pkg/mongo"
	"github.com/dmitrymomot/minutes/pkg/pg"
	"github.com/dmitrymomot/minutes/svc/minutes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testService(t *testing.T, store minutes.Store) {
	t.Helper()
	ctx := context.Background()
	svc := minutes.NewService(store, discardLogger())

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		m := &minutes.Minutes{UserID: "user_1", Title: "Weekly sync", Content: "- shipped"}
		require.NoError(t, svc.Create(ctx, m))
		require.NotEqual(t, uuid.Nil, m.ID)

		got, err := svc.Get(ctx, m.ID.String())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Weekly sync", got.Title)
		assert.Equal(t, "user_1", got.UserID)
		assert.WithinDuration(t, m.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		got, err := svc.Get(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("malformed id", func(t *testing.T) {
		t.Parallel()
		for _, raw := range []string{"", "42", "not-a-uuid", "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz"} {
			_, err := svc.Get(ctx, raw)
			assert.ErrorIs(t, err, minutes.ErrInvalidID, raw)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testService(t, minutes.NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	connURL := os.Getenv("TEST_PG_CONN_URL")
	if connURL == "" {
		t.Skip("TEST_PG_CONN_URL is not set")
	}
	t.Parallel()

	ctx := context.Background()
	cfg := pg.Config{ConnectionString: connURL, RetryAttempts: 1, MigrationsTable: "schema_migrations"}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, cfg, discardLogger()))

	testService(t, minutes.NewPostgresStore(pool))
}

func TestMongoStore(t *testing.T) {
	connURL := os.Getenv("TEST_MONGODB_URL")
	if connURL == "" {
		t.Skip("TEST_MONGODB_URL is not set")
	}
	t.Parallel()

	db, err := mongo.ConnectDatabase(context.Background(), mongo.Config{
		ConnectionURL:  connURL,
		Database:       "minutes_test",
		ConnectTimeout: 5 * time.Second,
		RetryAttempts:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })

	testService(t, minutes.NewMongoStore(db))
}
