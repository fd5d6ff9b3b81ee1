package billing_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/minutes/pkg/outbox"
	"github.com/dmitrymomot/minutes/pkg/redis"
	"github.com/dmitrymomot/minutes/svc/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*billing.SubscriptionEvent, error) {
	args := m.Called(ctx, payload, header)
	ev, _ := args.Get(0).(*billing.SubscriptionEvent)
	return ev, args.Error(1)
}

func (m *mockProvider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	args := m.Called(ctx, req)
	c, _ := args.Get(0).(*billing.Checkout)
	return c, args.Error(1)
}

type failingInserter struct{}

func (failingInserter) Insert(context.Context, *outbox.Record) error {
	return errors.New("connection reset")
}

func conversion(id string) *billing.SubscriptionEvent {
	return &billing.SubscriptionEvent{
		ID:           id,
		UserID:       "user_1",
		Type:         billing.EventConversion,
		PreviousPlan: "free",
		NewPlan:      "pro",
		OccurredAt:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Provider:     "mock",
	}
}

func newEnqueuer(t *testing.T, store outbox.Inserter) *outbox.Enqueuer {
	t.Helper()
	enq, err := outbox.NewEnqueuer(store)
	require.NoError(t, err)
	return enq
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	t.Run("same event twice records once", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(conversion("evt_1"), nil)
		store := outbox.NewMemoryStorage()
		svc := billing.NewService(provider, newEnqueuer(t, store), billing.WithServiceLogger(discardLogger()))

		first, err := svc.HandleWebhook(context.Background(), []byte(`{}`), http.Header{})
		require.NoError(t, err)
		assert.False(t, first.Duplicate)
		assert.False(t, first.Ignored)

		second, err := svc.HandleWebhook(context.Background(), []byte(`{}`), http.Header{})
		require.NoError(t, err)
		assert.True(t, second.Duplicate)

		records := store.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "billing.PlanChange", records[0].Name)
		require.NotNil(t, records[0].Key)
		assert.Equal(t, "evt_1", *records[0].Key)
		assert.Equal(t, outbox.PriorityHigh, records[0].Priority)
		assert.JSONEq(t, `{
			"event_id":"evt_1","user_id":"user_1","event_type":"conversion",
			"previous_plan":"free","plan":"pro","occurred_at":"2025-05-01T00:00:00Z",
			"provider":"mock","provider_event":""
		}`, string(records[0].Payload))
	})

	t.Run("outbox key guards expired claims", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(conversion("evt_2"), nil)
		store := outbox.NewMemoryStorage()
		svc := billing.NewService(provider, newEnqueuer(t, store),
			billing.WithServiceLogger(discardLogger()),
			billing.WithDeduper(billing.NewMemoryDeduper(time.Nanosecond)))

		_, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
		res, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Len(t, store.Records(), 1)
	})

	t.Run("ignored event", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.Join(billing.ErrIgnoredEvent, errors.New("order_created")))
		store := outbox.NewMemoryStorage()
		svc := billing.NewService(provider, newEnqueuer(t, store), billing.WithServiceLogger(discardLogger()))

		res, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		require.NoError(t, err)
		assert.True(t, res.Ignored)
		assert.Empty(t, store.Records())
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(nil, billing.ErrInvalidSignature)
		store := outbox.NewMemoryStorage()
		svc := billing.NewService(provider, newEnqueuer(t, store), billing.WithServiceLogger(discardLogger()))

		_, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
		assert.Empty(t, store.Records())
	})

	t.Run("enqueue failure releases claim", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(conversion("evt_3"), nil)
		dedup := billing.NewMemoryDeduper(time.Hour)
		svc := billing.NewService(provider, newEnqueuer(t, failingInserter{}),
			billing.WithServiceLogger(discardLogger()), billing.WithDeduper(dedup))

		_, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		require.ErrorIs(t, err, billing.ErrEnqueue)

		claimed, err := dedup.Claim(context.Background(), "evt_3")
		require.NoError(t, err)
		assert.True(t, claimed, "redelivery must be able to claim again")
	})
}

func TestService_CreateCheckout(t *testing.T) {
	t.Parallel()

	provider := &mockProvider{}
	want := &billing.Checkout{URL: "https://pay.example/c/1", ExpiresAt: time.Now().Add(time.Hour)}
	provider.On("CreateCheckout", mock.Anything, billing.CheckoutRequest{
		UserID: "user_1", Email: "a@example.com", RedirectURL: "https://app.example/done",
	}).Return(want, nil).Once()
	provider.On("CreateCheckout", mock.Anything, mock.Anything).Return(nil, billing.ErrCheckout)

	svc := billing.NewService(provider, newEnqueuer(t, outbox.NewMemoryStorage()),
		billing.WithServiceLogger(discardLogger()),
		billing.WithCheckoutRedirectURL("https://app.example/done"))

	got, err := svc.CreateCheckout(context.Background(), "user_1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = svc.CreateCheckout(context.Background(), "user_2", "")
	assert.ErrorIs(t, err, billing.ErrCheckout)
}

func TestMemoryDeduper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := billing.NewMemoryDeduper(time.Hour)

	ok, err := d.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "k1"))
	ok, err = d.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeduper(t *testing.T) {
	connURL := os.Getenv("TEST_REDIS_URL")
	if connURL == "" {
		t.Skip("TEST_REDIS_URL is not set")
	}
	t.Parallel()

	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  connURL,
		RetryAttempts:  1,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	d := billing.NewRedisDeduper(client, time.Minute)
	key := "test_" + time.Now().Format(time.RFC3339Nano)

	ok, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, key))
	ok, err = d.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, d.Release(ctx, key))
}
