package billing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/minutes/pkg/outbox"
	"github.com/dmitrymomot/minutes/svc/billing"
	"github.com/dmitrymomot/minutes/svc/profile"
)

type mockMetadata struct {
	mock.Mock
}

func (m *mockMetadata) UpdatePlanMetadata(ctx context.Context, userID, plan string) error {
	return m.Called(ctx, userID, plan).Error(0)
}

func newProfiles() *profile.Service {
	return profile.NewService(profile.NewMemoryStore(), profile.WithLogger(discardLogger()))
}

func TestReconciler_Reconcile(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("writes profile and metadata", func(t *testing.T) {
		t.Parallel()
		profiles := newProfiles()
		meta := &mockMetadata{}
		meta.On("UpdatePlanMetadata", mock.Anything, "user_1", "pro").Return(nil).Once()
		r := billing.NewReconciler(profiles, meta, discardLogger())

		require.NoError(t, r.Reconcile(context.Background(), billing.PlanChange{
			EventID: "evt_1", UserID: "user_1", Plan: profile.PlanPro, OccurredAt: base,
		}))

		p, err := profiles.Get(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, profile.PlanPro, p.Plan)
		meta.AssertExpectations(t)
	})

	t.Run("stale change pushes current plan", func(t *testing.T) {
		t.Parallel()
		profiles := newProfiles()
		_, err := profiles.ApplyPlan(context.Background(), "user_1", profile.PlanFree, base.Add(time.Hour))
		require.NoError(t, err)

		meta := &mockMetadata{}
		meta.On("UpdatePlanMetadata", mock.Anything, "user_1", "free").Return(nil).Once()
		r := billing.NewReconciler(profiles, meta, discardLogger())

		require.NoError(t, r.Reconcile(context.Background(), billing.PlanChange{
			EventID: "evt_old", UserID: "user_1", Plan: profile.PlanPro, OccurredAt: base,
		}))

		p, err := profiles.Get(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, profile.PlanFree, p.Plan)
		meta.AssertExpectations(t)
	})

	t.Run("retry after metadata failure converges", func(t *testing.T) {
		t.Parallel()
		profiles := newProfiles()
		meta := &mockMetadata{}
		meta.On("UpdatePlanMetadata", mock.Anything, "user_1", "pro").Return(errors.New("clerk down")).Once()
		meta.On("UpdatePlanMetadata", mock.Anything, "user_1", "pro").Return(nil).Once()
		r := billing.NewReconciler(profiles, meta, discardLogger())
		change := billing.PlanChange{EventID: "evt_1", UserID: "user_1", Plan: profile.PlanPro, OccurredAt: base}

		require.Error(t, r.Reconcile(context.Background(), change))
		require.NoError(t, r.Reconcile(context.Background(), change))
		meta.AssertExpectations(t)
	})
}

func TestReconciler_WithRelay(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, meta *mockMetadata) (*billing.Service, *outbox.Relay, *outbox.MemoryStorage, *profile.Service) {
		t.Helper()
		store := outbox.NewMemoryStorage()
		enq, err := outbox.NewEnqueuer(store, outbox.WithDefaultMaxAttempts(3))
		require.NoError(t, err)

		provider := &mockProvider{}
		provider.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(conversion("evt_1"), nil)
		svc := billing.NewService(provider, enq, billing.WithServiceLogger(discardLogger()))

		profiles := newProfiles()
		relay, err := outbox.NewRelay(store,
			outbox.WithLogger(discardLogger()),
			outbox.WithBackoff(func(int) time.Duration { return 0 }))
		require.NoError(t, err)
		require.NoError(t, relay.Register(billing.NewReconciler(profiles, meta, discardLogger()).Handler()))
		return svc, relay, store, profiles
	}

	t.Run("webhook to reconciled plan", func(t *testing.T) {
		t.Parallel()
		meta := &mockMetadata{}
		meta.On("UpdatePlanMetadata", mock.Anything, "user_1", "pro").Return(nil).Once()
		svc, relay, store, profiles := setup(t, meta)

		_, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		require.NoError(t, err)

		processed, err := relay.ProcessNext(context.Background())
		require.NoError(t, err)
		require.True(t, processed)

		processed, err = relay.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.False(t, processed)

		p, err := profiles.Get(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, profile.PlanPro, p.Plan)
		assert.Empty(t, store.DeadLetters())
		meta.AssertExpectations(t)
	})

	t.Run("persistent failure is dead-lettered", func(t *testing.T) {
		t.Parallel()
		meta := &mockMetadata{}
		meta.On("UpdatePlanMetadata", mock.Anything, "user_1", mock.Anything).Return(errors.New("clerk down"))
		svc, relay, store, _ := setup(t, meta)

		_, err := svc.HandleWebhook(context.Background(), nil, http.Header{})
		require.NoError(t, err)

		for range 3 {
			processed, err := relay.ProcessNext(context.Background())
			require.NoError(t, err)
			require.True(t, processed)
		}
		processed, err := relay.ProcessNext(context.Background())
		require.NoError(t, err)
		assert.False(t, processed)

		dead := store.DeadLetters()
		require.Len(t, dead, 1)
		assert.Equal(t, 3, dead[0].Attempts)
		assert.Contains(t, dead[0].Error, "clerk down")
		meta.AssertNumberOfCalls(t, "UpdatePlanMetadata", 3)
	})
}
