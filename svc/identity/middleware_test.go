package identity_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/minutes/svc/identity"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Authenticate(ctx context.Context, token string) (*identity.Identity, error) {
	args := m.Called(ctx, token)
	id, _ := args.Get(0).(*identity.Identity)
	return id, args.Error(1)
}

func (m *mockProvider) UpdatePlanMetadata(ctx context.Context, userID, plan string) error {
	return m.Called(ctx, userID, plan).Error(0)
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "basic scheme", header: "Basic abc", want: ""},
		{name: "session cookie", cookie: "jwt", want: "jwt"},
		{name: "header wins over cookie", header: "Bearer h", cookie: "c", want: "h"},
		{name: "nothing", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: identity.SessionCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, identity.TokenFromRequest(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(id.UserID))
	})

	p := &mockProvider{}
	p.On("Authenticate", mock.Anything, "good").Return(&identity.Identity{UserID: "user_1"}, nil)
	p.On("Authenticate", mock.Anything, "bad").Return(nil, identity.ErrInvalidToken)

	h := identity.Middleware(p, log)(echo)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "valid token", header: "Bearer good", want: "user_1"},
		{name: "invalid token", header: "Bearer bad", want: "anonymous"},
		{name: "no token", want: "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestMiddleware_ProviderFailure(t *testing.T) {
	t.Parallel()

	p := &mockProvider{}
	p.On("Authenticate", mock.Anything, "good").
		Return(nil, errors.Join(identity.ErrProviderRequest, errors.New("status 503")))
	reached := false
	h := identity.Middleware(p, slog.New(slog.NewTextHandler(io.Discard, nil)))(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	assert.False(t, reached, "request must not reach the handler")
}

func TestRequireIdentity(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := identity.RequireIdentity(ok)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(identity.WithIdentity(r.Context(), &identity.Identity{UserID: "user_1"}))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()
	extract := identity.LoggerExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	attr, ok := extract(identity.WithIdentity(context.Background(), &identity.Identity{UserID: "user_9"}))
	require.True(t, ok)
	assert.Equal(t, "user_id", attr.Key)
	assert.Equal(t, "user_9", attr.Value.String())
}

func TestIdentity_DisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   identity.Identity
		want string
	}{
		{name: "first and last", id: identity.Identity{FirstName: "Ada", LastName: "Lovelace"}, want: "Ada Lovelace"},
		{name: "first only", id: identity.Identity{FirstName: " Ada "}, want: "Ada"},
		{name: "last only", id: identity.Identity{LastName: "Lovelace"}, want: "Lovelace"},
		{name: "username fallback", id: identity.Identity{Username: "ada"}, want: "ada"},
		{name: "empty", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.id.DisplayName())
		})
	}
}

func TestIdentity_Normalize(t *testing.T) {
	t.Parallel()
	// "e" followed by a combining acute accent composes to U+00E9 under NFC.
	id := identity.Identity{UserID: " u1 ", Email: " A@B.C ", FirstName: "Rene\u0301"}.Normalize()
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "a@b.c", id.Email)
	assert.Equal(t, "Ren\u00e9", id.FirstName)
}
