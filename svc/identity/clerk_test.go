package identity_test

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/minutes/svc/identity"
)

const testIssuer = "https://clerk.example.test"

type tokenSigner struct {
	key *rsa.PrivateKey
}

func newTokenSigner(t *testing.T) *tokenSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &tokenSigner{key: key}
}

func (s *tokenSigner) keySet() oidc.KeySet {
	return &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&s.key.PublicKey}}
}

func (s *tokenSigner) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: s.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	obj, err := signer.Sign(payload)
	require.NoError(t, err)
	token, err := obj.CompactSerialize()
	require.NoError(t, err)
	return token
}

func sessionClaims(sub string, extra map[string]any) map[string]any {
	now := time.Now()
	claims := map[string]any{
		"iss": testIssuer,
		"sub": sub,
		"sid": "sess_1",
		"iat": now.Unix(),
		"nbf": now.Add(-time.Minute).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

type apiCall struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

// fakeClerkAPI records every Backend API request it receives.
type fakeClerkAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	status int
	user   map[string]any
}

func (f *fakeClerkAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: string(body)})
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"errors":[{"message":"boom"}]}`, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(f.user)
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

func (f *fakeClerkAPI) Calls() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiCall(nil), f.calls...)
}

func newProvider(t *testing.T, signer *tokenSigner, api *fakeClerkAPI, parties ...string) *identity.ClerkProvider {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	p, err := identity.NewClerkProvider(context.Background(), identity.Config{
		Issuer:            testIssuer,
		APIURL:            srv.URL + "/v1",
		SecretKey:         "sk_test_123",
		AuthorizedParties: parties,
		RequestTimeout:    5 * time.Second,
	}, identity.WithKeySet(signer.keySet()), identity.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return p
}

func TestNewClerkProvider_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := identity.NewClerkProvider(context.Background(), identity.Config{APIURL: "https://api.clerk.com/v1"})
	require.ErrorIs(t, err, identity.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "CLERK_ISSUER")
	assert.Contains(t, err.Error(), "CLERK_SECRET_KEY")
}

func TestClerkProvider_Authenticate(t *testing.T) {
	t.Parallel()

	t.Run("claims carry email", func(t *testing.T) {
		t.Parallel()
		signer := newTokenSigner(t)
		api := &fakeClerkAPI{}
		p := newProvider(t, signer, api)

		token := signer.sign(t, sessionClaims("user_1", map[string]any{
			"email":      " Ada@Example.COM ",
			"first_name": "Ada",
			"last_name":  "Lovelace",
		}))

		id, err := p.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user_1", id.UserID)
		assert.Equal(t, "ada@example.com", id.Email)
		assert.Equal(t, "Ada Lovelace", id.DisplayName())
		assert.Equal(t, "sess_1", id.SessionID)
		assert.Empty(t, api.Calls(), "backend api must not be called")
	})

	t.Run("falls back to backend api", func(t *testing.T) {
		t.Parallel()
		signer := newTokenSigner(t)
		api := &fakeClerkAPI{user: map[string]any{
			"id":                       "user_2",
			"username":                 "grace",
			"first_name":               "",
			"last_name":                "",
			"primary_email_address_id": "idn_2",
			"email_addresses": []map[string]string{
				{"id": "idn_1", "email_address": "old@example.com"},
				{"id": "idn_2", "email_address": "grace@example.com"},
			},
		}}
		p := newProvider(t, signer, api)

		id, err := p.Authenticate(context.Background(), signer.sign(t, sessionClaims("user_2", nil)))
		require.NoError(t, err)
		assert.Equal(t, "grace@example.com", id.Email)
		assert.Equal(t, "grace", id.DisplayName())

		calls := api.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, http.MethodGet, calls[0].Method)
		assert.Equal(t, "/v1/users/user_2", calls[0].Path)
		assert.Equal(t, "Bearer sk_test_123", calls[0].Auth)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		signer := newTokenSigner(t)
		p := newProvider(t, signer, &fakeClerkAPI{status: http.StatusNotFound})

		_, err := p.Authenticate(context.Background(), signer.sign(t, sessionClaims("user_3", nil)))
		assert.ErrorIs(t, err, identity.ErrUserNotFound)
	})

	t.Run("rejected tokens", func(t *testing.T) {
		t.Parallel()
		signer := newTokenSigner(t)
		other := newTokenSigner(t)
		p := newProvider(t, signer, &fakeClerkAPI{}, "https://app.example.test")

		tests := []struct {
			name  string
			token string
			want  error
		}{
			{name: "empty", token: "", want: identity.ErrUnauthenticated},
			{name: "garbage", token: "not-a-jwt", want: identity.ErrInvalidToken},
			{name: "foreign key", token: other.sign(t, sessionClaims("user_1", map[string]any{"email": "a@b.c"})), want: identity.ErrInvalidToken},
			{name: "wrong issuer", token: signer.sign(t, sessionClaims("user_1", map[string]any{"iss": "https://evil.test", "email": "a@b.c"})), want: identity.ErrInvalidToken},
			{name: "expired", token: signer.sign(t, sessionClaims("user_1", map[string]any{"exp": time.Now().Add(-time.Hour).Unix(), "email": "a@b.c"})), want: identity.ErrInvalidToken},
			{name: "foreign party", token: signer.sign(t, sessionClaims("user_1", map[string]any{"azp": "https://evil.test", "email": "a@b.c"})), want: identity.ErrInvalidToken},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				id, err := p.Authenticate(context.Background(), tt.token)
				assert.ErrorIs(t, err, tt.want)
				assert.Nil(t, id)
			})
		}
	})

	t.Run("authorized party accepted", func(t *testing.T) {
		t.Parallel()
		signer := newTokenSigner(t)
		p := newProvider(t, signer, &fakeClerkAPI{}, "https://app.example.test")

		token := signer.sign(t, sessionClaims("user_1", map[string]any{"azp": "https://app.example.test", "email": "a@b.c"}))
		id, err := p.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "user_1", id.UserID)
	})
}

func TestClerkProvider_UpdatePlanMetadata(t *testing.T) {
	t.Parallel()

	t.Run("patches public metadata", func(t *testing.T) {
		t.Parallel()
		api := &fakeClerkAPI{}
		p := newProvider(t, newTokenSigner(t), api)

		require.NoError(t, p.UpdatePlanMetadata(context.Background(), "user_1", "pro"))

		calls := api.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, http.MethodPatch, calls[0].Method)
		assert.Equal(t, "/v1/users/user_1/metadata", calls[0].Path)
		assert.Equal(t, "Bearer sk_test_123", calls[0].Auth)
		assert.JSONEq(t, `{"public_metadata":{"plan":"pro"}}`, calls[0].Body)
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()
		api := &fakeClerkAPI{status: http.StatusBadGateway}
		p := newProvider(t, newTokenSigner(t), api)

		err := p.UpdatePlanMetadata(context.Background(), "user_1", "free")
		require.ErrorIs(t, err, identity.ErrProviderRequest)
		assert.Contains(t, err.Error(), "502")
		assert.Len(t, api.Calls(), 1, "no retry on failure")
	})

	t.Run("missing input", func(t *testing.T) {
		t.Parallel()
		api := &fakeClerkAPI{}
		p := newProvider(t, newTokenSigner(t), api)

		assert.ErrorIs(t, p.UpdatePlanMetadata(context.Background(), "", "pro"), identity.ErrInvalidInput)
		assert.ErrorIs(t, p.UpdatePlanMetadata(context.Background(), "user_1", ""), identity.ErrInvalidInput)
		assert.ErrorIs(t, p.UpdatePlanMetadata(context.Background(), "   ", "pro"), identity.ErrInvalidInput)
		assert.Empty(t, api.Calls())
	})
}
