package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/dmitrymomot/minutes/pkg/logger"
)

// ClerkProvider verifies Clerk session JWTs against the instance JWKS and
// talks to the Clerk Backend API with the secret key as bearer token.
type ClerkProvider struct {
	cfg      Config
	verifier *oidc.IDTokenVerifier
	api      *http.Client
	baseURL  string
	log      *slog.Logger
}

type ClerkOption func(*clerkOptions)

type clerkOptions struct {
	keySet     oidc.KeySet
	httpClient *http.Client
	log        *slog.Logger
}

// WithKeySet replaces the remote JWKS, e.g. with an oidc.StaticKeySet.
func WithKeySet(ks oidc.KeySet) ClerkOption {
	return func(o *clerkOptions) { o.keySet = ks }
}

// WithHTTPClient sets the base client used for JWKS and Backend API calls.
func WithHTTPClient(c *http.Client) ClerkOption {
	return func(o *clerkOptions) { o.httpClient = c }
}

func WithLogger(l *slog.Logger) ClerkOption {
	return func(o *clerkOptions) { o.log = l }
}

func NewClerkProvider(ctx context.Context, cfg Config, opts ...ClerkOption) (*ClerkProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &clerkOptions{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	// go-oidc and oauth2 both pick the base client up from the context.
	ctx = oidc.ClientContext(ctx, o.httpClient)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)

	ks := o.keySet
	if ks == nil {
		ks = oidc.NewRemoteKeySet(ctx, cfg.jwksURL())
	}

	api := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.SecretKey}))
	api.Timeout = cfg.RequestTimeout

	return &ClerkProvider{
		cfg: cfg,
		// Clerk session tokens carry no audience; azp is checked separately.
		verifier: oidc.NewVerifier(cfg.Issuer, ks, &oidc.Config{
			SkipClientIDCheck:    true,
			SupportedSigningAlgs: []string{oidc.RS256},
		}),
		api:     api,
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		log:     o.log.With(logger.Provider("clerk")),
	}, nil
}

type sessionClaims struct {
	Subject         string `json:"sub"`
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp"`
	// Present only when the instance customises its session token template.
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Authenticate verifies token and resolves the caller. The Backend API is
// consulted only when the token does not carry an email claim.
func (p *ClerkProvider) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	idToken, err := p.verifier.Verify(ctx, token)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	var claims sessionClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, errors.Join(ErrInvalidToken, errors.New("missing sub claim"))
	}
	if len(p.cfg.AuthorizedParties) > 0 && claims.AuthorizedParty != "" &&
		!slices.Contains(p.cfg.AuthorizedParties, claims.AuthorizedParty) {
		return nil, errors.Join(ErrInvalidToken, fmt.Errorf("unauthorized party %q", claims.AuthorizedParty))
	}

	id := Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Username:  claims.Username,
		SessionID: claims.SessionID,
	}
	if id.Email == "" {
		user, err := p.getUser(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		id.Email = user.primaryEmail()
		id.FirstName = user.FirstName
		id.LastName = user.LastName
		id.Username = user.Username
	}

	out := id.Normalize()
	return &out, nil
}

type clerkUser struct {
	ID                    string `json:"id"`
	Username              string `json:"username"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (u clerkUser) primaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (p *ClerkProvider) getUser(ctx context.Context, userID string) (*clerkUser, error) {
	var user clerkUser
	if err := p.call(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePlanMetadata merges {"public_metadata":{"plan":plan}} into the user.
func (p *ClerkProvider) UpdatePlanMetadata(ctx context.Context, userID, plan string) error {
	userID, plan = strings.TrimSpace(userID), strings.TrimSpace(plan)
	if userID == "" || plan == "" {
		return ErrInvalidInput
	}
	body := map[string]any{
		"public_metadata": map[string]string{"plan": plan},
	}
	if err := p.call(ctx, http.MethodPatch, "/users/"+url.PathEscape(userID)+"/metadata", body, nil); err != nil {
		return err
	}
	p.log.InfoContext(ctx, "identity metadata updated", logger.UserID(userID), logger.Plan(plan))
	return nil
}

func (p *ClerkProvider) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Join(ErrProviderRequest, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.api.Do(req)
	if err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Join(ErrProviderRequest,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	return nil
}
