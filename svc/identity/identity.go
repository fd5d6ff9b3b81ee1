package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnauthenticated = errors.New("identity: no credentials on request")
	ErrInvalidToken    = errors.New("identity: session token is invalid")
	ErrUserNotFound    = errors.New("identity: user not found")
	ErrProviderRequest = errors.New("identity: provider request failed")
	ErrInvalidConfig   = errors.New("identity: invalid configuration")
	ErrInvalidInput    = errors.New("identity: invalid input")
)

// Identity is the authenticated caller as reported by the identity provider.
type Identity struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
	SessionID string `json:"-"`
}

// DisplayName joins first and last name, falling back to the username.
func (i Identity) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
	if name == "" {
		name = strings.TrimSpace(i.Username)
	}
	return name
}

// Normalize trims every field, applies Unicode NFC and lowercases the email.
func (i Identity) Normalize() Identity {
	clean := func(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }
	return Identity{
		UserID:    strings.TrimSpace(i.UserID),
		Email:     strings.ToLower(clean(i.Email)),
		FirstName: clean(i.FirstName),
		LastName:  clean(i.LastName),
		Username:  clean(i.Username),
		SessionID: i.SessionID,
	}
}

// Provider reads identities from session tokens and writes user metadata.
type Provider interface {
	// Authenticate verifies a session token and resolves the caller.
	Authenticate(ctx context.Context, token string) (*Identity, error)
	// UpdatePlanMetadata sets public_metadata.plan on the provider's user record.
	UpdatePlanMetadata(ctx context.Context, userID, plan string) error
}

// Config configures the Clerk-compatible provider.
type Config struct {
	Issuer            string        `env:"CLERK_ISSUER"`
	JWKSURL           string        `env:"CLERK_JWKS_URL"`
	APIURL            string        `env:"CLERK_API_URL" envDefault:"https://api.clerk.com/v1"`
	SecretKey         string        `env:"CLERK_SECRET_KEY"`
	AuthorizedParties []string      `env:"CLERK_AUTHORIZED_PARTIES" envSeparator:","`
	RequestTimeout    time.Duration `env:"CLERK_REQUEST_TIMEOUT" envDefault:"10s"`
}

func (c Config) Validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, errors.New("CLERK_ISSUER is empty"))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("CLERK_API_URL is empty"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("CLERK_SECRET_KEY is empty"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// jwksURL defaults to the issuer's well-known JWKS document.
func (c Config) jwksURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return strings.TrimRight(c.Issuer, "/") + "/.well-known/jwks.json"
}
