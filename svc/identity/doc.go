// Package identity adapts a Clerk-compatible identity provider.
//
// Session tokens are RS256 JWTs read from the Authorization bearer header or
// the __session cookie and verified against the instance JWKS with go-oidc.
// When the token lacks an email claim the user record is fetched from the
// Backend API, which is also used to write public_metadata.plan.
//
// Middleware attaches the resolved Identity to the request context;
// RequireIdentity guards routes that need one.
package identity
