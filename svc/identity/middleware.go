package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/minutes/handler"
	"github.com/dmitrymomot/minutes/pkg/logger"
)

// Middleware resolves the caller when the request carries credentials.
// Requests without credentials, or with credentials the provider rejects,
// continue anonymously; RequireIdentity decides whether that is allowed.
// Any other provider failure ends the request with 500.
func Middleware(p Provider, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := p.Authenticate(r.Context(), token)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
			case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUnauthenticated):
				log.DebugContext(r.Context(), "identity not resolved", logger.Error(err))
				next.ServeHTTP(w, r)
			default:
				log.ErrorContext(r.Context(), "identity provider failed", logger.Error(err))
				handler.WriteError(w, handler.ErrInternal.Wrap(err))
			}
		})
	}
}

// RequireIdentity answers 401 when no identity was resolved.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			handler.WriteError(w, handler.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
