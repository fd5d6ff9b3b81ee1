package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/dmitrymomot/minutes/handler"
)

// bearerGuard requires "Authorization: Bearer <token>" when token is set.
func bearerGuard(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				handler.WriteError(w, handler.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
