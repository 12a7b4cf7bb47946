// Package middleware holds HTTP middleware shared across routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/qiwenz/parley/backend/pkg/utils"
)

// BearerAuth rejects requests whose Authorization header does not carry
// the expected bearer token. An empty token disables the check, so local
// development needs no credentials.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				utils.RespondError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
