package server

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/qrinfo/hunt/internal/identity"
)

const operatorKeyHeader = "X-Operator-Key"

// operatorAuthMiddleware admits requests whose X-Operator-Key matches the
// configured bcrypt hash.
func operatorAuthMiddleware(keyHash string) func(http.Handler) http.Handler {
	hash := []byte(keyHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(operatorKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// playerMiddleware resolves the device identity and stores it in the
// request context.
func playerMiddleware(resolver *identity.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.FromRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "player identity required")
				return
			}
			ctx := identity.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func playerFrom(r *http.Request) string {
	return identity.FromContext(r.Context())
}
