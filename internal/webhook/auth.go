package webhook

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-shop/meridian-shop/internal/platform/httpx"
)

// BasicAuth guards the webhook endpoints with a single shared credential.
// The password is compared against a bcrypt hash so the plaintext never
// lives in configuration.
func BasicAuth(username string, passwordHash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				bcrypt.CompareHashAndPassword(passwordHash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="webhooks"`)
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
