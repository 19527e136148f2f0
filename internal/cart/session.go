package cart

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// SessionHeader lets API clients pass the session without cookies.
const SessionHeader = "X-Session-ID"

// Session resolves the storefront session from the cookie or header and
// stores it on the request context. A new session cookie is issued when
// neither is present.
func Session(cookieName string, secure bool) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = "xmoney_session"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(SessionHeader))
			if id == "" {
				if c, err := r.Cookie(cookieName); err == nil {
					id = strings.TrimSpace(c.Value)
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					Expires:  time.Now().Add(30 * 24 * time.Hour),
				})
			}
			next.ServeHTTP(w, r.WithContext(common.WithSessionID(r.Context(), id)))
		})
	}
}
