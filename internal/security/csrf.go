package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// CodeInvalidToken is returned when the double-submit check fails.
const CodeInvalidToken = "invalid_token"

// CSRF protects cookie-based checkout flows using the double-submit technique.
type CSRF struct {
	Header string
	Secure bool
}

func (c CSRF) name() string {
	if h := strings.TrimSpace(c.Header); h != "" {
		return h
	}
	return "X-CSRF-Token"
}

// Middleware enforces that non-idempotent requests include a CSRF token header matching a cookie.
func (c CSRF) Middleware(next http.Handler) http.Handler {
	headerName := c.name()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions || method == http.MethodTrace {
			next.ServeHTTP(w, r)
			return
		}

		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(headerName))
		cookie, err := r.Cookie(headerName)
		if token == "" || err != nil || strings.TrimSpace(cookie.Value) == "" || !tokensEqual(token, cookie.Value) {
			common.JSONError(w, http.StatusForbidden, CodeInvalidToken, "Security check failed", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Issue sets a fresh token cookie and returns the token for the header.
func (c CSRF) Issue(w http.ResponseWriter, _ *http.Request) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not issue token", nil)
		return
	}
	token := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    token,
		Path:     "/",
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	common.JSON(w, http.StatusOK, map[string]string{"token": token})
}

func tokensEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
