package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/xmoney-bridge/internal/common"
)

// Middleware guards admin routes with a bearer token.
type Middleware struct {
	Admin  *Admin
	Logger zerolog.Logger
}

// RequireAdmin rejects requests without a valid admin token and stores the
// token subject on the request context.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Admin == nil {
			common.JSONError(w, http.StatusServiceUnavailable, "ADMIN_AUTH_DISABLED", "admin access is not configured", nil)
			return
		}
		subject, err := m.Admin.Parse(bearer(r))
		if err != nil {
			m.Logger.Warn().Err(errors.Unwrap(err)).Str("path", r.URL.Path).Msg("admin_auth_rejected")
			common.WriteError(w, err)
			return
		}
		m.Logger.Info().Str("subject", subject).Str("method", r.Method).Str("path", r.URL.Path).Msg("admin_request")
		next.ServeHTTP(w, r.WithContext(common.WithSubject(r.Context(), subject)))
	})
}

func bearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
