package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	logpkg "github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/benvon/crm-ratelimit/internal/request"
	"go.uber.org/zap"
)

// Failed admin logins allowed per client IP before lockout.
const (
	AdminAuthMaxFailures   = 5
	AdminAuthFailureWindow = 15 * time.Minute
)

// AdminAuth guards the admin API with a static bearer token. Each client IP
// gets AdminAuthMaxFailures bad attempts per AdminAuthFailureWindow; after
// that it is locked out until the oldest failure ages out. An empty token
// disables the admin API entirely.
func AdminAuth(token string, failures *ratelimit.HitLog, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				WriteError(w, r, http.StatusNotFound, AdminDisabledCode, "The admin API is not enabled", logger)
				return
			}
			ip := request.ClientIP(r)
			if failures != nil && failures.Count(ip) >= AdminAuthMaxFailures {
				logger.Warn("admin_auth_locked_out", zap.String("ip", logpkg.SanitizeIP(ip)))
				WriteError(w, r, http.StatusTooManyRequests, AdminLockedOutCode, "Too many failed attempts", logger)
				return
			}

			got, ok := request.BearerToken(r)
			if !ok {
				WriteError(w, r, http.StatusUnauthorized, UnauthorizedCode, "Missing or invalid Authorization header", logger)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				if failures != nil {
					failures.Allow(ip, AdminAuthMaxFailures, AdminAuthFailureWindow)
				}
				WriteError(w, r, http.StatusUnauthorized, UnauthorizedCode, "Invalid token", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
