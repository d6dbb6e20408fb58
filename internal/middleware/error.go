package middleware

import (
	"encoding/json"
	"net/http"

	logpkg "github.com/benvon/crm-ratelimit/internal/logger"
	"go.uber.org/zap"
)

// Machine-readable codes of responses the gateway answers itself. Anything
// else the client sees comes from the CRM.
const (
	RateLimitExceededCode   = "RATE_LIMIT_EXCEEDED"
	InternalErrorCode       = "INTERNAL_ERROR"
	UpstreamUnavailableCode = "UPSTREAM_UNAVAILABLE"
	AdminDisabledCode       = "ADMIN_DISABLED"
	AdminLockedOutCode      = "ADMIN_LOCKED_OUT"
	UnauthorizedCode        = "UNAUTHORIZED"
)

// ErrorResponse is the body of a gateway-generated error. It shares the
// error/code/message fields of RateLimitResponse so clients parse one shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// ErrorHandler recovers panics in the gateway chain and answers 500 with
// InternalErrorCode. Panics raised while proxying surface here too.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						// The proxy aborts on a broken upstream stream; net/http handles it.
						panic(rec)
					}
					logger.Error("panic_recovered",
						zap.Any("error", rec),
						zap.String("path", logpkg.SanitizePath(r.URL.Path)),
						zap.String("method", r.Method),
					)
					WriteError(w, r, http.StatusInternalServerError, InternalErrorCode, "An unexpected error occurred", logger)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes a gateway error as JSON. The error field is the status
// text of status. logger may be nil.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	}
	if r != nil {
		response.Path = logpkg.SanitizePath(r.URL.Path)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil && logger != nil {
		logger.Error("failed_to_encode_error_response",
			zap.Error(err),
			zap.Int("status_code", status),
		)
	}
}
