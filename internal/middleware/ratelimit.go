package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	logpkg "github.com/benvon/crm-ratelimit/internal/logger"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/benvon/crm-ratelimit/internal/request"
	"github.com/benvon/crm-ratelimit/internal/tenant"
	"go.uber.org/zap"
)

// Rate limit response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitScope     = "X-RateLimit-Scope"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitResponse is the body of a 429 response.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
	Limit      int    `json:"limit"`
	Reset      int64  `json:"reset"`
}

// DenyHook is called after a request has been answered with 429.
type DenyHook func(r *http.Request, policy ratelimit.Policy, tenantID string, d ratelimit.CombinedDecision)

// RateLimitOption configures the rate limit middleware.
type RateLimitOption func(*rateLimiter)

// WithTenantResolver sets how the tenant of a request is found. Without one,
// every request is throttled by IP only.
func WithTenantResolver(res tenant.Resolver) RateLimitOption {
	return func(m *rateLimiter) {
		if res != nil {
			m.resolver = res
		}
	}
}

// WithDenyHook registers a callback for denied requests.
func WithDenyHook(hook DenyHook) RateLimitOption {
	return func(m *rateLimiter) { m.onDeny = hook }
}

// WithRateLimitLogger sets the logger.
func WithRateLimitLogger(log *zap.Logger) RateLimitOption {
	return func(m *rateLimiter) {
		if log != nil {
			m.log = log
		}
	}
}

type rateLimiter struct {
	limiter  *ratelimit.Limiter
	resolver tenant.Resolver
	onDeny   DenyHook
	log      *zap.Logger
}

func newRateLimiter(l *ratelimit.Limiter, opts []RateLimitOption) *rateLimiter {
	m := &rateLimiter{limiter: l, resolver: tenant.None(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RateLimit throttles requests under policy, per client IP with the policy's
// burst and per tenant at its nominal limit. Denied requests get a 429 and
// never reach next; admitted responses carry the X-RateLimit-* headers.
func RateLimit(l *ratelimit.Limiter, policy ratelimit.Policy, opts ...RateLimitOption) func(http.Handler) http.Handler {
	m := newRateLimiter(l, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next, policy)
		})
	}
}

// RateLimitByName is RateLimit with the policy looked up on every request,
// so reloaded overrides take effect without rebuilding the router. An
// unknown name admits the request.
func RateLimitByName(l *ratelimit.Limiter, policies ratelimit.PolicySource, name string, opts ...RateLimitOption) func(http.Handler) http.Handler {
	m := newRateLimiter(l, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy, ok := policies.Lookup(name)
			if !ok {
				m.log.Error("rate_limit_policy_not_found", zap.String("policy", name))
				next.ServeHTTP(w, r)
				return
			}
			m.serve(w, r, next, policy)
		})
	}
}

func (m *rateLimiter) serve(w http.ResponseWriter, r *http.Request, next http.Handler, policy ratelimit.Policy) {
	ip := request.ClientIP(r)
	tenantID := m.resolveTenant(r)

	d := m.limiter.CheckCombined(r.Context(), ip, tenantID, policy)

	if a := request.AnnotationsFrom(r); a != nil {
		a.Policy = policy.Name
		a.Scope = string(d.Scope)
		a.TenantID = tenantID
	}

	if !d.Success {
		m.log.Debug("rate_limit_exceeded",
			zap.String("policy", policy.Name),
			zap.String("scope", string(d.Scope)),
			zap.String("ip", logpkg.SanitizeIP(ip)),
			zap.String("tenant_id", logpkg.SanitizeTenantID(tenantID)),
			zap.Int("retry_after", d.RetryAfter),
		)
		m.respondRateLimited(w, d)
		if m.onDeny != nil {
			m.onDeny(r, policy, tenantID, d)
		}
		return
	}

	if tenantID != "" {
		r = r.WithContext(request.WithTenant(r.Context(), tenantID))
	}
	sw := &rateLimitHeaderWriter{ResponseWriter: w, decision: d}
	next.ServeHTTP(sw, r)
	// A handler that wrote nothing still gets the headers on the implicit 200.
	sw.stamp()
}

// resolveTenant never fails: any resolver error narrows the check to IP only.
func (m *rateLimiter) resolveTenant(r *http.Request) string {
	id, err := m.resolver.Resolve(r)
	if err != nil {
		if !isAnonymous(err) {
			m.log.Debug("tenant_resolution_failed", zap.String("error", logpkg.SanitizeError(err)))
		}
		return ""
	}
	return id
}

// isAnonymous reports whether err only says the request named no tenant.
// Errors joined by tenant.Chain also carry real resolver failures.
func isAnonymous(err error) bool {
	var joined interface{ Unwrap() []error }
	return errors.Is(err, tenant.ErrNoTenant) && !errors.As(err, &joined)
}

func (m *rateLimiter) respondRateLimited(w http.ResponseWriter, d ratelimit.CombinedDecision) {
	h := w.Header()
	setRateLimitHeaders(h, d)
	h.Set(HeaderRateLimitRemaining, "0")
	h.Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfter))
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body := RateLimitResponse{
		Error:      "Rate limit exceeded",
		Code:       RateLimitExceededCode,
		Message:    fmt.Sprintf("Too many requests. Please retry after %d seconds.", d.RetryAfter),
		RetryAfter: d.RetryAfter,
		Limit:      d.Limit,
		Reset:      d.Reset,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		m.log.Error("failed_to_encode_rate_limit_response", zap.Error(err))
	}
}

func setRateLimitHeaders(h http.Header, d ratelimit.CombinedDecision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.Reset, 10))
	h.Set(HeaderRateLimitScope, string(d.Scope))
}

// rateLimitHeaderWriter adds the rate limit headers just before the wrapped
// handler's header is written. Status and body pass through untouched.
type rateLimitHeaderWriter struct {
	http.ResponseWriter
	decision ratelimit.CombinedDecision
	stamped  bool
}

func (w *rateLimitHeaderWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	setRateLimitHeaders(w.ResponseWriter.Header(), w.decision)
}

func (w *rateLimitHeaderWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *rateLimitHeaderWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming responses from the reverse proxy working.
func (w *rateLimitHeaderWriter) Flush() {
	w.stamp()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *rateLimitHeaderWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
