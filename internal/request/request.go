package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type contextKey string

const (
	tenantContextKey      contextKey = "tenant"
	annotationsContextKey contextKey = "annotations"
)

// UnknownClientIP is returned by ClientIP when no forwarding header is present.
const UnknownClientIP = "unknown"

// DefaultPeekLimit bounds how much of a request body PeekBody buffers.
const DefaultPeekLimit = 64 << 10

// ErrBodyTooLarge is returned by PeekBody when the body exceeds the limit.
// The body is still restored in full.
var ErrBodyTooLarge = errors.New("request body exceeds peek limit")

// clientIPHeaders is the client IP precedence, first match wins: proxy chain,
// CDN origin, generic reverse proxy, platform forwarding.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"CF-Connecting-IP",
	"X-Real-IP",
	"X-Vercel-Forwarded-For",
}

// TenantContextKey returns the context key used for the tenant. Exposed for tests that inject non-string values.
func TenantContextKey() contextKey { return tenantContextKey }

// ClientIP extracts the client IP from forwarding headers. The first entry of a
// comma-separated list wins. A header whose first entry is blank names no
// client, so the next header in precedence is consulted rather than a later
// entry of the same list. RemoteAddr is ignored: behind the load balancer it
// is always the proxy.
func ClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return UnknownClientIP
}

// WithTenant returns a context with the tenant ID attached.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}

// TenantFromContext returns the tenant ID from the request context, or "" if missing or wrong type.
func TenantFromContext(r *http.Request) string {
	t, _ := r.Context().Value(tenantContextKey).(string)
	return t
}

// PeekBody returns up to limit bytes of the request body and restores r.Body
// so the next reader sees the full, unconsumed stream.
func PeekBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultPeekLimit
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	// Whatever was read goes back in front of the unread remainder.
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if int64(len(buf)) > limit {
		return nil, ErrBodyTooLarge
	}
	return buf, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Annotations carries facts learned deep in the middleware chain, such as
// the resolved tenant and the throttling scope, back out to the logging and
// audit middleware. It is owned by a single request.
type Annotations struct {
	TenantID string
	Policy   string
	Scope    string
}

// WithAnnotations returns r with an Annotations attached, reusing one that
// an outer middleware already attached.
func WithAnnotations(r *http.Request) (*http.Request, *Annotations) {
	if a := AnnotationsFrom(r); a != nil {
		return r, a
	}
	a := &Annotations{}
	return r.WithContext(context.WithValue(r.Context(), annotationsContextKey, a)), a
}

// AnnotationsFrom returns the request's Annotations, or nil.
func AnnotationsFrom(r *http.Request) *Annotations {
	a, _ := r.Context().Value(annotationsContextKey).(*Annotations)
	return a
}
