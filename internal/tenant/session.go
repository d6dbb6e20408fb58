package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/crm-ratelimit/internal/ratelimit"
)

// DefaultSessionCookie is the CRM's session cookie name.
const DefaultSessionCookie = "session_token"

// SessionLookup maps a session token to its organization. It returns "" with
// a nil error for unknown or expired sessions.
type SessionLookup interface {
	OrganizationID(ctx context.Context, sessionToken string) (string, error)
}

// SessionResolver resolves the tenant from the session cookie.
type SessionResolver struct {
	lookup   SessionLookup
	cookie   string
	cache    ratelimit.CounterStore
	cacheTTL time.Duration
}

// SessionOption configures a SessionResolver.
type SessionOption func(*SessionResolver)

// WithSessionCookie overrides DefaultSessionCookie.
func WithSessionCookie(name string) SessionOption {
	return func(s *SessionResolver) {
		if name != "" {
			s.cookie = name
		}
	}
}

// WithSessionCache memoizes lookups in store for ttl. Only hits are cached so
// a session created after a miss is seen immediately.
func WithSessionCache(store ratelimit.CounterStore, ttl time.Duration) SessionOption {
	return func(s *SessionResolver) {
		s.cache = store
		s.cacheTTL = ttl
	}
}

// NewSessionResolver creates a SessionResolver.
func NewSessionResolver(lookup SessionLookup, opts ...SessionOption) *SessionResolver {
	s := &SessionResolver{lookup: lookup, cookie: DefaultSessionCookie}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve implements Resolver.
func (s *SessionResolver) Resolve(r *http.Request) (string, error) {
	c, err := r.Cookie(s.cookie)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return "", ErrNoTenant
	}
	if err != nil {
		return "", fmt.Errorf("read session cookie: %w", err)
	}

	ctx := r.Context()
	sum := sha256.Sum256([]byte(c.Value))
	key := "session:org:" + hex.EncodeToString(sum[:])
	if s.cache != nil {
		if org, found, err := s.cache.Get(ctx, key); err == nil && found {
			return org, nil
		}
	}

	org, err := s.lookup.OrganizationID(ctx, c.Value)
	if err != nil {
		return "", fmt.Errorf("lookup session organization: %w", err)
	}
	id, err := Normalize(org)
	if err != nil {
		return "", err
	}
	if s.cache != nil && s.cacheTTL > 0 {
		// A cache write failure only costs the next request a lookup.
		_ = s.cache.SetWithTTL(ctx, key, id, s.cacheTTL)
	}
	return id, nil
}
