// Package tenant resolves the organization a request belongs to. Resolution
// is best effort: every resolver reports ErrNoTenant when it has nothing to
// say, and callers fall back to IP-only throttling.
package tenant

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/benvon/crm-ratelimit/internal/request"
	"github.com/benvon/crm-ratelimit/internal/validation"
	"github.com/google/uuid"
)

const maxTenantIDLength = 128

var (
	// ErrNoTenant is returned when a request carries no tenant identifier.
	ErrNoTenant = errors.New("no tenant")
	// ErrInvalidTenant is returned when a tenant identifier is present but unusable as a key segment.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// Resolver resolves the tenant ID of a request. Implementations must leave
// the request body readable by the next handler.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (string, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(r *http.Request) (string, error) { return f(r) }

// Normalize validates a raw tenant identifier. UUIDs are returned in
// canonical lowercase form so that differently formatted IDs share a counter.
func Normalize(raw string) (string, error) {
	id := validation.SanitizeIdentifier(raw)
	if id == "" {
		return "", ErrNoTenant
	}
	if u, err := uuid.Parse(id); err == nil {
		return u.String(), nil
	}
	if len(id) > maxTenantIDLength || !validation.IsKeySegment(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	}
	return id, nil
}

// Chain tries each resolver in order and returns the first tenant found.
type Chain []Resolver

// Resolve implements Resolver. Failures other than ErrNoTenant are joined to
// ErrNoTenant so callers can log them without treating them as fatal.
func (c Chain) Resolve(r *http.Request) (string, error) {
	var errs []error
	for _, res := range c {
		if res == nil {
			continue
		}
		id, err := res.Resolve(r)
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil && !errors.Is(err, ErrNoTenant) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", ErrNoTenant
	}
	return "", errors.Join(append([]error{ErrNoTenant}, errs...)...)
}

// Header reads the tenant ID from a request header.
func Header(name string) Resolver {
	return ResolverFunc(func(r *http.Request) (string, error) {
		return Normalize(r.Header.Get(name))
	})
}

// Context reads a tenant ID that an earlier middleware stored on the request
// context.
func Context() Resolver {
	return ResolverFunc(func(r *http.Request) (string, error) {
		return Normalize(request.TenantFromContext(r))
	})
}

// None never resolves a tenant, which pins a route to IP-only throttling.
func None() Resolver {
	return ResolverFunc(func(*http.Request) (string, error) { return "", ErrNoTenant })
}

// Sources describes where the gateway may learn a request's tenant.
//
// Verified resolvers (bearer token, session cookie) prove the tenant. Header
// and BodyField are claims the client can set to anything, so they are off
// unless named, and should only be enabled behind a proxy that overwrites
// them. Verified resolvers always run first.
type Sources struct {
	Verified  []Resolver
	Header    string
	BodyField string
}

// Chain builds the resolver chain for s.
func (s Sources) Chain() Chain {
	c := make(Chain, 0, len(s.Verified)+2)
	for _, v := range s.Verified {
		if v != nil {
			c = append(c, v)
		}
	}
	if s.Header != "" {
		c = append(c, Header(s.Header))
	}
	if s.BodyField != "" {
		c = append(c, NewBodyResolver(s.BodyField, 0))
	}
	return c
}

// Unverified reports whether s trusts a client supplied tenant.
func (s Sources) Unverified() bool {
	return s.Header != "" || s.BodyField != ""
}
