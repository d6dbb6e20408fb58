package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benvon/crm-ratelimit/internal/ratelimit"
)

type fakeSessions struct {
	mu    sync.Mutex
	orgs  map[string]string
	err   error
	calls int
}

func (f *fakeSessions) OrganizationID(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.orgs[token], nil
}

func sessionRequest(cookie, value string) *http.Request {
	r := httptest.NewRequest("POST", "/api/contacts", nil)
	if value != "" {
		r.AddCookie(&http.Cookie{Name: cookie, Value: value})
	}
	return r
}

func TestSessionResolver(t *testing.T) {
	t.Parallel()
	lookup := &fakeSessions{orgs: map[string]string{"tok-1": "org-1"}}
	res := NewSessionResolver(lookup)

	tests := []struct {
		name    string
		req     *http.Request
		want    string
		wantErr error
	}{
		{"known session", sessionRequest(DefaultSessionCookie, "tok-1"), "org-1", nil},
		{"unknown session", sessionRequest(DefaultSessionCookie, "tok-2"), "", ErrNoTenant},
		{"no cookie", sessionRequest(DefaultSessionCookie, ""), "", ErrNoTenant},
		{"other cookie", sessionRequest("other", "tok-1"), "", ErrNoTenant},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := res.Resolve(tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionResolver_LookupError(t *testing.T) {
	t.Parallel()
	res := NewSessionResolver(&fakeSessions{err: errors.New("connection refused")}, WithSessionCookie("sid"))
	_, err := res.Resolve(sessionRequest("sid", "tok"))
	if err == nil || errors.Is(err, ErrNoTenant) {
		t.Errorf("Resolve() error = %v, want lookup failure", err)
	}
}

func TestSessionResolver_Cache(t *testing.T) {
	t.Parallel()
	lookup := &fakeSessions{orgs: map[string]string{"tok-1": "org-1"}}
	store := ratelimit.NewMemoryStore(ratelimit.WithMemorySweepInterval(0))
	defer store.Close()
	res := NewSessionResolver(lookup, WithSessionCache(store, time.Minute))

	for i := 0; i < 3; i++ {
		if got, err := res.Resolve(sessionRequest(DefaultSessionCookie, "tok-1")); err != nil || got != "org-1" {
			t.Fatalf("Resolve() = %q, %v", got, err)
		}
	}
	// Misses are never cached.
	for i := 0; i < 2; i++ {
		_, _ = res.Resolve(sessionRequest(DefaultSessionCookie, "tok-2"))
	}
	if lookup.calls != 3 {
		t.Errorf("lookup calls = %d, want 3", lookup.calls)
	}
}
