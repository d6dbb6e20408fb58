package tenant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/benvon/crm-ratelimit/internal/request"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"uuid canonicalized", "  6BA7B810-9DAD-11D1-80B4-00C04FD430C8 ", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil},
		{"braced uuid", "{6ba7b810-9dad-11d1-80b4-00c04fd430c8}", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", nil},
		{"slug", "acme-corp", "acme-corp", nil},
		{"empty", "   ", "", ErrNoTenant},
		{"inner space", "acme corp", "", ErrInvalidTenant},
		{"control chars stripped", "acme\x00", "acme", nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Normalize(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestHeader(t *testing.T) {
	t.Parallel()
	res := Header("X-Organization-ID")

	r := httptest.NewRequest("GET", "/", nil)
	if _, err := res.Resolve(r); !errors.Is(err, ErrNoTenant) {
		t.Errorf("missing header error = %v, want ErrNoTenant", err)
	}
	r.Header.Set("X-Organization-ID", "org-1")
	if got, err := res.Resolve(r); err != nil || got != "org-1" {
		t.Errorf("Resolve() = %q, %v; want org-1", got, err)
	}
}

func TestContext(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(request.WithTenant(context.Background(), "org-ctx"))
	if got, err := Context().Resolve(r); err != nil || got != "org-ctx" {
		t.Errorf("Resolve() = %q, %v; want org-ctx", got, err)
	}
}

func TestNone(t *testing.T) {
	t.Parallel()
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Organization-ID", "org-1")
	if _, err := None().Resolve(r); !errors.Is(err, ErrNoTenant) {
		t.Errorf("None() error = %v, want ErrNoTenant", err)
	}
}

func TestChain(t *testing.T) {
	t.Parallel()
	errBoom := errors.New("boom")
	failing := ResolverFunc(func(*http.Request) (string, error) { return "", errBoom })
	found := ResolverFunc(func(*http.Request) (string, error) { return "org-9", nil })

	tests := []struct {
		name      string
		chain     Chain
		want      string
		wantErrIs []error
	}{
		{"first hit wins", Chain{None(), found, failing}, "org-9", nil},
		{"skips failures", Chain{failing, nil, found}, "org-9", nil},
		{"empty", Chain{}, "", []error{ErrNoTenant}},
		{"all miss", Chain{None(), None()}, "", []error{ErrNoTenant}},
		{"failure joined", Chain{failing, None()}, "", []error{ErrNoTenant, errBoom}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.chain.Resolve(httptest.NewRequest("GET", "/", nil))
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
			if len(tt.wantErrIs) == 0 && err != nil {
				t.Errorf("Resolve() error = %v, want nil", err)
			}
			for _, want := range tt.wantErrIs {
				if !errors.Is(err, want) {
					t.Errorf("Resolve() error = %v, want it to wrap %v", err, want)
				}
			}
		})
	}
}

func TestSources_Chain(t *testing.T) {
	t.Parallel()
	verified := ResolverFunc(func(*http.Request) (string, error) { return "", ErrNoTenant })

	tests := []struct {
		name     string
		sources  Sources
		wantLen  int
		wantUnv  bool
		headerID string
	}{
		{"verified only ignores claimed header", Sources{Verified: []Resolver{verified}}, 1, false, ""},
		{"header opt in", Sources{Verified: []Resolver{verified}, Header: "X-Organization-ID"}, 2, true, "org-7"},
		{"body opt in", Sources{BodyField: "organizationId"}, 1, true, ""},
		{"nil verified skipped", Sources{Verified: []Resolver{nil}}, 0, false, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := tt.sources.Chain()
			if len(c) != tt.wantLen {
				t.Fatalf("len(Chain()) = %d, want %d", len(c), tt.wantLen)
			}
			if got := tt.sources.Unverified(); got != tt.wantUnv {
				t.Errorf("Unverified() = %v, want %v", got, tt.wantUnv)
			}
			r := httptest.NewRequest("GET", "/", nil)
			r.Header.Set("X-Organization-ID", "org-7")
			got, _ := c.Resolve(r)
			if got != tt.headerID {
				t.Errorf("Resolve() = %q, want %q", got, tt.headerID)
			}
		})
	}
}
