package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultRegistry_Presets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		limit  int
		window time.Duration
		burst  int
	}{
		{PolicyDemoAuth, 10, 60 * time.Second, 0},
		{PolicyDemoAPI, 30, 60 * time.Second, 0},
		{PolicyDemoExport, 3, 300 * time.Second, 0},
		{PolicyWriteContacts, 100, 60 * time.Second, 120},
		{PolicyWriteDeals, 50, 60 * time.Second, 120},
		{PolicyWriteImport, 5, 60 * time.Second, 120},
		{PolicyWriteEmail, 200, 60 * time.Second, 120},
		{PolicyWriteCompanies, 60, 60 * time.Second, 120},
		{PolicyWritePipelines, 60, 60 * time.Second, 120},
	}
	reg := DefaultRegistry()
	if got := len(reg.Names()); got != len(tests) {
		t.Errorf("registry has %d policies, want %d", got, len(tests))
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, ok := reg.Lookup(tt.name)
			if !ok {
				t.Fatalf("preset %q missing", tt.name)
			}
			if p.Limit != tt.limit || p.Window != tt.window || p.Burst != tt.burst {
				t.Errorf("preset %q = %+v, want limit %d window %v burst %d", tt.name, p, tt.limit, tt.window, tt.burst)
			}
			if p.Namespace != tt.name {
				t.Errorf("namespace = %q, want %q", p.Namespace, tt.name)
			}
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{Name: "a", Limit: 1, Window: time.Second, Namespace: "a"}, false},
		{"valid burst", Policy{Name: "a", Limit: 5, Window: time.Second, Namespace: "a", Burst: 5}, false},
		{"burst below limit", Policy{Name: "a", Limit: 5, Window: time.Second, Namespace: "a", Burst: 4}, true},
		{"zero limit", Policy{Name: "a", Limit: 0, Window: time.Second, Namespace: "a"}, true},
		{"zero window", Policy{Name: "a", Limit: 1, Namespace: "a"}, true},
		{"empty namespace", Policy{Name: "a", Limit: 1, Window: time.Second}, true},
		{"namespace with space", Policy{Name: "a", Limit: 1, Window: time.Second, Namespace: "a b"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("error %v does not wrap ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_IPLimit(t *testing.T) {
	t.Parallel()
	if got := (Policy{Limit: 5}).IPLimit(); got != 5 {
		t.Errorf("IPLimit() without burst = %d, want 5", got)
	}
	if got := (Policy{Limit: 5, Burst: 9}).IPLimit(); got != 9 {
		t.Errorf("IPLimit() with burst = %d, want 9", got)
	}
}

func TestRegistry_Get_Unknown(t *testing.T) {
	t.Parallel()
	_, err := DefaultRegistry().Get("nope")
	if !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("Get() error = %v, want ErrUnknownPolicy", err)
	}
}

func TestRegistry_WithOverrides(t *testing.T) {
	t.Parallel()
	base := DefaultRegistry()
	reg, err := base.WithOverrides(map[string]string{
		PolicyWriteImport: "10-H",
		PolicyDemoAuth:    "20-S",
	})
	if err != nil {
		t.Fatalf("WithOverrides() error = %v", err)
	}

	imp := reg.MustGet(PolicyWriteImport)
	if imp.Limit != 10 || imp.Window != time.Hour || imp.Burst != 120 {
		t.Errorf("write:import = %+v, want 10/h burst 120", imp)
	}
	auth := reg.MustGet(PolicyDemoAuth)
	if auth.Limit != 20 || auth.Window != time.Second {
		t.Errorf("demo:auth = %+v, want 20/s", auth)
	}

	if orig := base.MustGet(PolicyWriteImport); orig.Limit != 5 {
		t.Errorf("base registry mutated: write:import limit = %d", orig.Limit)
	}
}

func TestRegistry_WithOverrides_DropsBurstBelowLimit(t *testing.T) {
	t.Parallel()
	reg, err := DefaultRegistry().WithOverrides(map[string]string{PolicyWriteEmail: "500-M"})
	if err != nil {
		t.Fatalf("WithOverrides() error = %v", err)
	}
	if p := reg.MustGet(PolicyWriteEmail); p.Burst != 0 || p.IPLimit() != 500 {
		t.Errorf("write:email = %+v, want burst dropped", p)
	}
}

func TestRegistry_WithOverrides_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		overrides map[string]string
		wantErr   error
	}{
		{"unknown policy", map[string]string{"missing": "1-S"}, ErrUnknownPolicy},
		{"bad rate", map[string]string{PolicyDemoAPI: "lots"}, ErrInvalidPolicy},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DefaultRegistry().WithOverrides(tt.overrides)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseOverrides(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    map[string]string
		wantErr bool
	}{
		{"empty", "", map[string]string{}, false},
		{"single", "demo:auth=5-M", map[string]string{"demo:auth": "5-M"}, false},
		{"multiple with spaces", " demo:auth = 5-M , write:deals=10-S ,", map[string]string{"demo:auth": "5-M", "write:deals": "10-S"}, false},
		{"missing rate", "demo:auth=", nil, true},
		{"missing equals", "demo:auth", nil, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseOverrides(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOverrides() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseOverrides() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("ParseOverrides()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestNewRegistry_DefaultsNamespaceToName(t *testing.T) {
	t.Parallel()
	reg, err := NewRegistry(Policy{Name: "custom:thing", Limit: 1, Window: time.Second})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if ns := reg.MustGet("custom:thing").Namespace; ns != "custom:thing" {
		t.Errorf("namespace = %q, want custom:thing", ns)
	}
}
