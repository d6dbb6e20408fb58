package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/benvon/crm-ratelimit/internal/validation"
	"github.com/ulule/limiter/v3"
)

var (
	// ErrInvalidPolicy is returned when a policy fails validation.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
	// ErrUnknownPolicy is returned when a policy name is not registered.
	ErrUnknownPolicy = errors.New("unknown rate limit policy")
)

// Preset policy names.
const (
	PolicyDemoAuth       = "demo:auth"
	PolicyDemoAPI        = "demo:api"
	PolicyDemoExport     = "demo:export"
	PolicyWriteContacts  = "write:contacts"
	PolicyWriteDeals     = "write:deals"
	PolicyWriteImport    = "write:import"
	PolicyWriteEmail     = "write:email"
	PolicyWriteCompanies = "write:companies"
	PolicyWritePipelines = "write:pipelines"
)

// writeBurst is the IP-level ceiling shared by every write preset.
const writeBurst = 120

// Policy is an immutable rate limit configuration.
type Policy struct {
	Name      string        `json:"name" yaml:"name"`
	Limit     int           `json:"limit" yaml:"limit" validate:"gt=0"`
	Window    time.Duration `json:"window" yaml:"window" validate:"gt=0"`
	Namespace string        `json:"namespace" yaml:"namespace" validate:"key_segment"`
	// Burst is an optional higher ceiling applied only to the IP check.
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty" validate:"omitempty,gtefield=Limit"`
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if err := validation.Validate.Struct(p); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidPolicy, p.Name, err)
	}
	return nil
}

// IPLimit is the ceiling used for the IP-scoped check: Burst when set,
// Limit otherwise.
func (p Policy) IPLimit() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.Limit
}

// WithRate returns a copy of p using the limit and period of a ulule rate
// string such as "100-M". A burst that would fall below the new limit is
// dropped.
func (p Policy) WithRate(formatted string) (Policy, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return Policy{}, fmt.Errorf("%w %q: rate %q: %v", ErrInvalidPolicy, p.Name, formatted, err)
	}
	p.Limit = int(rate.Limit)
	p.Window = rate.Period
	if p.Burst != 0 && p.Burst < p.Limit {
		p.Burst = 0
	}
	return p, p.Validate()
}

func preset(name string, limit int, window time.Duration, burst int) Policy {
	return Policy{Name: name, Limit: limit, Window: window, Namespace: name, Burst: burst}
}

// DefaultPolicies returns the built-in presets. Other services depend on
// these values.
func DefaultPolicies() []Policy {
	return []Policy{
		preset(PolicyDemoAuth, 10, time.Minute, 0),
		preset(PolicyDemoAPI, 30, time.Minute, 0),
		preset(PolicyDemoExport, 3, 5*time.Minute, 0),
		preset(PolicyWriteContacts, 100, time.Minute, writeBurst),
		preset(PolicyWriteDeals, 50, time.Minute, writeBurst),
		preset(PolicyWriteImport, 5, time.Minute, writeBurst),
		preset(PolicyWriteEmail, 200, time.Minute, writeBurst),
		preset(PolicyWriteCompanies, 60, time.Minute, writeBurst),
		preset(PolicyWritePipelines, 60, time.Minute, writeBurst),
	}
}

// Registry is a read-only set of named policies. Derive new registries with
// Merge or WithOverrides; an existing Registry never changes.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry validates and indexes policies by name. Later entries replace
// earlier ones with the same name.
func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: policy name is required", ErrInvalidPolicy)
		}
		if p.Namespace == "" {
			p.Namespace = p.Name
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		r.policies[p.Name] = p
	}
	return r, nil
}

// DefaultRegistry returns a registry holding DefaultPolicies.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPolicies()...)
	if err != nil {
		panic(fmt.Sprintf("built-in rate limit presets are invalid: %v", err))
	}
	return r
}

// Lookup returns the named policy.
func (r *Registry) Lookup(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Get returns the named policy or ErrUnknownPolicy.
func (r *Registry) Get(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return p, nil
}

// MustGet is Get for names known at compile time.
func (r *Registry) MustGet(name string) Policy {
	p, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for n := range r.policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Policies returns every policy sorted by name.
func (r *Registry) Policies() []Policy {
	out := make([]Policy, 0, len(r.policies))
	for _, n := range r.Names() {
		out = append(out, r.policies[n])
	}
	return out
}

// Merge returns a new registry with extra policies added or replacing
// existing ones.
func (r *Registry) Merge(extra ...Policy) (*Registry, error) {
	all := make([]Policy, 0, len(r.policies)+len(extra))
	all = append(all, r.Policies()...)
	all = append(all, extra...)
	return NewRegistry(all...)
}

// WithOverrides returns a new registry where each named policy takes the
// limit and window of its ulule rate string.
func (r *Registry) WithOverrides(overrides map[string]string) (*Registry, error) {
	if len(overrides) == 0 {
		return r, nil
	}
	changed := make([]Policy, 0, len(overrides))
	for name, rate := range overrides {
		p, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		p, err = p.WithRate(rate)
		if err != nil {
			return nil, err
		}
		changed = append(changed, p)
	}
	return r.Merge(changed...)
}

// ParseOverrides parses "name=rate,name=rate", for example
// "write:import=10-M,demo:auth=20-M".
func ParseOverrides(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rate, ok := strings.Cut(part, "=")
		name, rate = strings.TrimSpace(name), strings.TrimSpace(rate)
		if !ok || name == "" || rate == "" {
			return nil, fmt.Errorf("%w: malformed override %q", ErrInvalidPolicy, part)
		}
		out[name] = rate
	}
	return out, nil
}
