package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// RouteBinding attaches a policy to requests whose path starts with Prefix.
// An empty Methods list matches every method.
type RouteBinding struct {
	Methods []string `yaml:"methods,omitempty"`
	Prefix  string   `yaml:"prefix"`
	Policy  string   `yaml:"policy"`
}

// Matches reports whether the binding applies to method and path.
func (b RouteBinding) Matches(method, path string) bool {
	if !strings.HasPrefix(path, b.Prefix) {
		return false
	}
	// "/api/deals" must not match "/api/dealsx".
	if rest := path[len(b.Prefix):]; rest != "" && !strings.HasSuffix(b.Prefix, "/") && rest[0] != '/' {
		return false
	}
	if len(b.Methods) == 0 {
		return true
	}
	for _, m := range b.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// PolicyFile is the optional YAML file that adds policies and replaces the
// default route bindings.
type PolicyFile struct {
	Policies []ratelimit.Policy `yaml:"policies"`
	Routes   []RouteBinding     `yaml:"routes"`
}

var writeMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// DefaultRoutes binds the CRM's write endpoints, the demo endpoints and the
// export endpoint to their presets.
func DefaultRoutes() []RouteBinding {
	return []RouteBinding{
		{Prefix: "/api/demo/auth", Policy: ratelimit.PolicyDemoAuth},
		{Prefix: "/api/demo/", Policy: ratelimit.PolicyDemoAPI},
		{Prefix: "/api/export", Policy: ratelimit.PolicyDemoExport},
		{Methods: writeMethods, Prefix: "/api/contacts", Policy: ratelimit.PolicyWriteContacts},
		{Methods: writeMethods, Prefix: "/api/deals", Policy: ratelimit.PolicyWriteDeals},
		{Methods: writeMethods, Prefix: "/api/import", Policy: ratelimit.PolicyWriteImport},
		{Methods: writeMethods, Prefix: "/api/email", Policy: ratelimit.PolicyWriteEmail},
		{Methods: writeMethods, Prefix: "/api/companies", Policy: ratelimit.PolicyWriteCompanies},
		{Methods: writeMethods, Prefix: "/api/pipelines", Policy: ratelimit.PolicyWritePipelines},
	}
}

// LoadPolicyFile reads and validates a policy file. Policies without a
// namespace use their name.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicyFile(data)
}

// ParsePolicyFile parses policy file contents.
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	for i := range pf.Policies {
		if pf.Policies[i].Name == "" {
			return nil, fmt.Errorf("%w: policy %d has no name", ratelimit.ErrInvalidPolicy, i)
		}
		if pf.Policies[i].Namespace == "" {
			pf.Policies[i].Namespace = pf.Policies[i].Name
		}
		if err := pf.Policies[i].Validate(); err != nil {
			return nil, err
		}
	}
	for i, r := range pf.Routes {
		if r.Prefix == "" || r.Policy == "" {
			return nil, fmt.Errorf("route %d: prefix and policy are required", i)
		}
	}
	return &pf, nil
}

// Registry merges the file's policies into base.
func (pf *PolicyFile) Registry(base *ratelimit.Registry) (*ratelimit.Registry, error) {
	if len(pf.Policies) == 0 {
		return base, nil
	}
	return base.Merge(pf.Policies...)
}

// RoutesOrDefault returns the file's routes, or DefaultRoutes when it has none.
func (pf *PolicyFile) RoutesOrDefault() []RouteBinding {
	if pf == nil || len(pf.Routes) == 0 {
		return DefaultRoutes()
	}
	return pf.Routes
}

// CheckRoutes returns an error naming the first binding whose policy is not
// registered.
func CheckRoutes(routes []RouteBinding, policies ratelimit.PolicySource) error {
	for _, r := range routes {
		if _, ok := policies.Lookup(r.Policy); !ok {
			return fmt.Errorf("%w %q bound to %s", ratelimit.ErrUnknownPolicy, r.Policy, r.Prefix)
		}
	}
	return nil
}
