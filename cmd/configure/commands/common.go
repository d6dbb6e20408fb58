package commands

import (
	"fmt"
	"os"

	"github.com/benvon/crm-ratelimit/internal/config"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadRegistry builds the registry the gateway would use from the same
// inputs: presets, an optional policy file, then rate overrides.
func loadRegistry(policyFile, overrides string) (*ratelimit.Registry, *config.PolicyFile, error) {
	registry := ratelimit.DefaultRegistry()
	var pf *config.PolicyFile
	if policyFile != "" {
		var err error
		if pf, err = config.LoadPolicyFile(policyFile); err != nil {
			return nil, nil, err
		}
		if registry, err = pf.Registry(registry); err != nil {
			return nil, nil, err
		}
	}
	parsed, err := ratelimit.ParseOverrides(overrides)
	if err != nil {
		return nil, nil, err
	}
	registry, err = registry.WithOverrides(parsed)
	if err != nil {
		return nil, nil, fmt.Errorf("apply overrides: %w", err)
	}
	return registry, pf, nil
}
