package ratelimit

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// OverrideSource supplies rate overrides ("100-M") keyed by policy name.
type OverrideSource interface {
	Overrides(ctx context.Context) (map[string]string, error)
}

// PolicySource looks policies up by name. Both *Registry and *Reloader
// implement it.
type PolicySource interface {
	Lookup(name string) (Policy, bool)
}

// Reloader keeps a registry built from a base registry plus overrides read
// from an OverrideSource, and refreshes it periodically. Lookups never block
// on the source; a failed reload keeps the previous registry.
type Reloader struct {
	base     *Registry
	source   OverrideSource
	log      *zap.Logger
	interval time.Duration
	current  atomic.Pointer[Registry]
}

// NewReloader creates a Reloader serving base until the first Load.
func NewReloader(base *Registry, source OverrideSource, log *zap.Logger, interval time.Duration) *Reloader {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reloader{base: base, source: source, log: log, interval: interval}
	r.current.Store(base)
	return r
}

// Registry returns the registry currently in effect.
func (r *Reloader) Registry() *Registry {
	return r.current.Load()
}

// Lookup implements PolicySource.
func (r *Reloader) Lookup(name string) (Policy, bool) {
	return r.current.Load().Lookup(name)
}

// Policies returns the policies currently in effect.
func (r *Reloader) Policies() []Policy {
	return r.current.Load().Policies()
}

// Load reads the overrides once and swaps in the resulting registry.
// Overrides naming unknown policies or carrying malformed rates are skipped
// one by one so a single bad row cannot pin the gateway to stale limits.
func (r *Reloader) Load(ctx context.Context) error {
	overrides, err := r.source.Overrides(ctx)
	if err != nil {
		r.log.Warn("failed_to_load_policy_overrides_keeping_current", zap.Error(err))
		return err
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	changed := make([]Policy, 0, len(overrides))
	for _, name := range names {
		p, ok := r.base.Lookup(name)
		if !ok {
			r.log.Warn("policy_override_for_unknown_policy", zap.String("policy", name))
			continue
		}
		p, err := p.WithRate(overrides[name])
		if err != nil {
			r.log.Warn("invalid_policy_override",
				zap.String("policy", name),
				zap.String("rate", overrides[name]),
				zap.Error(err),
			)
			continue
		}
		changed = append(changed, p)
	}

	next, err := r.base.Merge(changed...)
	if err != nil {
		r.log.Warn("failed_to_apply_policy_overrides_keeping_current", zap.Error(err))
		return err
	}
	r.current.Store(next)
	r.log.Debug("policy_overrides_loaded", zap.Int("overrides", len(changed)))
	return nil
}

// Start runs the reload loop until ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Load(ctx)
		}
	}
}
