package ratelimit

import "context"

// CheckCombined checks clientIP and, when tenantID is not empty, tenantID
// under the same policy and admits only if both checks admit.
//
// The IP check uses the policy's burst ceiling; the tenant check always uses
// the nominal limit so a tenant's aggregate stays bounded even while single
// IPs behind it burst. Both checks run even when the first one denies.
func (l *Limiter) CheckCombined(ctx context.Context, clientIP, tenantID string, policy Policy) CombinedDecision {
	ip := l.check(ctx, Key(policy.Namespace, KeyScopeIP, clientIP), KeyScopeIP, policy.IPLimit(), policy)

	if tenantID == "" {
		ip.Limit = policy.Limit
		return CombinedDecision{Decision: ip, Scope: ScopeIP}
	}

	org := l.check(ctx, Key(policy.Namespace, KeyScopeOrg, tenantID), KeyScopeOrg, policy.Limit, policy)

	d := Decision{
		Success:   ip.Success && org.Success,
		Limit:     policy.Limit,
		Remaining: min(ip.Remaining, org.Remaining, policy.Limit),
		Reset:     max(ip.Reset, org.Reset),
	}
	if !d.Success {
		d.Remaining = 0
		d.RetryAfter = max(ip.RetryAfter, org.RetryAfter)
	}
	return CombinedDecision{Decision: d, Scope: ScopeIPOrg}
}
