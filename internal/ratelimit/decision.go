package ratelimit

// Scope describes which dimensions a combined decision covered.
type Scope string

const (
	ScopeIP    Scope = "ip"
	ScopeIPOrg Scope = "ip+org"
)

// Key scopes used inside counter keys by the combined check.
const (
	KeyScopeIP  = "ip"
	KeyScopeOrg = "org"
)

// Decision is the result of a rate limit check.
type Decision struct {
	Success bool `json:"success"`
	// Limit is always the nominal limit, even when burst capacity was used.
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"` // unix seconds
	// RetryAfter is in seconds and only set when Success is false.
	RetryAfter int `json:"retryAfter,omitempty"`
}

// CombinedDecision is a Decision together with the scope it was computed over.
type CombinedDecision struct {
	Decision
	Scope Scope `json:"scope"`
}

// Key builds the counter key "namespace:identifier", or
// "namespace:scope:identifier" when scope is set.
func Key(namespace, scope, identifier string) string {
	if scope == "" {
		return namespace + ":" + identifier
	}
	return namespace + ":" + scope + ":" + identifier
}
