package models

import "time"

// PolicyOverride replaces the rate of one named policy, e.g. "100-M".
type PolicyOverride struct {
	PolicyName string    `json:"policy_name"`
	Rate       string    `json:"rate"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OverrideMap indexes overrides by policy name. Later entries win.
func OverrideMap(list []PolicyOverride) map[string]string {
	out := make(map[string]string, len(list))
	for _, o := range list {
		if o.PolicyName == "" || o.Rate == "" {
			continue
		}
		out[o.PolicyName] = o.Rate
	}
	return out
}
