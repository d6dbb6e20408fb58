package tenant

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/benvon/crm-ratelimit/internal/request"
)

// DefaultBodyField is the JSON field the CRM's write endpoints carry the
// organization in.
const DefaultBodyField = "organizationId"

// BodyResolver reads the tenant ID from a top-level field of a JSON request
// body. The body is peeked and restored, never consumed.
type BodyResolver struct {
	field string
	limit int64
}

// NewBodyResolver creates a BodyResolver. Empty field uses DefaultBodyField;
// limit <= 0 uses request.DefaultPeekLimit.
func NewBodyResolver(field string, limit int64) *BodyResolver {
	if field == "" {
		field = DefaultBodyField
	}
	if limit <= 0 {
		limit = request.DefaultPeekLimit
	}
	return &BodyResolver{field: field, limit: limit}
}

// Resolve implements Resolver.
func (b *BodyResolver) Resolve(r *http.Request) (string, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return "", ErrNoTenant
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		return "", ErrNoTenant
	}

	body, err := request.PeekBody(r, b.limit)
	if err != nil {
		return "", fmt.Errorf("peek body: %w", err)
	}
	if len(body) == 0 {
		return "", ErrNoTenant
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	raw, ok := fields[b.field]
	if !ok {
		return "", ErrNoTenant
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: field %s is not a string", ErrInvalidTenant, b.field)
	}
	return Normalize(id)
}
