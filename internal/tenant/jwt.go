package tenant

import (
	"fmt"
	"net/http"

	"github.com/benvon/crm-ratelimit/internal/request"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultOrgClaim is the claim the identity provider puts the organization in.
const DefaultOrgClaim = "org_id"

// JWTResolver reads the tenant from a claim of a verified bearer token.
// Unsigned, expired or foreign-issuer tokens never yield a tenant: an
// attacker must not be able to pick whose tenant bucket they drain.
type JWTResolver struct {
	keys    *JWKSManager
	jwksURL string
	issuer  string
	claim   string
}

// NewJWTResolver creates a JWTResolver. An empty issuer skips the issuer
// check; an empty claim uses DefaultOrgClaim.
func NewJWTResolver(keys *JWKSManager, jwksURL, issuer, claim string) *JWTResolver {
	if claim == "" {
		claim = DefaultOrgClaim
	}
	return &JWTResolver{keys: keys, jwksURL: jwksURL, issuer: issuer, claim: claim}
}

// Resolve implements Resolver.
func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	raw, ok := request.BearerToken(r)
	if !ok {
		return "", ErrNoTenant
	}

	keys, err := j.keys.GetJWKS(r.Context(), j.jwksURL)
	if err != nil {
		return "", fmt.Errorf("failed to get JWKS: %w", err)
	}

	opts := []jwt.ParseOption{jwt.WithKeySet(keys), jwt.WithValidate(true)}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to parse/verify token: %w", err)
	}

	v, ok := token.Get(j.claim)
	if !ok {
		return "", ErrNoTenant
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: claim %s is %T", ErrInvalidTenant, j.claim, v)
	}
	return Normalize(id)
}
