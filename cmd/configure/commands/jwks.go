package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/crm-ratelimit/internal/tenant"
	"github.com/spf13/cobra"
)

// NewJWKSCmd creates the jwks command
func NewJWKSCmd() *cobra.Command {
	var jwksURL, issuer, claim, token string

	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Test the JWKS used for tenant resolution",
		Long:  "Fetch the key set and, with --token, resolve the tenant of a bearer token the way the gateway would",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jwksURL == "" {
				return fmt.Errorf("--jwks-url or OIDC_JWKS_URL is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			keys := tenant.NewJWKSManager(nil, 0)
			set, err := keys.GetJWKS(ctx, jwksURL)
			if err != nil {
				return fmt.Errorf("failed to fetch JWKS: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "JWKS: %s (%d keys)\n", jwksURL, set.Len())

			if token == "" {
				return nil
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			org, err := tenant.NewJWTResolver(keys, jwksURL, issuer, claim).Resolve(req)
			if err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tenant: %s\n", org)
			return nil
		},
	}

	cmd.Flags().StringVar(&jwksURL, "jwks-url", envOr("OIDC_JWKS_URL", ""), "JWKS URL")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("OIDC_ISSUER", ""), "Expected issuer")
	cmd.Flags().StringVar(&claim, "claim", envOr("OIDC_ORG_CLAIM", ""), "Organization claim (default org_id)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token to resolve")
	return cmd
}
