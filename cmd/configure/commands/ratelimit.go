package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/spf13/cobra"
)

// NewRatelimitCmd creates the ratelimit command with policies, check, reset
// and override subcommands.
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect rate limit policies and counters",
		Long:  "List effective policies, run a check, reset a window, or manage stored overrides (e.g. 100-M).",
	}
	cmd.AddCommand(newPoliciesCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newOverrideCmd())
	return cmd
}

func newPoliciesCmd() *cobra.Command {
	var policyFile, overrides string
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List effective rate limit policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, _, err := loadRegistry(policyFile, overrides)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLIMIT\tWINDOW\tBURST\tNAMESPACE")
			for _, p := range registry.Policies() {
				burst := "-"
				if p.Burst > 0 {
					burst = fmt.Sprint(p.Burst)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", p.Name, p.Limit, p.Window, burst, p.Namespace)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&policyFile, "policy-file", envOr("RATE_LIMIT_POLICY_FILE", ""), "YAML policy file")
	cmd.Flags().StringVar(&overrides, "overrides", envOr("RATE_LIMIT_OVERRIDES", ""), "Rate overrides, e.g. write:deals=10-M")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var policyName, ip, tenantID, redisURL, policyFile, overrides string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Count one request against a policy and print the decision",
		Long:  "Runs the combined IP and tenant check against the shared Redis store. Without --redis-url the check runs against an empty in-memory store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if policyName == "" || ip == "" {
				return fmt.Errorf("--policy and --ip are required")
			}
			registry, _, err := loadRegistry(policyFile, overrides)
			if err != nil {
				return err
			}
			policy, err := registry.Get(policyName)
			if err != nil {
				return err
			}

			var store ratelimit.CounterStore
			if redisURL != "" {
				rs, err := ratelimit.NewRedisStore(redisURL)
				if err != nil {
					return err
				}
				defer func() { _ = rs.Close() }()
				store = rs
			} else {
				ms := ratelimit.NewMemoryStore(ratelimit.WithMemorySweepInterval(0))
				defer func() { _ = ms.Close() }()
				store = ms
			}

			d := ratelimit.New(store).CheckCombined(cmd.Context(), ip, tenantID, policy)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", "", "Policy name (required)")
	cmd.Flags().StringVar(&ip, "ip", "", "Client IP (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant (organization) ID")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL of the shared store")
	cmd.Flags().StringVar(&policyFile, "policy-file", envOr("RATE_LIMIT_POLICY_FILE", ""), "YAML policy file")
	cmd.Flags().StringVar(&overrides, "overrides", envOr("RATE_LIMIT_OVERRIDES", ""), "Rate overrides")
	return cmd
}

func newResetCmd() *cobra.Command {
	var identifier, namespace, scope, redisURL string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a rate limit window from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier = strings.TrimSpace(identifier)
			namespace = strings.TrimSpace(namespace)
			if identifier == "" || namespace == "" {
				return fmt.Errorf("--identifier and --namespace are required")
			}
			switch scope {
			case "", ratelimit.KeyScopeIP, ratelimit.KeyScopeOrg:
			default:
				return fmt.Errorf("--scope must be %q or %q", ratelimit.KeyScopeIP, ratelimit.KeyScopeOrg)
			}
			if redisURL == "" {
				return fmt.Errorf("--redis-url or REDIS_URL is required")
			}

			store, err := ratelimit.NewRedisStore(redisURL)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id := identifier
			if scope != "" {
				id = scope + ":" + identifier
			}
			if err := ratelimit.New(store).Reset(cmd.Context(), id, namespace); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", ratelimit.Key(namespace, scope, identifier))
			return nil
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "IP address or tenant ID (required)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Policy namespace (required)")
	cmd.Flags().StringVar(&scope, "scope", "", "Key scope used by the gateway: ip or org")
	cmd.Flags().StringVar(&redisURL, "redis-url", envOr("REDIS_URL", ""), "Redis URL")
	return cmd
}
