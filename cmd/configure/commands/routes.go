package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/benvon/crm-ratelimit/internal/config"
	"github.com/spf13/cobra"
)

// NewRoutesCmd creates the routes command
func NewRoutesCmd() *cobra.Command {
	var policyFile string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List route bindings",
		Long:  "List the method and path prefix bound to each policy, and check every bound policy exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, pf, err := loadRegistry(policyFile, "")
			if err != nil {
				return err
			}
			routes := pf.RoutesOrDefault()
			if err := config.CheckRoutes(routes, registry); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "METHODS\tPREFIX\tPOLICY")
			for _, r := range routes {
				methods := "*"
				if len(r.Methods) > 0 {
					methods = strings.Join(r.Methods, ",")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", methods, r.Prefix, r.Policy)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&policyFile, "policy-file", envOr("RATE_LIMIT_POLICY_FILE", ""), "YAML policy file")
	return cmd
}
