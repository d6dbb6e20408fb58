package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/benvon/crm-ratelimit/internal/database"
	"github.com/benvon/crm-ratelimit/internal/models"
	"github.com/benvon/crm-ratelimit/internal/ratelimit"
	"github.com/spf13/cobra"
)

func newOverrideCmd() *cobra.Command {
	var databaseURL string
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage policy rate overrides stored in the database",
		Long:  "Overrides replace a policy's limit and window (e.g. 100-M). Running gateways pick them up on their next reload.",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", envOr("DATABASE_URL", ""), "Postgres URL")

	withRepo := func(fn func(ctx context.Context, repo *database.PolicyOverrideRepository) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			db, err := database.New(databaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}()
			repo := database.NewPolicyOverrideRepository(db)
			if err := repo.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			return fn(cmd.Context(), repo)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored overrides",
	}
	list.RunE = withRepo(func(ctx context.Context, repo *database.PolicyOverrideRepository) error {
		overrides, err := repo.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list overrides: %w", err)
		}
		if len(overrides) == 0 {
			fmt.Fprintln(list.OutOrStdout(), "No overrides stored. Policies use their defaults.")
			return nil
		}
		for _, o := range overrides {
			fmt.Fprintf(list.OutOrStdout(), "  %s = %s (updated %s)\n", o.PolicyName, o.Rate, o.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	})

	var policyName, rate string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store an override",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateOverride(policyName, rate)
		},
	}
	set.RunE = withRepo(func(ctx context.Context, repo *database.PolicyOverrideRepository) error {
		o := &models.PolicyOverride{PolicyName: policyName, Rate: strings.TrimSpace(rate)}
		if err := repo.Set(ctx, o); err != nil {
			return fmt.Errorf("failed to set override: %w", err)
		}
		fmt.Fprintf(set.OutOrStdout(), "Override stored: %s = %s\n", o.PolicyName, o.Rate)
		return nil
	})
	set.Flags().StringVar(&policyName, "policy", "", "Policy name (required)")
	set.Flags().StringVar(&rate, "rate", "", "Rate, e.g. 5-S, 100-M, 1000-H (required)")

	var deleteName string
	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove an override",
	}
	del.RunE = withRepo(func(ctx context.Context, repo *database.PolicyOverrideRepository) error {
		if deleteName == "" {
			return fmt.Errorf("--policy is required")
		}
		if err := repo.Delete(ctx, deleteName); err != nil {
			return fmt.Errorf("failed to delete override: %w", err)
		}
		fmt.Fprintf(del.OutOrStdout(), "Override removed: %s\n", deleteName)
		return nil
	})
	del.Flags().StringVar(&deleteName, "policy", "", "Policy name (required)")

	cmd.AddCommand(list, set, del)
	return cmd
}

// validateOverride checks the policy exists among the presets and the rate
// applies to it.
func validateOverride(policyName, rate string) error {
	if policyName == "" || strings.TrimSpace(rate) == "" {
		return fmt.Errorf("--policy and --rate are required")
	}
	p, err := ratelimit.DefaultRegistry().Get(policyName)
	if err != nil {
		return err
	}
	if _, err := p.WithRate(rate); err != nil {
		return err
	}
	return nil
}
