package main

import (
	"fmt"
	"os"

	"github.com/benvon/crm-ratelimit/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "crm-ratelimit-configure",
		Short: "Configuration tool for the CRM rate limit gateway",
		Long:  "CLI tool for inspecting rate limit policies, route bindings and counters",
	}

	rootCmd.AddCommand(commands.NewRatelimitCmd())
	rootCmd.AddCommand(commands.NewRoutesCmd())
	rootCmd.AddCommand(commands.NewJWKSCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
