package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "govctl",
		Short: "Operator tooling for the agora governance engine",
		Long: `govctl validates governance rule seed files and prints analytics
reports straight from the governance database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRulesCmd())
	root.AddCommand(newAnalyticsCmd())
	return root
}
