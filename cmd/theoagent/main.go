package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "theoagent",
	Short: "Adaptive conversation service with learning profiles and quotas",
	Long: `theoagent tracks what each user asks about, adapts response complexity
to their history, and enforces per-tier daily message quotas in front of a
retrieval/generation engine.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the theoagent version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("theoagent version %s\n", version)
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(clearHistoryCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
