package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "deskroster",
	Short: "deskroster: privileged user report across Zendesk tenants",
	Long: "deskroster fetches the agents and admins of every configured Zendesk tenant and merges them " +
		"into a single CSV report with one row per user and one presence column per tenant.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults, see configs/deskroster.example.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
