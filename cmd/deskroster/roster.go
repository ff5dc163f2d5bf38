package main

import (
	"github.com/spf13/cobra"

	"github.com/alecgard/deskroster/internal/audit"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Write only the tenant roster",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}

		runner := audit.NewRunner(nil, nil, e.logger, audit.Options{
			ReportPath: e.cfg.ReportPath(),
			RosterPath: e.cfg.RosterPath(),
			MaskTokens: e.cfg.Roster.MaskTokens,
		})
		return runner.WriteRoster(e.tenants)
	},
}

func init() {
	rootCmd.AddCommand(rosterCmd)
}
