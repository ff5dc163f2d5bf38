package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alecgard/deskroster/internal/audit"
	"github.com/alecgard/deskroster/internal/metrics"
	"github.com/alecgard/deskroster/internal/ratelimit"
	"github.com/alecgard/deskroster/internal/zendesk"
)

var (
	noPrior  bool
	noRoster bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch every tenant and write the merged report",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&noPrior, "no-prior", false, "ignore the existing report and start from an empty one")
	runCmd.Flags().BoolVar(&noRoster, "no-roster", false, "skip writing the tenant roster")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	cfg := e.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	limiter := ratelimit.New(cfg.Zendesk.RateLimit, cfg.Zendesk.RateWindow)
	client := zendesk.NewClient(cfg.Zendesk.BaseURL, cfg.Zendesk.Timeout, limiter, cfg.Zendesk.MaxPages)
	client.SetMetrics(m)

	opts := audit.Options{
		ReportPath:  cfg.ReportPath(),
		SkipPrior:   noPrior,
		MaskTokens:  cfg.Roster.MaskTokens,
		Concurrency: cfg.Zendesk.Concurrency,
	}
	if cfg.Roster.Enabled && !noRoster {
		opts.RosterPath = cfg.RosterPath()
	}

	runner := audit.NewRunner(client, nil, e.logger, opts)
	runner.SetMetrics(m)

	res, runErr := runner.Run(ctx, e.tenants)

	if cfg.Metrics.Textfile != "" {
		path := cfg.Path(cfg.Metrics.Textfile)
		if err := m.WriteTextfile(path); err != nil {
			e.logger.Error("failed to write metrics textfile", "path", path, "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	summary, err := m.Summary()
	if err != nil {
		e.logger.Warn("failed to gather metrics", "error", err)
	}
	e.logger.Info("run complete",
		"rows", res.Rows,
		"prior_rows", res.PriorRows,
		"failed_tenants", res.Failed(),
		"summary", summary,
	)
	return nil
}
