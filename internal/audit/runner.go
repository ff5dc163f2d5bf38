package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alecgard/deskroster/internal/config"
	"github.com/alecgard/deskroster/internal/report"
	"github.com/alecgard/deskroster/internal/zendesk"
)

const defaultConcurrency = 4

// Fetcher lists the privileged users of one tenant.
type Fetcher interface {
	ListPrivilegedUsers(ctx context.Context, t config.Tenant) ([]zendesk.User, error)
}

// MetricsRecorder is an optional interface for recording run-level metrics.
type MetricsRecorder interface {
	SetTenantFetched(tenant string, ok bool)
	AddUsersFetched(tenant string, n int)
	IncUserFiltered(reason string)
	SetReportRows(n int)
	MarkRun(t time.Time)
}

// Options controls which files a run reads and writes.
type Options struct {
	ReportPath  string
	RosterPath  string // empty skips the tenant roster
	SkipPrior   bool   // start from an empty state instead of ReportPath
	MaskTokens  bool
	Concurrency int // parallel tenant fetches, 0 means 4
}

// TenantResult is what one tenant contributed to a run.
type TenantResult struct {
	Subdomain string
	Fetched   int
	Filtered  int
	Added     int
	Updated   int
	Err       error // non-nil when the fetch failed and the tenant was skipped
}

// Result summarizes a completed run.
type Result struct {
	StartedAt time.Time
	PriorRows int
	Rows      int
	Tenants   []TenantResult
}

// Failed returns the tenants whose fetch failed.
func (r *Result) Failed() []string {
	var out []string
	for _, t := range r.Tenants {
		if t.Err != nil {
			out = append(out, t.Subdomain)
		}
	}
	return out
}

// Runner drives one reconciliation: load the prior report, fetch every
// tenant, merge in configuration order and write the report.
type Runner struct {
	fetcher Fetcher
	clock   report.Clock
	logger  *slog.Logger
	metrics MetricsRecorder
	opts    Options
}

// NewRunner creates a runner. A nil clock uses time.Now and a nil logger uses
// slog.Default().
func NewRunner(fetcher Fetcher, clock report.Clock, logger *slog.Logger, opts Options) *Runner {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Runner{
		fetcher: fetcher,
		clock:   clock,
		logger:  logger,
		opts:    opts,
	}
}

// SetMetrics sets the optional metrics recorder.
func (r *Runner) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

type fetched struct {
	users []zendesk.User
	err   error
}

// Run executes a full reconciliation for tenants. Fetch failures are logged
// and leave the tenant's marks untouched; only prior-state, emit and
// cancellation errors are returned.
func (r *Runner) Run(ctx context.Context, tenants []config.Tenant) (*Result, error) {
	now := r.clock()
	subdomains := config.Subdomains(tenants)
	res := &Result{StartedAt: now}

	state := report.NewState()
	if !r.opts.SkipPrior {
		prior, err := report.LoadState(r.opts.ReportPath, subdomains)
		if err != nil {
			return nil, err
		}
		state = prior
		res.PriorRows = state.Len()
		r.logger.Info("loaded prior report", "path", r.opts.ReportPath, "rows", state.Len())
	}

	results := r.fetchAll(ctx, tenants)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run interrupted: %w", err)
	}

	norm := report.Normalizer{
		Clock:  func() time.Time { return now },
		Logger: r.logger,
	}

	for i, t := range tenants {
		tr := TenantResult{Subdomain: t.Subdomain}

		if err := results[i].err; err != nil {
			tr.Err = err
			res.Tenants = append(res.Tenants, tr)
			r.logFetchFailure(t.Subdomain, err)
			if r.metrics != nil {
				r.metrics.SetTenantFetched(t.Subdomain, false)
			}
			continue
		}

		users := results[i].users
		tr.Fetched = len(users)

		rows := make([]*report.Row, 0, len(users))
		for _, u := range users {
			row, reason := norm.Normalize(u)
			if row == nil {
				tr.Filtered++
				if r.metrics != nil {
					r.metrics.IncUserFiltered(reason)
				}
				continue
			}
			rows = append(rows, row)
		}

		stats := report.Merge(state, t.Subdomain, rows)
		tr.Added, tr.Updated = stats.Added, stats.Updated
		res.Tenants = append(res.Tenants, tr)

		if r.metrics != nil {
			r.metrics.SetTenantFetched(t.Subdomain, true)
			r.metrics.AddUsersFetched(t.Subdomain, len(users))
		}
		r.logger.Info("tenant merged",
			"tenant", t.Subdomain,
			"fetched", tr.Fetched,
			"filtered", tr.Filtered,
			"added", tr.Added,
			"updated", tr.Updated,
		)
	}

	if err := report.WriteState(r.opts.ReportPath, state, subdomains); err != nil {
		return nil, err
	}
	res.Rows = state.Len()
	r.logger.Info("report written", "path", r.opts.ReportPath, "rows", res.Rows, "tenants", len(tenants))

	if r.opts.RosterPath != "" {
		if err := r.writeRoster(tenants, now); err != nil {
			return nil, err
		}
	}

	if r.metrics != nil {
		r.metrics.SetReportRows(res.Rows)
		r.metrics.MarkRun(now)
	}

	return res, nil
}

// WriteRoster writes only the tenant roster, stamped with the current clock.
func (r *Runner) WriteRoster(tenants []config.Tenant) error {
	if r.opts.RosterPath == "" {
		return errors.New("no roster path configured")
	}
	return r.writeRoster(tenants, r.clock())
}

func (r *Runner) writeRoster(tenants []config.Tenant, now time.Time) error {
	if err := report.WriteRoster(r.opts.RosterPath, tenants, now, r.opts.MaskTokens); err != nil {
		return err
	}
	r.logger.Info("roster written", "path", r.opts.RosterPath, "tenants", len(tenants))
	return nil
}

// fetchAll fetches every tenant with bounded parallelism. Slot i of the
// result belongs to tenants[i].
func (r *Runner) fetchAll(ctx context.Context, tenants []config.Tenant) []fetched {
	results := make([]fetched, len(tenants))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, t := range tenants {
		i, t := i, t
		g.Go(func() error {
			users, err := r.fetcher.ListPrivilegedUsers(ctx, t)
			results[i] = fetched{users: users, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) logFetchFailure(tenant string, err error) {
	attrs := []any{"tenant", tenant, "error", err}
	var fe *zendesk.FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		attrs = append(attrs, "status", fe.StatusCode)
	}
	r.logger.Warn("tenant fetch failed, keeping prior marks", attrs...)
}
