package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for a deskroster run.
type Metrics struct {
	registry *prometheus.Registry

	// Fetch metrics.
	FetchRequestsTotal *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	FetchFailuresTotal *prometheus.CounterVec
	TenantFetchSuccess *prometheus.GaugeVec

	// User pipeline metrics.
	UsersFetchedTotal  *prometheus.CounterVec
	UsersFilteredTotal *prometheus.CounterVec
	ReportRows         prometheus.Gauge

	// Run lifecycle.
	RunTimestamp prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		FetchRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskroster_fetch_requests_total",
			Help: "Total number of Zendesk API requests by response status.",
		}, []string{"tenant", "status_code"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskroster_fetch_duration_seconds",
			Help:    "Zendesk API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tenant"}),

		FetchFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskroster_fetch_failures_total",
			Help: "Total number of failed tenant fetches by error type.",
		}, []string{"tenant", "error_type"}),

		TenantFetchSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskroster_tenant_fetch_success",
			Help: "1 if the tenant's user list was fetched in the last run, 0 otherwise.",
		}, []string{"tenant"}),

		UsersFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskroster_users_fetched_total",
			Help: "Total number of user records returned by Zendesk.",
		}, []string{"tenant"}),

		UsersFilteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskroster_users_filtered_total",
			Help: "Total number of fetched users left out of the report.",
		}, []string{"reason"}),

		ReportRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskroster_report_rows",
			Help: "Number of user rows in the emitted report.",
		}),

		RunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deskroster_run_timestamp_seconds",
			Help: "Unix timestamp of the last run.",
		}),
	}

	reg.MustRegister(
		m.FetchRequestsTotal,
		m.FetchDuration,
		m.FetchFailuresTotal,
		m.TenantFetchSuccess,
		m.UsersFetchedTotal,
		m.UsersFilteredTotal,
		m.ReportRows,
		m.RunTimestamp,
	)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncFetchRequests increments the request counter for a tenant and status.
func (m *Metrics) IncFetchRequests(tenant string, statusCode int) {
	m.FetchRequestsTotal.WithLabelValues(tenant, strconv.Itoa(statusCode)).Inc()
}

// ObserveFetchDuration records one API request duration.
func (m *Metrics) ObserveFetchDuration(tenant string, seconds float64) {
	m.FetchDuration.WithLabelValues(tenant).Observe(seconds)
}

// IncFetchFailure increments the failure counter with error type classification.
func (m *Metrics) IncFetchFailure(tenant, errorType string) {
	m.FetchFailuresTotal.WithLabelValues(tenant, errorType).Inc()
}

// SetTenantFetched records whether the tenant's fetch succeeded.
func (m *Metrics) SetTenantFetched(tenant string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	m.TenantFetchSuccess.WithLabelValues(tenant).Set(v)
}

// AddUsersFetched adds n fetched user records for a tenant.
func (m *Metrics) AddUsersFetched(tenant string, n int) {
	m.UsersFetchedTotal.WithLabelValues(tenant).Add(float64(n))
}

// IncUserFiltered counts one user dropped for reason.
func (m *Metrics) IncUserFiltered(reason string) {
	m.UsersFilteredTotal.WithLabelValues(reason).Inc()
}

// SetReportRows records the size of the emitted report.
func (m *Metrics) SetReportRows(n int) {
	m.ReportRows.Set(float64(n))
}

// MarkRun stamps the run time.
func (m *Metrics) MarkRun(t time.Time) {
	m.RunTimestamp.Set(float64(t.Unix()))
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
