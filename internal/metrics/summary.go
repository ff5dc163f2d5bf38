package metrics

import (
	"log/slog"
	"math"
	"sort"

	dto "github.com/prometheus/client_model/go"
)

// Summary is a flat digest of a run's metrics, suitable for a closing log line.
type Summary struct {
	TenantsFetched float64
	TenantsFailed  float64
	FetchRequests  float64
	FetchFailures  float64
	UsersFetched   float64
	UsersFiltered  float64
	ReportRows     float64
	P50Fetch       float64
	P95Fetch       float64
}

// Summary gathers the registry and reduces it to a Summary.
func (m *Metrics) Summary() (Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Summary{}, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	success := fam["deskroster_tenant_fetch_success"]
	return Summary{
		TenantsFetched: sumGauge(success),
		TenantsFailed:  float64(len(success.GetMetric())) - sumGauge(success),
		FetchRequests:  sumCounter(fam["deskroster_fetch_requests_total"]),
		FetchFailures:  sumCounter(fam["deskroster_fetch_failures_total"]),
		UsersFetched:   sumCounter(fam["deskroster_users_fetched_total"]),
		UsersFiltered:  sumCounter(fam["deskroster_users_filtered_total"]),
		ReportRows:     gaugeValue(fam["deskroster_report_rows"]),
		P50Fetch:       histogramPercentile(fam["deskroster_fetch_duration_seconds"], 0.50),
		P95Fetch:       histogramPercentile(fam["deskroster_fetch_duration_seconds"], 0.95),
	}, nil
}

// LogValue renders the summary as a slog group.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("tenants_fetched", s.TenantsFetched),
		slog.Float64("tenants_failed", s.TenantsFailed),
		slog.Float64("fetch_requests", s.FetchRequests),
		slog.Float64("fetch_failures", s.FetchFailures),
		slog.Float64("users_fetched", s.UsersFetched),
		slog.Float64("users_filtered", s.UsersFiltered),
		slog.Float64("report_rows", s.ReportRows),
		slog.Float64("p50_fetch_seconds", s.P50Fetch),
		slog.Float64("p95_fetch_seconds", s.P95Fetch),
	)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func sumGauge(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetGauge() != nil {
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
