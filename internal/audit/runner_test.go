package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/deskroster/internal/config"
	"github.com/alecgard/deskroster/internal/report"
	"github.com/alecgard/deskroster/internal/zendesk"
)

// --- Fakes ---

type fakeFetcher struct {
	mu     sync.Mutex
	users  map[string][]zendesk.User
	errs   map[string]error
	called []string
}

func (f *fakeFetcher) ListPrivilegedUsers(_ context.Context, t config.Tenant) ([]zendesk.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, t.Subdomain)
	if err := f.errs[t.Subdomain]; err != nil {
		return nil, err
	}
	return f.users[t.Subdomain], nil
}

type fakeMetrics struct {
	fetched  map[string]bool
	users    map[string]int
	filtered map[string]int
	rows     int
	runAt    time.Time
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{fetched: map[string]bool{}, users: map[string]int{}, filtered: map[string]int{}}
}

func (m *fakeMetrics) SetTenantFetched(tenant string, ok bool) { m.fetched[tenant] = ok }
func (m *fakeMetrics) AddUsersFetched(tenant string, n int)    { m.users[tenant] += n }
func (m *fakeMetrics) IncUserFiltered(reason string)           { m.filtered[reason]++ }
func (m *fakeMetrics) SetReportRows(n int)                     { m.rows = n }
func (m *fakeMetrics) MarkRun(t time.Time)                     { m.runAt = t }

// --- Helpers ---

const header = "Name,Email,LastLogin,DaysSinceLastLogin,UserType,RoleType,AppendDate"

var clockAt = time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return clockAt }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tenants(subdomains ...string) []config.Tenant {
	out := make([]config.Tenant, 0, len(subdomains))
	for _, s := range subdomains {
		out = append(out, config.Tenant{Subdomain: s, Email: "ops@" + s, Token: "t-" + s, RawToken: "t-" + s})
	}
	return out
}

func user(name, email string, lastLogin *string, role string, roleType int) zendesk.User {
	return zendesk.User{Name: name, Email: email, LastLoginAt: lastLogin, Role: role, RoleType: &roleType}
}

func strPtr(s string) *string { return &s }

func newTestRunner(t *testing.T, f Fetcher, opts Options) (*Runner, string) {
	t.Helper()
	if opts.ReportPath == "" {
		opts.ReportPath = filepath.Join(t.TempDir(), "agents.csv")
	}
	return NewRunner(f, fixedClock, discardLogger(), opts), opts.ReportPath
}

func readReport(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func writePrior(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// --- Tests ---

func TestRunSingleTenant(t *testing.T) {
	f := &fakeFetcher{users: map[string][]zendesk.User{
		"acme": {
			user("Al", "al@x", strPtr("2024-01-01T00:00:00Z"), "admin", 4),
			user("Bo", "bo@x", nil, "agent", 0),
			user("Cy", "cy@x", strPtr("2024-06-01T00:00:00Z"), "agent", 1),
		},
	}}
	r, path := newTestRunner(t, f, Options{})
	m := newFakeMetrics()
	r.SetMetrics(m)

	res, err := r.Run(context.Background(), tenants("acme"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := header + ",acme\n" +
		"Al,al@x,2024-01-01T00:00:00Z,153,admin,4,2024-06-02,X\n" +
		"Bo,bo@x,,N/A,agent,0,2024-06-02,X\n"
	if got := readReport(t, path); got != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", got, want)
	}

	if res.Rows != 2 || len(res.Tenants) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	tr := res.Tenants[0]
	if tr.Fetched != 3 || tr.Filtered != 1 || tr.Added != 2 || tr.Updated != 0 {
		t.Errorf("unexpected tenant result %+v", tr)
	}

	if !m.fetched["acme"] || m.users["acme"] != 3 || m.filtered[report.SkipLightRole] != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}
	if m.rows != 2 || !m.runAt.Equal(clockAt) {
		t.Errorf("unexpected run metrics rows=%d at=%v", m.rows, m.runAt)
	}
}

func TestRunCrossTenantMerge(t *testing.T) {
	f := &fakeFetcher{users: map[string][]zendesk.User{
		"acme": {user("X Old", "x@x", strPtr("2024-05-01T00:00:00Z"), "admin", 4)},
		"beta": {user("X New", "x@x", strPtr("2024-06-01T00:00:00Z"), "agent", 0)},
	}}
	r, path := newTestRunner(t, f, Options{})

	res, err := r.Run(context.Background(), tenants("acme", "beta"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := header + ",acme,beta\n" +
		"X New,x@x,2024-06-01T00:00:00Z,1,agent,0,2024-06-02,X,X\n"
	if got := readReport(t, path); got != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", got, want)
	}
	if res.Tenants[1].Updated != 1 {
		t.Errorf("second tenant should update the row, got %+v", res.Tenants[1])
	}
}

func TestRunPriorStateCarryover(t *testing.T) {
	path := writePrior(t, header+",acme\n"+
		"Old,old@x,2023-12-01T00:00:00Z,31,agent,0,2024-01-01,X\n")

	f := &fakeFetcher{users: map[string][]zendesk.User{
		"acme": {user("New", "new@x", nil, "agent", 0)},
	}}
	r, _ := newTestRunner(t, f, Options{ReportPath: path})

	res, err := r.Run(context.Background(), tenants("acme", "beta"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := header + ",acme,beta\n" +
		"Old,old@x,2023-12-01T00:00:00Z,31,agent,0,2024-01-01,X,\n" +
		"New,new@x,,N/A,agent,0,2024-06-02,X,\n"
	if got := readReport(t, path); got != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", got, want)
	}
	if res.PriorRows != 1 {
		t.Errorf("expected 1 prior row, got %d", res.PriorRows)
	}
}

func TestRunNewTenantColumn(t *testing.T) {
	path := writePrior(t, header+",acme\n"+
		"Old,old@x,,N/A,agent,0,2024-01-01,X\n")

	r, _ := newTestRunner(t, &fakeFetcher{}, Options{ReportPath: path})
	if _, err := r.Run(context.Background(), tenants("acme", "gamma")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := header + ",acme,gamma\n" +
		"Old,old@x,,N/A,agent,0,2024-01-01,X,\n"
	if got := readReport(t, path); got != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", got, want)
	}
}

func TestRunFailedFetchKeepsMarks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/acme/"):
			fmt.Fprint(w, `{"users":[{"name":"Al","email":"al@x","last_login_at":null,"role":"admin","role_type":4}],"next_page":null}`)
		case strings.HasPrefix(r.URL.Path, "/beta/"):
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := writePrior(t, header+",acme,beta\n"+
		"Bo,bo@x,,N/A,agent,0,2024-01-01,,X\n")

	client := zendesk.NewClient(srv.URL+"/{subdomain}", 5*time.Second, nil, 0)
	var logs bytes.Buffer
	r := NewRunner(client, fixedClock, slog.New(slog.NewTextHandler(&logs, nil)), Options{ReportPath: path})
	m := newFakeMetrics()
	r.SetMetrics(m)

	res, err := r.Run(context.Background(), tenants("acme", "beta"))
	if err != nil {
		t.Fatalf("fetch failures should not fail the run: %v", err)
	}

	want := header + ",acme,beta\n" +
		"Bo,bo@x,,N/A,agent,0,2024-01-01,,X\n" +
		"Al,al@x,,N/A,admin,4,2024-06-02,X,\n"
	if got := readReport(t, path); got != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", got, want)
	}

	if failed := res.Failed(); len(failed) != 1 || failed[0] != "beta" {
		t.Errorf("expected beta to fail, got %v", failed)
	}
	var fe *zendesk.FetchError
	if !errors.As(res.Tenants[1].Err, &fe) || fe.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected a 500 FetchError, got %v", res.Tenants[1].Err)
	}
	if m.fetched["beta"] || !m.fetched["acme"] {
		t.Errorf("unexpected fetch metrics %v", m.fetched)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "tenant=beta") || !strings.Contains(logs.String(), "status=500") {
		t.Errorf("missing fetch warning in logs:\n%s", logs.String())
	}
}

func TestRunSubDayLogin(t *testing.T) {
	lastLogin := clockAt.Add(-3 * time.Hour).Format("2006-01-02T15:04:05Z")
	f := &fakeFetcher{users: map[string][]zendesk.User{
		"acme": {user("Al", "al@x", strPtr(lastLogin), "agent", 0)},
	}}
	r, path := newTestRunner(t, f, Options{})

	if _, err := r.Run(context.Background(), tenants("acme")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "Al,al@x," + lastLogin + ",0,agent,0,2024-06-02,X\n"
	if got := readReport(t, path); !strings.HasSuffix(got, want) {
		t.Errorf("expected sub-day login row %q in:\n%s", want, got)
	}
}

func TestRunIdempotent(t *testing.T) {
	f := &fakeFetcher{users: map[string][]zendesk.User{
		"acme": {
			user("Al", "al@x", strPtr("2024-01-01T00:00:00Z"), "admin", 4),
			user("Bo", "bo@x", nil, "agent", 0),
		},
		"beta": {
			user("Bo", "bo@x", strPtr("2024-05-30T12:00:00Z"), "agent", 2),
			user("Di", "di@x", nil, "agent", 1),
		},
	}}
	r, path := newTestRunner(t, f, Options{})
	ts := tenants("acme", "beta")

	if _, err := r.Run(context.Background(), ts); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := readReport(t, path)

	if _, err := r.Run(context.Background(), ts); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second := readReport(t, path)

	if first != second {
		t.Errorf("repeat run changed the report:\n%s\n---\n%s", first, second)
	}

	for _, line := range strings.Split(strings.TrimSpace(first), "\n")[1:] {
		cols := strings.Split(line, ",")
		if len(cols) != 9 {
			t.Errorf("row %q should have 7 fields and 2 presence cells", line)
			continue
		}
		if cols[5] == "1" {
			t.Errorf("role_type 1 user emitted: %q", line)
		}
		if cols[7] != "X" && cols[8] != "X" {
			t.Errorf("touched row without a mark: %q", line)
		}
	}
}

func TestRunSkipPrior(t *testing.T) {
	path := writePrior(t, header+",acme\nOld,old@x,,N/A,agent,0,2024-01-01,X\n")

	f := &fakeFetcher{users: map[string][]zendesk.User{
		"acme": {user("New", "new@x", nil, "agent", 0)},
	}}
	r, _ := newTestRunner(t, f, Options{ReportPath: path, SkipPrior: true})

	if _, err := r.Run(context.Background(), tenants("acme")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readReport(t, path); strings.Contains(got, "old@x") {
		t.Errorf("prior rows should be ignored:\n%s", got)
	}
}

func TestRunMalformedPriorIsFatal(t *testing.T) {
	original := "Name,Mail\nA,a@x\n"
	path := writePrior(t, original)

	f := &fakeFetcher{}
	r, _ := newTestRunner(t, f, Options{ReportPath: path})

	_, err := r.Run(context.Background(), tenants("acme"))
	var pse *report.PriorStateError
	if !errors.As(err, &pse) {
		t.Fatalf("expected *PriorStateError, got %v", err)
	}
	if len(f.called) != 0 {
		t.Errorf("no tenant should be fetched after a prior-state error, got %v", f.called)
	}
	if got := readReport(t, path); got != original {
		t.Errorf("prior file was overwritten: %q", got)
	}
}

func TestRunNoTenants(t *testing.T) {
	r, path := newTestRunner(t, &fakeFetcher{}, Options{})

	res, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readReport(t, path); got != header+"\n" {
		t.Errorf("unexpected report %q", got)
	}
	if res.Rows != 0 {
		t.Errorf("expected no rows, got %d", res.Rows)
	}
}

func TestRunWritesRoster(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		ReportPath: filepath.Join(dir, "agents.csv"),
		RosterPath: filepath.Join(dir, "instances.csv"),
	}
	r, _ := newTestRunner(t, &fakeFetcher{}, opts)

	if _, err := r.Run(context.Background(), tenants("acme", "beta")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "Subdomain,Email,Token,DateChecked\n" +
		"acme,ops@acme,t-acme,2024-06-02\n" +
		"beta,ops@beta,t-beta,2024-06-02\n"
	if got := readReport(t, opts.RosterPath); got != want {
		t.Errorf("unexpected roster:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteRosterOnly(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		ReportPath: filepath.Join(dir, "agents.csv"),
		RosterPath: filepath.Join(dir, "instances.csv"),
		MaskTokens: true,
	}
	f := &fakeFetcher{}
	r, _ := newTestRunner(t, f, opts)

	if err := r.WriteRoster(tenants("acme")); err != nil {
		t.Fatalf("WriteRoster: %v", err)
	}
	if got := readReport(t, opts.RosterPath); !strings.Contains(got, "acme,ops@acme,**acme,2024-06-02") {
		t.Errorf("unexpected masked roster:\n%s", got)
	}
	if _, err := os.Stat(opts.ReportPath); !os.IsNotExist(err) {
		t.Error("roster-only run should not write the report")
	}
	if len(f.called) != 0 {
		t.Errorf("roster-only run should not fetch, got %v", f.called)
	}

	noRoster, _ := newTestRunner(t, f, Options{})
	if err := noRoster.WriteRoster(tenants("acme")); err == nil {
		t.Error("expected an error without a roster path")
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{errs: map[string]error{"acme": context.Canceled}}
	r, path := newTestRunner(t, f, Options{})

	if _, err := r.Run(ctx, tenants("acme")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("canceled run should not write the report")
	}
}

func TestRunConcurrencyLimit(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	gate := fetcherFunc(func(ctx context.Context, t config.Tenant) ([]zendesk.User, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return []zendesk.User{user(t.Subdomain, t.Subdomain+"@x", nil, "agent", 0)}, nil
	})

	r, path := newTestRunner(t, gate, Options{Concurrency: 2})
	res, err := r.Run(context.Background(), tenants("a", "b", "c", "d", "e"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak > 2 {
		t.Errorf("expected at most 2 concurrent fetches, saw %d", peak)
	}

	// Rows follow configuration order regardless of fetch completion order.
	lines := strings.Split(strings.TrimSpace(readReport(t, path)), "\n")[1:]
	for i, sub := range []string{"a", "b", "c", "d", "e"} {
		if !strings.HasPrefix(lines[i], sub+","+sub+"@x,") {
			t.Errorf("row %d = %q, want tenant %s", i, lines[i], sub)
		}
	}
	if res.Rows != 5 {
		t.Errorf("expected 5 rows, got %d", res.Rows)
	}
}

type fetcherFunc func(ctx context.Context, t config.Tenant) ([]zendesk.User, error)

func (f fetcherFunc) ListPrivilegedUsers(ctx context.Context, t config.Tenant) ([]zendesk.User, error) {
	return f(ctx, t)
}
