package zendesk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alecgard/deskroster/internal/config"
)

// maxPageSize caps how much of a single response body is decoded.
const maxPageSize = 32 << 20

const usersPath = "/api/v2/users.json"

// Pacer delays outbound requests per tenant.
type Pacer interface {
	Wait(ctx context.Context, key string) error
}

// MetricsRecorder is an optional interface for recording fetch-level metrics.
type MetricsRecorder interface {
	IncFetchRequests(tenant string, statusCode int)
	ObserveFetchDuration(tenant string, seconds float64)
	IncFetchFailure(tenant, errorType string)
}

// FetchError means a tenant's user list could not be retrieved. The caller
// should treat the tenant as having reported nothing this run.
type FetchError struct {
	Tenant     string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching users for %s: status %d: %v", e.Tenant, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching users for %s: %v", e.Tenant, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client lists privileged users from Zendesk tenants.
type Client struct {
	baseURL  string
	client   *http.Client
	pacer    Pacer
	maxPages int
	metrics  MetricsRecorder
}

// NewClient creates a client. baseURL is a template containing {subdomain}.
// pacer may be nil to disable request pacing; maxPages of 0 follows
// next_page until the listing is exhausted.
func NewClient(baseURL string, timeout time.Duration, pacer Pacer, maxPages int) *Client {
	return &Client{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		pacer:    pacer,
		maxPages: maxPages,
	}
}

// SetMetrics sets the optional metrics recorder.
func (c *Client) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// ListPrivilegedUsers returns every agent and admin in the tenant. Any failed
// page fails the whole listing with a *FetchError.
func (c *Client) ListPrivilegedUsers(ctx context.Context, t config.Tenant) ([]User, error) {
	base, err := ResolveBaseURL(c.baseURL, map[string]string{"subdomain": t.Subdomain})
	if err != nil {
		return nil, c.fail(t.Subdomain, 0, "config", err)
	}
	origin, err := url.Parse(base)
	if err != nil {
		return nil, c.fail(t.Subdomain, 0, "config", fmt.Errorf("parsing base url: %w", err))
	}

	q := url.Values{}
	q.Add("role[]", "agent")
	q.Add("role[]", "admin")
	next := base + usersPath + "?" + q.Encode()

	var users []User
	for page := 1; next != ""; page++ {
		if c.maxPages > 0 && page > c.maxPages {
			slog.Warn("page limit reached, listing truncated", "tenant", t.Subdomain, "max_pages", c.maxPages)
			break
		}

		if err := sameOrigin(origin, next); err != nil {
			return nil, c.fail(t.Subdomain, 0, "next_page", err)
		}

		p, err := c.fetchPage(ctx, t, next)
		if err != nil {
			return nil, err
		}
		slog.Debug("fetched users page", "tenant", t.Subdomain, "page", page, "users", len(p.Users))

		users = append(users, p.Users...)
		next = ""
		if p.NextPage != nil {
			next = *p.NextPage
		}
	}

	return users, nil
}

func (c *Client) fetchPage(ctx context.Context, t config.Tenant, target string) (*usersPage, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, t.Subdomain); err != nil {
			return nil, c.fail(t.Subdomain, 0, classifyError(err), err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, c.fail(t.Subdomain, 0, "request", fmt.Errorf("creating request: %w", err))
	}
	req.SetBasicAuth(t.Email+"/token", t.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveFetchDuration(t.Subdomain, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, c.fail(t.Subdomain, 0, classifyError(err), err)
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.IncFetchRequests(t.Subdomain, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, c.fail(t.Subdomain, resp.StatusCode, "status", fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))))
	}

	var page usersPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPageSize)).Decode(&page); err != nil {
		return nil, c.fail(t.Subdomain, resp.StatusCode, "decode", fmt.Errorf("decoding response: %w", err))
	}
	return &page, nil
}

func (c *Client) fail(tenant string, status int, errorType string, err error) *FetchError {
	if c.metrics != nil {
		c.metrics.IncFetchFailure(tenant, errorType)
	}
	return &FetchError{Tenant: tenant, StatusCode: status, Err: err}
}

// sameOrigin refuses to follow a next_page link to a different host, which
// would leak the tenant's credentials.
func sameOrigin(origin *url.URL, target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parsing next_page: %w", err)
	}
	if u.Scheme != origin.Scheme || u.Host != origin.Host {
		return fmt.Errorf("next_page %s is outside %s://%s", target, origin.Scheme, origin.Host)
	}
	return nil
}

// classifyError categorizes an HTTP client error.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return "connection_refused"
		}
		return "network"
	}
	return "other"
}
