// Package registry talks to the public Swedish company registry site.
// The site is a Next.js app: data endpoints live under
// /_next/data/<buildId>/ and the build id rotates with each deploy, so
// it is resolved from the landing page and re-resolved on a 404.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/resilience"
)

// SearchHit is one row from the site's company search.
type SearchHit struct {
	CompanyID string
	OrgNr     string
	Name      string
}

// Client is the registry surface the pipeline stages consume.
type Client interface {
	// BuildID resolves the site's current build identifier, cached
	// across calls.
	BuildID(ctx context.Context) (string, error)
	// SegmentationPage fetches one page of the segmentation listing.
	SegmentationPage(ctx context.Context, filter model.SegmentFilter, page int) ([]model.CompanyStub, error)
	// Search queries the site search, used to resolve company ids.
	Search(ctx context.Context, query string) ([]SearchHit, error)
	// Financials fetches up to maxYears of annual accounts for a company.
	Financials(ctx context.Context, companyID string, maxYears int) ([]model.FinancialYear, error)
}

// Options configures the HTTP client.
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond caps the request rate against the site.
	RequestsPerSecond float64
	Retry             resilience.RetryConfig
	Logger            *zap.Logger
}

// HTTPClient implements Client against the live site.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	ua      string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	log     *zap.Logger

	mu      sync.Mutex
	buildID string
}

// NewHTTPClient creates a rate-limited, retrying registry client.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.allabolag.se"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "screener-cli/1.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		baseURL: opts.BaseURL,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		ua:      opts.UserAgent,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		retry:   opts.Retry,
		log:     opts.Logger,
	}
}

var buildIDPattern = regexp.MustCompile(`"buildId":"([^"]+)"`)

// BuildID returns the cached build id, resolving it from the landing
// page on first use.
func (c *HTTPClient) BuildID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.buildID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	return c.refreshBuildID(ctx)
}

func (c *HTTPClient) refreshBuildID(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.baseURL+"/")
	if err != nil {
		return "", eris.Wrap(err, "registry: fetch landing page")
	}
	m := buildIDPattern.FindSubmatch(body)
	if m == nil {
		return "", eris.New("registry: build id not found in landing page")
	}
	id := string(m[1])

	c.mu.Lock()
	c.buildID = id
	c.mu.Unlock()

	c.log.Debug("resolved registry build id", zap.String("build_id", id))
	return id, nil
}

// SegmentationPage fetches one page of the revenue/profit segmentation
// listing. Filter amounts are in MSEK; the site expects SEK.
func (c *HTTPClient) SegmentationPage(ctx context.Context, filter model.SegmentFilter, page int) ([]model.CompanyStub, error) {
	q := url.Values{}
	q.Set("revenueFrom", strconv.FormatInt(int64(filter.RevenueFrom*1_000_000), 10))
	q.Set("revenueTo", strconv.FormatInt(int64(filter.RevenueTo*1_000_000), 10))
	q.Set("profitFrom", strconv.FormatInt(int64(filter.ProfitFrom*1_000_000), 10))
	q.Set("profitTo", strconv.FormatInt(int64(filter.ProfitTo*1_000_000), 10))
	q.Set("companyType", filter.CompanyType)
	q.Set("page", strconv.Itoa(page))

	var resp segmentationResponse
	if err := c.getData(ctx, "segmentering.json", q, &resp); err != nil {
		return nil, eris.Wrapf(err, "registry: segmentation page %d", page)
	}

	stubs := make([]model.CompanyStub, 0, len(resp.PageProps.Companies))
	now := time.Now().UTC()
	for _, wc := range resp.PageProps.Companies {
		stub := wc.toStub()
		if stub.OrgNr == "" {
			continue
		}
		stub.ScrapedAt = now
		stubs = append(stubs, stub)
	}
	return stubs, nil
}

// Search queries the site search. Hits without a company id are dropped.
func (c *HTTPClient) Search(ctx context.Context, query string) ([]SearchHit, error) {
	var resp searchResponse
	path := fmt.Sprintf("what/%s.json", url.PathEscape(query))
	if err := c.getData(ctx, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "registry: search %q", query)
	}

	raw := resp.PageProps.HydrationData.SearchStore.Companies.Companies
	if len(raw) == 0 {
		raw = resp.PageProps.Companies
	}
	hits := make([]SearchHit, 0, len(raw))
	for _, wc := range raw {
		if wc.CompanyID == "" {
			continue
		}
		hits = append(hits, SearchHit{
			CompanyID: wc.CompanyID,
			OrgNr:     normalizeOrgNr(wc.OrgNr),
			Name:      wc.Name,
		})
	}
	return hits, nil
}

// Financials fetches the company page and extracts up to maxYears
// annual accounts, newest first.
func (c *HTTPClient) Financials(ctx context.Context, companyID string, maxYears int) ([]model.FinancialYear, error) {
	var resp companyResponse
	path := fmt.Sprintf("foretag/%s.json", url.PathEscape(companyID))
	if err := c.getData(ctx, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "registry: financials for %s", companyID)
	}

	reports := resp.PageProps.Company.AnnualReports
	if maxYears > 0 && len(reports) > maxYears {
		reports = reports[:maxYears]
	}

	orgnr := normalizeOrgNr(resp.PageProps.Company.OrgNr)
	now := time.Now().UTC()
	years := make([]model.FinancialYear, 0, len(reports))
	for _, r := range reports {
		y, err := r.toFinancialYear(orgnr, companyID)
		if err != nil {
			c.log.Warn("skipping malformed annual report",
				zap.String("company_id", companyID),
				zap.Error(err),
			)
			continue
		}
		y.ScrapedAt = now
		years = append(years, y)
	}
	return years, nil
}

// getData fetches a /_next/data/ endpoint, re-resolving the build id
// once when the site answers 404 after a deploy.
func (c *HTTPClient) getData(ctx context.Context, path string, q url.Values, out any) error {
	buildID, err := c.BuildID(ctx)
	if err != nil {
		return err
	}

	body, err := c.getJSON(ctx, c.dataURL(buildID, path, q))
	if isNotFound(err) {
		if buildID, err = c.refreshBuildID(ctx); err != nil {
			return err
		}
		body, err = c.getJSON(ctx, c.dataURL(buildID, path, q))
	}
	if err != nil {
		return err
	}
	return eris.Wrap(json.Unmarshal(body, out), "registry: decode response")
}

func (c *HTTPClient) dataURL(buildID, path string, q url.Values) string {
	u := fmt.Sprintf("%s/_next/data/%s/%s", c.baseURL, buildID, path)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

var errNotFound = eris.New("registry: not found")

func isNotFound(err error) bool {
	return err != nil && eris.Is(err, errNotFound)
}

func (c *HTTPClient) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("registry", "get")
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, rawURL)
	})
}

// get performs one rate-limited request. Transient statuses come back
// as resilience.TransientError so the retry layer can tell them apart;
// 404 maps to errNotFound for build id refresh.
func (c *HTTPClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "registry: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "registry: create request")
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json, text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("registry: http %d from %s", resp.StatusCode, rawURL),
			resp.StatusCode)
	default:
		return nil, eris.Errorf("registry: http %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "registry: read body"), 0)
	}
	return body, nil
}
