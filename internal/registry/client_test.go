package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/resilience"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Options{
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Retry:             resilience.RetryConfig{MaxAttempts: 1},
	})
}

func landingPage(buildID string) string {
	return fmt.Sprintf(`<html><script id="__NEXT_DATA__">{"buildId":"%s"}</script></html>`, buildID)
}

func TestBuildIDResolvedOnceAndCached(t *testing.T) {
	var landingHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&landingHits, 1)
		fmt.Fprint(w, landingPage("build-abc"))
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	id, err := c.BuildID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build-abc", id)

	id, err = c.BuildID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build-abc", id)
	assert.Equal(t, int32(1), atomic.LoadInt32(&landingHits))
}

func TestBuildIDMissingFromLandingPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	})

	c := newTestClient(t, mux)
	_, err := c.BuildID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build id not found")
}

func TestSegmentationPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingPage("b1"))
	})
	mux.HandleFunc("/_next/data/b1/segmentering.json", func(w http.ResponseWriter, r *http.Request) {
		// Filter amounts arrive converted from MSEK to SEK.
		assert.Equal(t, "10000000", r.URL.Query().Get("revenueFrom"))
		assert.Equal(t, "100000000", r.URL.Query().Get("revenueTo"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "AB", r.URL.Query().Get("companyType"))

		fmt.Fprint(w, `{"pageProps":{"companies":[
			{"organisationNumber":"556016-0680","companyName":" Acme AB ","homePage":"https://acme.se","segmentNames":["IT"],"revenue":12000000},
			{"organisationNumber":"","companyName":"No OrgNr AB"}
		]}}`)
	})

	c := newTestClient(t, mux)
	stubs, err := c.SegmentationPage(context.Background(), model.SegmentFilter{
		RevenueFrom: 10, RevenueTo: 100, CompanyType: "AB",
	}, 3)
	require.NoError(t, err)

	require.Len(t, stubs, 1)
	assert.Equal(t, "5560160680", stubs[0].OrgNr)
	assert.Equal(t, "Acme AB", stubs[0].Name)
	assert.Equal(t, "https://acme.se", stubs[0].Homepage)
	assert.False(t, stubs[0].ScrapedAt.IsZero())
}

func TestSearchHydrationPathAndFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingPage("b1"))
	})
	mux.HandleFunc("/_next/data/b1/what/acme.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pageProps":{"hydrationData":{"searchStore":{"companies":{"companies":[
			{"companyId":"acme-123","organisationNumber":"556016-0680","companyName":"Acme AB"},
			{"companyId":"","organisationNumber":"5569999999","companyName":"Anonymous AB"}
		]}}}}}`)
	})
	mux.HandleFunc("/_next/data/b1/what/nordic.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pageProps":{"companies":[
			{"companyId":"nordic-9","organisationNumber":"5561112223","companyName":"Nordic AB"}
		]}}`)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	hits, err := c.Search(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "acme-123", hits[0].CompanyID)
	assert.Equal(t, "5560160680", hits[0].OrgNr)

	hits, err = c.Search(ctx, "nordic")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "nordic-9", hits[0].CompanyID)
}

func TestFinancialsCapsYearsAndSkipsMalformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingPage("b1"))
	})
	mux.HandleFunc("/_next/data/b1/foretag/acme-123.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pageProps":{"company":{"organisationNumber":"556016-0680","annualReports":[
			{"year":2023,"period":"12","currency":"SEK","accounts":{"sdi":12000,"dr":900,"ant":25,"xyz":4}},
			{"year":2022,"currency":"SEK","accounts":{"sdi":9000}},
			{"year":0,"currency":"SEK"},
			{"year":2021,"currency":"SEK","accounts":{"sdi":7000}}
		]}}}`)
	})

	c := newTestClient(t, mux)
	years, err := c.Financials(context.Background(), "acme-123", 3)
	require.NoError(t, err)

	// Three reports requested, one of them malformed.
	require.Len(t, years, 2)
	assert.Equal(t, 2023, years[0].Year)
	assert.Equal(t, "5560160680", years[0].OrgNr)
	assert.Equal(t, "acme-123", years[0].CompanyID)
	require.NotNil(t, years[0].RevenueSDI)
	assert.Equal(t, 12000.0, *years[0].RevenueSDI)
	require.NotNil(t, years[0].Employees)
	assert.Equal(t, 25, *years[0].Employees)
	require.NotNil(t, years[0].Raw["xyz"])

	// Missing period defaults to a full fiscal year.
	assert.Equal(t, "12", years[1].Period)
}

func TestGetDataRefreshesBuildIDOn404(t *testing.T) {
	var landingHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&landingHits, 1)
		if n == 1 {
			fmt.Fprint(w, landingPage("stale"))
			return
		}
		fmt.Fprint(w, landingPage("fresh"))
	})
	mux.HandleFunc("/_next/data/stale/segmentering.json", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/_next/data/fresh/segmentering.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pageProps":{"companies":[{"organisationNumber":"5560160680","companyName":"Acme AB"}]}}`)
	})

	c := newTestClient(t, mux)
	stubs, err := c.SegmentationPage(context.Background(), model.SegmentFilter{CompanyType: "AB"}, 1)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&landingHits))
}

func TestTransientStatusRetried(t *testing.T) {
	var dataHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, landingPage("b1"))
	})
	mux.HandleFunc("/_next/data/b1/segmentering.json", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&dataHits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"pageProps":{"companies":[]}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(Options{
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			JitterFraction: -1,
		},
	})

	_, err := c.SegmentationPage(context.Background(), model.SegmentFilter{CompanyType: "AB"}, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&dataHits))
}

func TestNormalizeOrgNr(t *testing.T) {
	assert.Equal(t, "5560160680", normalizeOrgNr(" 556016-0680 "))
	assert.Equal(t, "5560160680", normalizeOrgNr("5560160680"))
	assert.Equal(t, "", normalizeOrgNr(""))
}
