package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivo-analytics/screener-cli/internal/config"
	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/registry"
	"github.com/nivo-analytics/screener-cli/internal/resilience"
	"github.com/nivo-analytics/screener-cli/internal/staging"
)

// fakeRegistry scripts registry responses per page and per query.
type fakeRegistry struct {
	mu           sync.Mutex
	pages        map[int][]model.CompanyStub
	pageErrs     map[int]error
	pageErrsOnce map[int]error
	searches     map[string][]registry.SearchHit
	searchErrs   map[string]error
	financials   map[string][]model.FinancialYear
	finErrs      map[string]error
	pageCalls    []int
}

func (f *fakeRegistry) BuildID(ctx context.Context) (string, error) { return "test", nil }

func (f *fakeRegistry) SegmentationPage(ctx context.Context, filter model.SegmentFilter, page int) ([]model.CompanyStub, error) {
	f.mu.Lock()
	f.pageCalls = append(f.pageCalls, page)
	once := f.pageErrsOnce[page]
	if once != nil {
		delete(f.pageErrsOnce, page)
	}
	f.mu.Unlock()
	if once != nil {
		return nil, once
	}
	if err := f.pageErrs[page]; err != nil {
		return nil, err
	}
	return f.pages[page], nil
}

func (f *fakeRegistry) Search(ctx context.Context, query string) ([]registry.SearchHit, error) {
	if err := f.searchErrs[query]; err != nil {
		return nil, err
	}
	return f.searches[query], nil
}

func (f *fakeRegistry) Financials(ctx context.Context, companyID string, maxYears int) ([]model.FinancialYear, error) {
	if err := f.finErrs[companyID]; err != nil {
		return nil, err
	}
	return f.financials[companyID], nil
}

func newTestRunner(t *testing.T, client registry.Client) (*Runner, *staging.Store) {
	t.Helper()
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := config.RegistryConfig{
		MaxPages:         10,
		MaxEmptyPages:    3,
		EnrichBatchSize:  2,
		EnrichWorkers:    2,
		FinancialBatch:   2,
		FinancialWorkers: 2,
		MaxYears:         5,
	}
	scrape := config.ScrapeConfig{MaxConsecutiveFails: 3}
	return NewRunner(store, client, reg, scrape, nil), store
}

func stubsPage(orgnrs ...string) []model.CompanyStub {
	out := make([]model.CompanyStub, len(orgnrs))
	for i, o := range orgnrs {
		out[i] = model.CompanyStub{OrgNr: o, Name: "Bolag " + o, ScrapedAt: time.Now()}
	}
	return out
}

func TestStartRejectsDuplicateSegment(t *testing.T) {
	r, store := newTestRunner(t, &fakeRegistry{})
	ctx := context.Background()

	filter := model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100}
	job, err := r.Start(ctx, filter)
	require.NoError(t, err)

	// Pending jobs do not block; running ones do.
	_, err = r.Start(ctx, filter)
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusRunning))
	_, err = r.Start(ctx, filter)
	require.ErrorIs(t, err, ErrDuplicateJob)
	assert.Contains(t, err.Error(), "already running")
}

func TestStartRejectsBadFilter(t *testing.T) {
	r, _ := newTestRunner(t, &fakeRegistry{})
	_, err := r.Start(context.Background(), model.SegmentFilter{RevenueFrom: 100, RevenueTo: 10})
	require.ErrorIs(t, err, model.ErrInvalidFilter)
}

func TestSegmentStopsAfterEmptyPages(t *testing.T) {
	client := &fakeRegistry{pages: map[int][]model.CompanyStub{
		1: stubsPage("5560000001", "5560000002"),
		2: stubsPage("5560000003"),
	}}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	require.NoError(t, r.Segment(ctx, job.ID))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got.Status)
	assert.Equal(t, 3, got.TotalCompanies)
	assert.Equal(t, 2, got.LastPage)

	// Pages 1-2 had data, 3-5 were the empty streak.
	assert.Equal(t, []int{1, 2, 3, 4, 5}, client.pageCalls)
}

func TestSegmentResumesFromLastPage(t *testing.T) {
	client := &fakeRegistry{pages: map[int][]model.CompanyStub{
		3: stubsPage("5560000009"),
	}}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	require.NoError(t, store.UpdateSegmentProgress(ctx, job.ID, 2, 0))

	require.NoError(t, r.Segment(ctx, job.ID))
	assert.Equal(t, 3, client.pageCalls[0])
}

func TestSegmentSurvivesIsolatedPageFailures(t *testing.T) {
	client := &fakeRegistry{
		pages: map[int][]model.CompanyStub{
			1: stubsPage("5560000001"),
			3: stubsPage("5560000002"),
		},
		pageErrs: map[int]error{2: eris.New("http 500")},
	}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	require.NoError(t, r.Segment(ctx, job.ID))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got.Status)
	assert.Equal(t, 2, got.TotalCompanies)
	assert.Equal(t, 1, got.ErrorCount)
}

func TestSegmentRetriesTransientPageFailure(t *testing.T) {
	client := &fakeRegistry{
		pages: map[int][]model.CompanyStub{
			1: stubsPage("5560000001", "5560000002"),
		},
		pageErrsOnce: map[int]error{
			1: resilience.NewTransientError(eris.New("slammed"), 503),
		},
	}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	require.NoError(t, r.Segment(ctx, job.ID))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got.Status)
	assert.Equal(t, 2, got.TotalCompanies)

	// The retry absorbed the 503; it never reached the failure streak.
	assert.Zero(t, got.ErrorCount)
	assert.Equal(t, []int{1, 1, 2, 3, 4}, client.pageCalls)
}

func TestSegmentFailsAfterConsecutiveErrors(t *testing.T) {
	client := &fakeRegistry{pageErrs: map[int]error{
		1: eris.New("http 500"),
		2: eris.New("http 500"),
		3: eris.New("http 500"),
	}}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)

	err = r.Segment(ctx, job.ID)
	require.Error(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, got.Status)
	assert.Equal(t, 3, got.ErrorCount)
	assert.Len(t, client.pageCalls, 3)
}

func TestPauseStopsStageAtBoundary(t *testing.T) {
	r, store := newTestRunner(t, &fakeRegistry{})
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusRunning))

	ok, err := r.keepRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.Pause(ctx, job.ID))
	ok, err = r.keepRunning(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Cancelled context also stops the stage without an error.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	ok, err = r.keepRunning(cancelled, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func seedSegmentedJob(t *testing.T, r *Runner, store *staging.Store, stubs []model.CompanyStub) *model.Job {
	t.Helper()
	ctx := context.Background()
	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	_, err = store.UpsertCompanies(ctx, job.ID, stubs)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusRunning))
	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusDone))
	return job
}

func TestEnrichResolutionOrder(t *testing.T) {
	client := &fakeRegistry{
		searches: map[string][]registry.SearchHit{
			// Direct orgnr hit.
			"5560000001": {{CompanyID: "id-1", OrgNr: "5560000001", Name: "Bolag 5560000001"}},
			// Orgnr search empty, name search matches by name.
			"Bolag 5560000002": {{CompanyID: "id-2", OrgNr: "", Name: "bolag  5560000002"}},
		},
	}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job := seedSegmentedJob(t, r, store, []model.CompanyStub{
		{OrgNr: "5560000001", Name: "Bolag 5560000001", ScrapedAt: time.Now()},
		{OrgNr: "5560000002", Name: "Bolag 5560000002", ScrapedAt: time.Now()},
		{OrgNr: "5560000003", Name: "Bolag 5560000003", CompanyIDHint: "hint-3", ScrapedAt: time.Now()},
		{OrgNr: "5560000004", Name: "Bolag 5560000004", ScrapedAt: time.Now()},
	})

	results, err := r.Enrich(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, results, 4)

	failed := model.FailedItems(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "5560000004", failed[0].OrgNr)

	byOrgnr := map[string]string{}
	all, err := store.AllCompanies(ctx, job.ID)
	require.NoError(t, err)
	for _, c := range all {
		byOrgnr[c.OrgNr] = c.CompanyID
	}
	assert.Equal(t, "id-1", byOrgnr["5560000001"])
	assert.Equal(t, "id-2", byOrgnr["5560000002"])
	assert.Equal(t, "hint-3", byOrgnr["5560000003"])
	assert.Empty(t, byOrgnr["5560000004"])

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageEnrichment, got.Stage)
	assert.Equal(t, model.JobStatusDone, got.Status)
	assert.Equal(t, 3, got.TotalCompanyIDs)
	assert.Equal(t, 1, got.ErrorCount)
}

func TestEnrichSearchErrorIsolated(t *testing.T) {
	client := &fakeRegistry{
		searches: map[string][]registry.SearchHit{
			"5560000001": {{CompanyID: "id-1", OrgNr: "5560000001"}},
		},
		searchErrs: map[string]error{
			"5560000002":       eris.New("http 503"),
			"Bolag 5560000002": eris.New("http 503"),
		},
	}
	r, store := newTestRunner(t, client)

	job := seedSegmentedJob(t, r, store, []model.CompanyStub{
		{OrgNr: "5560000001", Name: "Bolag 5560000001", ScrapedAt: time.Now()},
		{OrgNr: "5560000002", Name: "Bolag 5560000002", ScrapedAt: time.Now()},
	})

	results, err := r.Enrich(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, model.FailedItems(results), 1)
}

func TestEnrichRequiresStage(t *testing.T) {
	r, _ := newTestRunner(t, &fakeRegistry{})
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)

	// Segmentation is still pending, not done.
	_, err = r.Enrich(ctx, job.ID)
	require.Error(t, err)
}

func seedEnrichedJob(t *testing.T, r *Runner, store *staging.Store, ids map[string]string) *model.Job {
	t.Helper()
	ctx := context.Background()

	var stubs []model.CompanyStub
	for orgnr := range ids {
		stubs = append(stubs, model.CompanyStub{OrgNr: orgnr, Name: "Bolag " + orgnr, ScrapedAt: time.Now()})
	}
	job := seedSegmentedJob(t, r, store, stubs)

	require.NoError(t, store.AdvanceStage(ctx, job.ID, model.StageEnrichment))
	for orgnr, id := range ids {
		require.NoError(t, store.SetCompanyID(ctx, job.ID, orgnr, id))
	}
	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusRunning))
	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusDone))
	return job
}

func TestFinancialsFetchAndMark(t *testing.T) {
	year := func(companyID string, y int, sdi float64) model.FinancialYear {
		return model.FinancialYear{
			CompanyID: companyID, Year: y, Period: "12", Currency: "SEK",
			RevenueSDI: &sdi, ScrapedAt: time.Now(),
		}
	}
	client := &fakeRegistry{
		financials: map[string][]model.FinancialYear{
			"id-1": {year("id-1", 2023, 12000), year("id-1", 2022, 9000)},
			"id-2": {},
		},
		finErrs: map[string]error{"id-3": eris.New("http 500")},
	}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job := seedEnrichedJob(t, r, store, map[string]string{
		"5560000001": "id-1",
		"5560000002": "id-2",
		"5560000003": "id-3",
	})

	results, err := r.Financials(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Len(t, model.FailedItems(results), 1)

	// Fetched rows are pinned to the staged orgnr.
	rows, err := store.FinancialsFor(ctx, job.ID, "5560000001")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "5560000001", rows[0].OrgNr)

	// Fetched and no-financials companies leave the pending queue;
	// the errored one stays for a retry.
	pending, err := store.CompaniesForFinancials(ctx, job.ID, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "5560000003", pending[0].OrgNr)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusDone, got.Status)
	assert.Equal(t, 2, got.TotalFinancials)
}

func TestFinancialsAutoAdvancesFromEnrichment(t *testing.T) {
	client := &fakeRegistry{financials: map[string][]model.FinancialYear{}}
	r, store := newTestRunner(t, client)
	ctx := context.Background()

	job := seedEnrichedJob(t, r, store, map[string]string{"5560000001": "id-1"})

	// Job sits at enrichment/done; the financial stage advances it.
	_, err := r.Financials(ctx, job.ID)
	require.NoError(t, err)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFinancials, got.Stage)
	assert.Equal(t, model.JobStatusDone, got.Status)
}

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	batches := chunk(items, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{1, 2}, batches[0])
	assert.Equal(t, []int{5}, batches[2])

	assert.Nil(t, chunk([]int{}, 2))
	assert.Len(t, chunk(items, 0), 1)
}

func TestStopFailsJob(t *testing.T) {
	r, store := newTestRunner(t, &fakeRegistry{})
	ctx := context.Background()

	job, err := r.Start(ctx, model.SegmentFilter{RevenueFrom: 10, RevenueTo: 100})
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, job.ID, model.JobStatusRunning))
	require.NoError(t, r.Stop(ctx, job.ID))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, got.Status)
	assert.Contains(t, got.LastError, "stopped by operator")
}
