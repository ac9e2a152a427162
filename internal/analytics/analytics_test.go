package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewStoreWithPool(pool, nil), pool
}

func ptr[T any](v T) *T { return &v }

func TestMigrateSkipsAppliedMigrations(t *testing.T) {
	store, pool := newMockStore(t)

	pool.ExpectExec("SELECT pg_advisory_lock").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	pool.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	pool.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestMigrateAppliesPendingMigration(t *testing.T) {
	store, pool := newMockStore(t)

	pool.ExpectExec("SELECT pg_advisory_lock").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	pool.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	pool.ExpectExec("CREATE TABLE IF NOT EXISTS companies").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, pool.ExpectationsWereMet())
}

var snapshotCols = []string{
	"orgnr", "name", "segment", "city", "homepage", "employees",
	"revenue_sek", "net_result_sek", "foundation_year",
}

func TestListCompanies(t *testing.T) {
	store, pool := newMockStore(t)

	pool.ExpectQuery("FROM companies").
		WithArgs("acme", (*float64)(nil), (*float64)(nil), 100, 0).
		WillReturnRows(pgxmock.NewRows(snapshotCols).
			AddRow("5560000001", "Acme AB", "IT", "Stockholm", "https://acme.se",
				ptr(25), ptr(12_000_000.0), ptr(900_000.0), ptr(1998)))

	out, err := store.ListCompanies(context.Background(), CompanyFilter{Query: "acme"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Acme AB", out[0].Name)
	require.NotNil(t, out[0].RevenueSEK)
	assert.Equal(t, 12_000_000.0, *out[0].RevenueSEK)
	require.NoError(t, pool.ExpectationsWereMet())
}

var historyCols = []string{
	"orgnr", "year", "period", "currency",
	"sdi", "dr", "ors", "ek", "sv", "ant", "raw",
}

func TestSnapshotDerivesKPIs(t *testing.T) {
	store, pool := newMockStore(t)

	pool.ExpectQuery("FROM companies WHERE orgnr").
		WithArgs("5560000001").
		WillReturnRows(pgxmock.NewRows(snapshotCols).
			AddRow("5560000001", "Acme AB", "IT", "Stockholm", "",
				(*int)(nil), ptr(12_000_000.0), ptr(900_000.0), ptr(1998)))
	pool.ExpectQuery("FROM company_financials").
		WithArgs("5560000001", 2).
		WillReturnRows(pgxmock.NewRows(historyCols).
			AddRow("5560000001", 2023, "12", "SEK",
				ptr(12000.0), ptr(900.0), ptr(1500.0), ptr(5000.0), ptr(2000.0), ptr(25), []byte(`{"sdi":12000}`)).
			AddRow("5560000001", 2022, "12", "SEK",
				ptr(10000.0), ptr(700.0), nil, nil, nil, nil, []byte(nil)))

	snap, err := store.Snapshot(context.Background(), "5560000001")
	require.NoError(t, err)

	require.NotNil(t, snap.NetProfitMargin)
	assert.InDelta(t, 7.5, *snap.NetProfitMargin, 1e-9)
	require.NotNil(t, snap.EBITMargin)
	assert.InDelta(t, 12.5, *snap.EBITMargin, 1e-9)
	require.NotNil(t, snap.RevenueGrowth)
	assert.InDelta(t, 20.0, *snap.RevenueGrowth, 1e-9)
	require.NotNil(t, snap.Employees)
	assert.Equal(t, 25, *snap.Employees)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestSnapshotNotFound(t *testing.T) {
	store, pool := newMockStore(t)

	pool.ExpectQuery("FROM companies WHERE orgnr").
		WithArgs("5569999999").
		WillReturnRows(pgxmock.NewRows(snapshotCols))

	_, err := store.Snapshot(context.Background(), "5569999999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeriveKPIsEdgeCases(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		snap := &model.Snapshot{}
		deriveKPIs(snap, nil)
		assert.Nil(t, snap.NetProfitMargin)
	})

	t.Run("zero revenue produces no margins", func(t *testing.T) {
		snap := &model.Snapshot{}
		deriveKPIs(snap, []model.FinancialYear{
			{Year: 2023, RevenueSDI: ptr(0.0), NetResultDR: ptr(100.0)},
		})
		assert.Nil(t, snap.NetProfitMargin)
	})

	t.Run("single year has no growth", func(t *testing.T) {
		snap := &model.Snapshot{}
		deriveKPIs(snap, []model.FinancialYear{
			{Year: 2023, RevenueSDI: ptr(1000.0), NetResultDR: ptr(100.0)},
		})
		require.NotNil(t, snap.NetProfitMargin)
		assert.Nil(t, snap.RevenueGrowth)
	})
}

func TestCreateAndCompleteRun(t *testing.T) {
	store, pool := newMockStore(t)
	ctx := context.Background()

	pool.ExpectExec("INSERT INTO ai_analysis_runs").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := store.CreateRun(ctx, model.ModeDeep, "claude-sonnet-4-5", "analyst")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, model.ModeDeep, run.Mode)

	pool.ExpectExec("UPDATE ai_analysis_runs").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.CompleteRun(ctx, run.ID, model.RunStatusCompleted, ""))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestSaveCompanyAnalysisTransactional(t *testing.T) {
	store, pool := newMockStore(t)

	analysis := &model.CompanyAnalysis{
		RunID:          "run-1",
		OrgNr:          "5560000001",
		CompanyName:    "Acme AB",
		Summary:        "Stabilt bolag.",
		Recommendation: model.RecommendationPursue,
		Confidence:     80,
		RiskScore:      20,
		FinancialGrade: "A",
		Sections: []model.AnalysisSection{
			{SectionType: "executive_summary", ContentMD: "Sammanfattning"},
			{SectionType: "risks", ContentMD: "- valutarisk"},
		},
		Metrics: []model.AnalysisMetric{
			{MetricName: "revenue", MetricValue: 12000, MetricUnit: "TSEK", Year: ptr(2023)},
		},
	}
	audit := &model.AnalysisAudit{Prompt: "p", RawResponse: "r", PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.045}

	pool.ExpectBegin()
	pool.ExpectExec("INSERT INTO ai_company_analysis").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO ai_analysis_sections").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO ai_analysis_sections").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO ai_analysis_metrics").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO ai_analysis_audit").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	require.NoError(t, store.SaveCompanyAnalysis(context.Background(), analysis, audit))
	assert.NotEmpty(t, analysis.ID)
	assert.False(t, analysis.CreatedAt.IsZero())
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestSaveScreeningResultsUpserts(t *testing.T) {
	store, pool := newMockStore(t)

	results := []model.ScreeningResult{
		{OrgNr: "5560000001", CompanyName: "Acme AB", ScreeningScore: 75, RiskFlag: "Low", BriefSummary: "Bra"},
		{OrgNr: "5560000002", CompanyName: "Nordic AB", ScreeningScore: 40, RiskFlag: "Medium", BriefSummary: "Tveksam"},
	}

	for _, r := range results {
		pool.ExpectExec("INSERT INTO ai_screening_results").
			WithArgs("run-1", r.OrgNr, r.CompanyName, r.ScreeningScore, r.RiskFlag, r.BriefSummary).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, store.SaveScreeningResults(context.Background(), "run-1", results))
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestGetRunDetailNotFound(t *testing.T) {
	store, pool := newMockStore(t)

	pool.ExpectQuery("FROM ai_analysis_runs WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetRunDetail(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestRunHistoryAggregates(t *testing.T) {
	store, pool := newMockStore(t)

	cols := []string{
		"id", "status", "model_version", "analysis_mode", "initiated_by",
		"started_at", "completed_at", "error_message", "count", "cost",
	}
	pool.ExpectQuery("FROM ai_analysis_runs r").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("run-1", "completed", "claude-sonnet-4-5", "deep", "analyst",
				time.Now().UTC(), (*time.Time)(nil), "", 3, 0.135))

	history, err := store.RunHistory(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.RunStatusCompleted, history[0].Run.Status)
	assert.Equal(t, 3, history[0].CompaniesCount)
	assert.InDelta(t, 0.135, history[0].TotalCostUSD, 1e-9)
	require.NoError(t, pool.ExpectationsWereMet())
}
