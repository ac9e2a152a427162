package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/model"
)

func ptr[T any](v T) *T { return &v }

var analysisCols = []string{
	"id", "run_id", "orgnr", "company_name", "summary", "recommendation",
	"confidence_score", "risk_score", "financial_grade", "commercial_grade",
	"operational_grade", "next_steps", "created_at",
}

var runCols = []string{
	"id", "status", "model_version", "analysis_mode", "initiated_by",
	"started_at", "completed_at", "error_message",
}

func newTestExporter(t *testing.T) (*Exporter, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(analytics.NewStoreWithPool(pool, nil), nil), pool
}

func TestCompaniesExport(t *testing.T) {
	exp, pool := newTestExporter(t)

	snapshotCols := []string{
		"orgnr", "name", "segment", "city", "homepage", "employees",
		"revenue_sek", "net_result_sek", "foundation_year",
	}
	pool.ExpectQuery("FROM companies").
		WithArgs("", (*float64)(nil), (*float64)(nil), 100, 0).
		WillReturnRows(pgxmock.NewRows(snapshotCols).
			AddRow("5560000001", "Acme AB", "IT", "Stockholm", "https://acme.se",
				ptr(25), ptr(12_000_000.0), ptr(900_000.0), ptr(1998)).
			AddRow("5560000002", "Beta AB", "", "", "",
				(*int)(nil), (*float64)(nil), (*float64)(nil), (*int)(nil)))
	pool.ExpectQuery("FROM ai_company_analysis").
		WithArgs(500).
		WillReturnRows(pgxmock.NewRows(analysisCols).
			AddRow("an-1", "run-1", "5560000001", "Acme AB", "Stabil lönsamhet.",
				"Pursue", 80, 20, "A", "B", "B", []byte(`["Boka möte"]`), time.Now().UTC()))

	path := filepath.Join(t.TempDir(), "companies.xlsx")
	rows, err := exp.Companies(context.Background(), path, analytics.CompanyFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["Companies"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "OrgNr", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Acme AB", sheet.Rows[1].Cells[1].String())
	// Verdict columns carry the latest analysis for the first company only.
	assert.Equal(t, "Pursue", sheet.Rows[1].Cells[11].String())
	assert.True(t, len(sheet.Rows[2].Cells) <= 11)

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRunExportDeep(t *testing.T) {
	exp, pool := newTestExporter(t)

	pool.ExpectQuery("FROM ai_analysis_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-1", "completed", "claude-sonnet-4-5", "deep", "cli",
				time.Now().UTC(), (*time.Time)(nil), ""))
	pool.ExpectQuery("FROM ai_company_analysis").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(analysisCols).
			AddRow("an-1", "run-1", "5560000001", "Acme AB", "Stabil lönsamhet.",
				"Pursue", 80, 20, "A", "B", "B", []byte(nil), time.Now().UTC()))
	pool.ExpectQuery("FROM ai_analysis_sections").
		WithArgs("an-1").
		WillReturnRows(pgxmock.NewRows([]string{"section_type", "content_md", "supporting_metrics"}))
	pool.ExpectQuery("FROM ai_analysis_metrics").
		WithArgs("an-1").
		WillReturnRows(pgxmock.NewRows([]string{"metric_name", "metric_value", "metric_unit", "year"}))
	pool.ExpectQuery("FROM ai_screening_results").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"orgnr", "company_name", "screening_score", "risk_flag", "brief_summary"}))

	path := filepath.Join(t.TempDir(), "run.xlsx")
	rows, err := exp.Run(context.Background(), path, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["Analyses"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "Stabil lönsamhet.", sheet.Rows[1].Cells[8].String())

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRunExportScreening(t *testing.T) {
	exp, pool := newTestExporter(t)

	pool.ExpectQuery("FROM ai_analysis_runs WHERE id").
		WithArgs("run-2").
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-2", "completed", "claude-haiku-4", "screening", "api",
				time.Now().UTC(), (*time.Time)(nil), ""))
	pool.ExpectQuery("FROM ai_company_analysis").
		WithArgs("run-2").
		WillReturnRows(pgxmock.NewRows(analysisCols))
	pool.ExpectQuery("FROM ai_screening_results").
		WithArgs("run-2").
		WillReturnRows(pgxmock.NewRows([]string{"orgnr", "company_name", "screening_score", "risk_flag", "brief_summary"}).
			AddRow("5560000001", "Acme AB", 85, "Low", "Stark kandidat.").
			AddRow("5560000002", "Beta AB", 40, "High", "Svag lönsamhet."))

	path := filepath.Join(t.TempDir(), "screening.xlsx")
	rows, err := exp.Run(context.Background(), path, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["Screening"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "85", sheet.Rows[1].Cells[2].String())

	require.NoError(t, pool.ExpectationsWereMet())
}

func TestValidationExport(t *testing.T) {
	summary := &model.ValidationSummary{
		Total: 2, Valid: 1, Invalid: 1,
		Verdicts: []model.CompanyVerdict{
			{OrgNr: "5560000001", Name: "Acme AB", Verdict: model.VerdictValid},
			{OrgNr: "5560000002", Name: "Beta AB", Verdict: model.VerdictInvalid,
				Reasons: []string{"missing company id", "no financial years"}},
		},
	}

	path := filepath.Join(t.TempDir(), "validation.xlsx")
	n, err := Validation(path, summary)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["Validation"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "invalid", sheet.Rows[2].Cells[2].String())
	assert.Equal(t, "missing company id; no financial years", sheet.Rows[2].Cells[3].String())

	totals, ok := f.Sheet["Summary"]
	require.True(t, ok)
	assert.Equal(t, "2", totals.Rows[0].Cells[1].String())

	_, err = Validation(filepath.Join(t.TempDir(), "x.xlsx"), nil)
	require.Error(t, err)
}

func TestRunExportEmptyRunFails(t *testing.T) {
	exp, pool := newTestExporter(t)

	pool.ExpectQuery("FROM ai_analysis_runs WHERE id").
		WithArgs("run-3").
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-3", "completed", "claude-haiku-4", "screening", "",
				time.Now().UTC(), (*time.Time)(nil), ""))
	pool.ExpectQuery("FROM ai_company_analysis").
		WithArgs("run-3").
		WillReturnRows(pgxmock.NewRows(analysisCols))
	pool.ExpectQuery("FROM ai_screening_results").
		WithArgs("run-3").
		WillReturnRows(pgxmock.NewRows([]string{"orgnr", "company_name", "screening_score", "risk_flag", "brief_summary"}))

	_, err := exp.Run(context.Background(), filepath.Join(t.TempDir(), "x.xlsx"), "run-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results")
}
