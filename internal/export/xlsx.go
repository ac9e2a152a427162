// Package export writes production companies and their latest analyses
// to spreadsheet files for downstream deal work.
package export

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/model"
)

// Exporter writes xlsx workbooks from the production store.
type Exporter struct {
	store *analytics.Store
	log   *zap.Logger
}

// New creates an Exporter.
func New(store *analytics.Store, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{store: store, log: log}
}

// Companies writes the company list with KPIs and, when present, each
// company's latest analysis verdict. Returns the number of data rows.
func (e *Exporter) Companies(ctx context.Context, path string, filter analytics.CompanyFilter) (int, error) {
	companies, err := e.store.ListCompanies(ctx, filter)
	if err != nil {
		return 0, err
	}
	analyses, err := e.store.LatestAnalyses(ctx, 0)
	if err != nil {
		return 0, err
	}
	byOrgNr := make(map[string]model.CompanyAnalysis, len(analyses))
	for _, a := range analyses {
		byOrgNr[a.OrgNr] = a
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Companies")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{
		"OrgNr", "Name", "Segment", "City", "Homepage", "Employees",
		"Revenue (SEK)", "Net result (SEK)", "Revenue growth (%)",
		"EBIT margin (%)", "Net profit margin (%)",
		"Recommendation", "Confidence", "Risk score",
		"Financial grade", "Commercial grade", "Operational grade",
	} {
		header.AddCell().SetString(col)
	}

	for _, c := range companies {
		row := sheet.AddRow()
		row.AddCell().SetString(c.OrgNr)
		row.AddCell().SetString(c.Name)
		row.AddCell().SetString(c.Segment)
		row.AddCell().SetString(c.City)
		row.AddCell().SetString(c.Homepage)
		setIntCell(row, c.Employees)
		setFloatCell(row, c.RevenueSEK, "0")
		setFloatCell(row, c.NetResultSEK, "0")
		setFloatCell(row, c.RevenueGrowth, "0.0")
		setFloatCell(row, c.EBITMargin, "0.0")
		setFloatCell(row, c.NetProfitMargin, "0.0")

		if a, ok := byOrgNr[c.OrgNr]; ok {
			row.AddCell().SetString(a.Recommendation)
			row.AddCell().SetInt(a.Confidence)
			row.AddCell().SetInt(a.RiskScore)
			row.AddCell().SetString(a.FinancialGrade)
			row.AddCell().SetString(a.CommercialGrade)
			row.AddCell().SetString(a.OperationalGrade)
		}
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}

	e.log.Info("exported companies",
		zap.String("path", path),
		zap.Int("rows", len(companies)),
	)
	return len(companies), nil
}

// Run writes one analysis run's outcome: deep analyses or screening
// scores depending on the run mode.
func (e *Exporter) Run(ctx context.Context, path, runID string) (int, error) {
	detail, err := e.store.GetRunDetail(ctx, runID)
	if err != nil {
		return 0, err
	}

	f := xlsx.NewFile()
	rows := 0

	if len(detail.Analyses) > 0 {
		sheet, err := f.AddSheet("Analyses")
		if err != nil {
			return 0, eris.Wrap(err, "export: add sheet")
		}
		header := sheet.AddRow()
		for _, col := range []string{
			"OrgNr", "Name", "Recommendation", "Confidence", "Risk score",
			"Financial grade", "Commercial grade", "Operational grade", "Summary",
		} {
			header.AddCell().SetString(col)
		}
		for _, a := range detail.Analyses {
			row := sheet.AddRow()
			row.AddCell().SetString(a.OrgNr)
			row.AddCell().SetString(a.CompanyName)
			row.AddCell().SetString(a.Recommendation)
			row.AddCell().SetInt(a.Confidence)
			row.AddCell().SetInt(a.RiskScore)
			row.AddCell().SetString(a.FinancialGrade)
			row.AddCell().SetString(a.CommercialGrade)
			row.AddCell().SetString(a.OperationalGrade)
			row.AddCell().SetString(a.Summary)
			rows++
		}
	}

	if len(detail.Screening) > 0 {
		sheet, err := f.AddSheet("Screening")
		if err != nil {
			return 0, eris.Wrap(err, "export: add sheet")
		}
		header := sheet.AddRow()
		for _, col := range []string{"OrgNr", "Name", "Score", "Risk flag", "Summary"} {
			header.AddCell().SetString(col)
		}
		for _, r := range detail.Screening {
			row := sheet.AddRow()
			row.AddCell().SetString(r.OrgNr)
			row.AddCell().SetString(r.CompanyName)
			row.AddCell().SetInt(r.ScreeningScore)
			row.AddCell().SetString(r.RiskFlag)
			row.AddCell().SetString(r.BriefSummary)
			rows++
		}
	}

	if rows == 0 {
		return 0, eris.Errorf("export: run %s has no results", runID)
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}
	return rows, nil
}

// Validation writes a staged job's validation report: one row per
// company with its verdict and reasons, plus a summary sheet.
func Validation(path string, summary *model.ValidationSummary) (int, error) {
	if summary == nil {
		return 0, eris.New("export: job has no validation summary")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Validation")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"OrgNr", "Name", "Verdict", "Reasons"} {
		header.AddCell().SetString(col)
	}
	for _, v := range summary.Verdicts {
		row := sheet.AddRow()
		row.AddCell().SetString(v.OrgNr)
		row.AddCell().SetString(v.Name)
		row.AddCell().SetString(string(v.Verdict))
		row.AddCell().SetString(strings.Join(v.Reasons, "; "))
	}

	totals, err := f.AddSheet("Summary")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}
	for _, line := range [][2]any{
		{"Total", summary.Total},
		{"Valid", summary.Valid},
		{"Warnings", summary.Warnings},
		{"Invalid", summary.Invalid},
	} {
		row := totals.AddRow()
		row.AddCell().SetString(line[0].(string))
		row.AddCell().SetInt(line[1].(int))
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}
	return len(summary.Verdicts), nil
}

func setIntCell(row *xlsx.Row, v *int) {
	cell := row.AddCell()
	if v != nil {
		cell.SetInt(*v)
	}
}

func setFloatCell(row *xlsx.Row, v *float64, format string) {
	cell := row.AddCell()
	if v != nil {
		cell.SetFloatWithFormat(*v, format)
	}
}
