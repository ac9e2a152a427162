package analytics

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// CompanyFilter narrows production company listings.
type CompanyFilter struct {
	Query      string
	MinRevenue *float64
	MaxRevenue *float64
	Limit      int
	Offset     int
}

// ListCompanies returns production companies matching the filter,
// ordered by revenue descending.
func (s *Store) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.Snapshot, error) {
	query := `
		SELECT orgnr, name, segment, city, homepage, employees,
		       revenue_sek, net_result_sek, foundation_year
		FROM companies
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR orgnr = $1)
		  AND ($2::float8 IS NULL OR revenue_sek >= $2)
		  AND ($3::float8 IS NULL OR revenue_sek <= $3)
		ORDER BY revenue_sek DESC NULLS LAST
		LIMIT $4 OFFSET $5`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, query, f.Query, f.MinRevenue, f.MaxRevenue, limit, f.Offset)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: list companies")
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var snap model.Snapshot
		if err := rows.Scan(&snap.OrgNr, &snap.Name, &snap.Segment, &snap.City,
			&snap.Homepage, &snap.Employees, &snap.RevenueSEK,
			&snap.NetResultSEK, &snap.FoundationYear); err != nil {
			return nil, eris.Wrap(err, "analytics: scan company")
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "analytics: iterate companies")
}

// Snapshot returns one company's latest KPIs, with growth and margins
// derived from the two most recent fiscal years.
func (s *Store) Snapshot(ctx context.Context, orgnr string) (*model.Snapshot, error) {
	var snap model.Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT orgnr, name, segment, city, homepage, employees,
		       revenue_sek, net_result_sek, foundation_year
		FROM companies WHERE orgnr = $1`, orgnr).
		Scan(&snap.OrgNr, &snap.Name, &snap.Segment, &snap.City,
			&snap.Homepage, &snap.Employees, &snap.RevenueSEK,
			&snap.NetResultSEK, &snap.FoundationYear)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("analytics: company not found: %s", orgnr)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: snapshot for %s", orgnr)
	}

	history, err := s.History(ctx, orgnr, 2)
	if err != nil {
		return nil, err
	}
	deriveKPIs(&snap, history)
	return &snap, nil
}

// History returns up to maxYears fiscal years for one company, newest
// first.
func (s *Store) History(ctx context.Context, orgnr string, maxYears int) ([]model.FinancialYear, error) {
	if maxYears <= 0 {
		maxYears = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT orgnr, year, period, currency, sdi, dr, ors, ek, sv, ant, raw
		FROM company_financials
		WHERE orgnr = $1
		ORDER BY year DESC
		LIMIT $2`, orgnr, maxYears)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: history for %s", orgnr)
	}
	defer rows.Close()

	var out []model.FinancialYear
	for rows.Next() {
		var y model.FinancialYear
		var raw []byte
		if err := rows.Scan(&y.OrgNr, &y.Year, &y.Period, &y.Currency,
			&y.RevenueSDI, &y.NetResultDR, &y.EBITDAORs, &y.EquityEK,
			&y.DebtSV, &y.Employees, &raw); err != nil {
			return nil, eris.Wrap(err, "analytics: scan financial year")
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &y.Raw); err != nil {
				return nil, eris.Wrapf(err, "analytics: decode raw metrics for %s/%d", orgnr, y.Year)
			}
		}
		out = append(out, y)
	}
	return out, eris.Wrap(rows.Err(), "analytics: iterate history")
}

// deriveKPIs fills growth and margin fields from the newest two years.
// Line items are stored in kSEK, revenue on the company row in SEK.
func deriveKPIs(snap *model.Snapshot, history []model.FinancialYear) {
	if len(history) == 0 {
		return
	}
	latest := history[0]

	if latest.RevenueSDI != nil && *latest.RevenueSDI != 0 {
		if latest.NetResultDR != nil {
			m := *latest.NetResultDR / *latest.RevenueSDI * 100
			snap.NetProfitMargin = &m
		}
		if latest.EBITDAORs != nil {
			m := *latest.EBITDAORs / *latest.RevenueSDI * 100
			snap.EBITMargin = &m
		}
	}
	if len(history) > 1 {
		prev := history[1]
		if latest.RevenueSDI != nil && prev.RevenueSDI != nil && *prev.RevenueSDI != 0 {
			g := (*latest.RevenueSDI - *prev.RevenueSDI) / *prev.RevenueSDI * 100
			snap.RevenueGrowth = &g
		}
	}
	if snap.Employees == nil && latest.Employees != nil {
		snap.Employees = latest.Employees
	}
}
