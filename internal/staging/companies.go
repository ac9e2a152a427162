package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// UpsertCompanies writes stage-1 stubs keyed by orgnr. Re-scraping the
// same page overwrites rather than duplicates, so resume is idempotent.
// Returns the number of rows written.
func (s *Store) UpsertCompanies(ctx context.Context, jobID string, stubs []model.CompanyStub) (int, error) {
	if len(stubs) == 0 {
		return 0, nil
	}
	db, err := s.open(jobID)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "staging: begin upsert tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO companies (orgnr, name, company_id_hint, homepage, segments,
		        revenue_sek, profit_sek, foundation_year, scraped_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(orgnr) DO UPDATE SET
		        name = excluded.name,
		        company_id_hint = excluded.company_id_hint,
		        homepage = excluded.homepage,
		        segments = excluded.segments,
		        revenue_sek = excluded.revenue_sek,
		        profit_sek = excluded.profit_sek,
		        foundation_year = excluded.foundation_year,
		        updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "staging: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	written := 0
	for _, c := range stubs {
		if c.OrgNr == "" {
			continue
		}
		segments, err := json.Marshal(c.Segments)
		if err != nil {
			return written, eris.Wrapf(err, "staging: marshal segments for %s", c.OrgNr)
		}
		scrapedAt := c.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.OrgNr, c.Name, c.CompanyIDHint,
			c.Homepage, string(segments), c.RevenueSEK, c.ProfitSEK,
			c.FoundationYear, scrapedAt, now); err != nil {
			return written, eris.Wrapf(err, "staging: upsert company %s", c.OrgNr)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, eris.Wrap(err, "staging: commit upsert tx")
	}
	return written, nil
}

// SetCompanyID records the registry-internal id resolved in stage 2.
func (s *Store) SetCompanyID(ctx context.Context, jobID, orgnr, companyID string) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE companies SET company_id = ?, updated_at = ? WHERE orgnr = ?`,
		companyID, time.Now().UTC(), orgnr)
	if err != nil {
		return eris.Wrapf(err, "staging: set company id for %s", orgnr)
	}
	return checkRowsAffected(res, "company", orgnr)
}

// SetFinStatus marks a company's stage-3 outcome.
func (s *Store) SetFinStatus(ctx context.Context, jobID, orgnr, status, errMsg string) error {
	db, err := s.open(jobID)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE companies SET fin_status = ?, fin_error = ?, updated_at = ? WHERE orgnr = ?`,
		status, errMsg, time.Now().UTC(), orgnr)
	if err != nil {
		return eris.Wrapf(err, "staging: set fin status for %s", orgnr)
	}
	return checkRowsAffected(res, "company", orgnr)
}

// CompaniesMissingID returns up to limit companies that stage 2 has not
// resolved yet. limit <= 0 means no limit.
func (s *Store) CompaniesMissingID(ctx context.Context, jobID string, limit int) ([]model.CompanyStub, error) {
	return s.queryCompanies(ctx, jobID,
		`SELECT orgnr, name, company_id, company_id_hint, homepage, segments,
		        revenue_sek, profit_sek, foundation_year, fin_status, scraped_at
		 FROM companies WHERE company_id = '' ORDER BY orgnr`, limit)
}

// CompaniesForFinancials returns up to limit resolved companies whose
// financials have not been fetched yet. limit <= 0 means no limit.
func (s *Store) CompaniesForFinancials(ctx context.Context, jobID string, limit int) ([]model.CompanyStub, error) {
	return s.queryCompanies(ctx, jobID,
		`SELECT orgnr, name, company_id, company_id_hint, homepage, segments,
		        revenue_sek, profit_sek, foundation_year, fin_status, scraped_at
		 FROM companies WHERE company_id != '' AND fin_status = 'pending' ORDER BY orgnr`, limit)
}

// AllCompanies returns every staged company for validation and migration.
func (s *Store) AllCompanies(ctx context.Context, jobID string) ([]model.CompanyStub, error) {
	return s.queryCompanies(ctx, jobID,
		`SELECT orgnr, name, company_id, company_id_hint, homepage, segments,
		        revenue_sek, profit_sek, foundation_year, fin_status, scraped_at
		 FROM companies ORDER BY orgnr`, 0)
}

func (s *Store) queryCompanies(ctx context.Context, jobID, query string, limit int) ([]model.CompanyStub, error) {
	db, err := s.open(jobID)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		query += " LIMIT ?"
	}
	var rows *sql.Rows
	if limit > 0 {
		rows, err = db.QueryContext(ctx, query, limit)
	} else {
		rows, err = db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, eris.Wrap(err, "staging: query companies")
	}
	defer rows.Close()

	var out []model.CompanyStub
	for rows.Next() {
		var c model.CompanyStub
		var segments, finStatus string
		if err := rows.Scan(&c.OrgNr, &c.Name, &c.CompanyID, &c.CompanyIDHint,
			&c.Homepage, &segments, &c.RevenueSEK, &c.ProfitSEK,
			&c.FoundationYear, &finStatus, &c.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "staging: scan company")
		}
		if err := json.Unmarshal([]byte(segments), &c.Segments); err != nil {
			return nil, eris.Wrapf(err, "staging: unmarshal segments for %s", c.OrgNr)
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "staging: iterate companies")
}

// AppendFinancials stores fetched financial years. The primary key on
// (orgnr, year, period) makes re-fetching idempotent; existing rows are
// left untouched. Returns the number of new rows.
func (s *Store) AppendFinancials(ctx context.Context, jobID string, years []model.FinancialYear) (int, error) {
	if len(years) == 0 {
		return 0, nil
	}
	db, err := s.open(jobID)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "staging: begin financials tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO financials
		        (orgnr, company_id, year, period, currency, sdi, dr, ors, ek, sv, ant, raw, scraped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "staging: prepare financials insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	inserted := 0
	for _, y := range years {
		raw, err := json.Marshal(y.Raw)
		if err != nil {
			return inserted, eris.Wrapf(err, "staging: marshal raw metrics for %s/%d", y.OrgNr, y.Year)
		}
		currency := y.Currency
		if currency == "" {
			currency = "SEK"
		}
		scrapedAt := y.ScrapedAt
		if scrapedAt.IsZero() {
			scrapedAt = now
		}
		res, err := stmt.ExecContext(ctx, y.OrgNr, y.CompanyID, y.Year, y.Period,
			currency, y.RevenueSDI, y.NetResultDR, y.EBITDAORs, y.EquityEK,
			y.DebtSV, y.Employees, string(raw), scrapedAt)
		if err != nil {
			return inserted, eris.Wrapf(err, "staging: insert financial %s/%d", y.OrgNr, y.Year)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, eris.Wrap(err, "staging: commit financials tx")
	}
	return inserted, nil
}

// FinancialsFor returns a company's staged years, newest first.
func (s *Store) FinancialsFor(ctx context.Context, jobID, orgnr string) ([]model.FinancialYear, error) {
	return s.queryFinancials(ctx, jobID,
		`SELECT orgnr, company_id, year, period, currency, sdi, dr, ors, ek, sv, ant, raw, scraped_at
		 FROM financials WHERE orgnr = ? ORDER BY year DESC`, orgnr)
}

// AllFinancials returns every staged financial year, grouped by orgnr
// in the result order.
func (s *Store) AllFinancials(ctx context.Context, jobID string) ([]model.FinancialYear, error) {
	return s.queryFinancials(ctx, jobID,
		`SELECT orgnr, company_id, year, period, currency, sdi, dr, ors, ek, sv, ant, raw, scraped_at
		 FROM financials ORDER BY orgnr, year DESC`)
}

func (s *Store) queryFinancials(ctx context.Context, jobID, query string, args ...any) ([]model.FinancialYear, error) {
	db, err := s.open(jobID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "staging: query financials")
	}
	defer rows.Close()

	var out []model.FinancialYear
	for rows.Next() {
		var y model.FinancialYear
		var raw string
		if err := rows.Scan(&y.OrgNr, &y.CompanyID, &y.Year, &y.Period, &y.Currency,
			&y.RevenueSDI, &y.NetResultDR, &y.EBITDAORs, &y.EquityEK, &y.DebtSV,
			&y.Employees, &raw, &y.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "staging: scan financial")
		}
		if err := json.Unmarshal([]byte(raw), &y.Raw); err != nil {
			return nil, eris.Wrapf(err, "staging: unmarshal raw metrics for %s/%d", y.OrgNr, y.Year)
		}
		out = append(out, y)
	}
	return out, eris.Wrap(rows.Err(), "staging: iterate financials")
}

// Stats counts the staged rows for a job.
func (s *Store) Stats(ctx context.Context, jobID string) (model.JobStats, error) {
	db, err := s.open(jobID)
	if err != nil {
		return model.JobStats{}, err
	}
	var stats model.JobStats
	err = db.QueryRowContext(ctx,
		`SELECT
		        (SELECT COUNT(*) FROM companies),
		        (SELECT COUNT(*) FROM companies WHERE company_id != ''),
		        (SELECT COUNT(*) FROM financials)`).
		Scan(&stats.Companies, &stats.CompanyIDs, &stats.Financials)
	if err != nil {
		return model.JobStats{}, eris.Wrapf(err, "staging: stats for job %s", jobID)
	}
	return stats, nil
}
