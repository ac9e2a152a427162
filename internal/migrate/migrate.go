// Package migrate moves validated staged companies into the production
// database. Each company and its financial years are written in one
// transaction; duplicates already in production are skipped, and one
// bad company never aborts the rest of the run.
package migrate

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/db"
	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/staging"
)

// Options controls which staged companies migrate.
type Options struct {
	// IncludeWarnings migrates companies with warning verdicts.
	IncludeWarnings bool
	// IncludeInvalid migrates even invalid companies. Off by default
	// and only meant for manual repair sessions.
	IncludeInvalid bool
	// SkipDuplicates leaves companies already in production untouched.
	// When false, existing rows are overwritten.
	SkipDuplicates bool
}

// DefaultOptions skips warnings and duplicates.
func DefaultOptions() Options {
	return Options{SkipDuplicates: true}
}

// Migrator copies staged rows into production.
type Migrator struct {
	staging *staging.Store
	pool    db.Pool
	log     *zap.Logger
}

// New creates a Migrator writing to the production pool.
func New(stagingStore *staging.Store, pool db.Pool, log *zap.Logger) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{staging: stagingStore, pool: pool, log: log}
}

// Run migrates one job's staged companies according to the latest
// validation verdicts. A validation run must have happened first.
func (m *Migrator) Run(ctx context.Context, jobID string, opts Options) (*model.MigrationResult, error) {
	summary, err := m.staging.ValidationSummary(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, eris.Errorf("migrate: job %s has not been validated", jobID)
	}

	verdicts := make(map[string]model.Verdict, len(summary.Verdicts))
	for _, v := range summary.Verdicts {
		verdicts[v.OrgNr] = v.Verdict
	}

	companies, err := m.staging.AllCompanies(ctx, jobID)
	if err != nil {
		return nil, err
	}

	result := &model.MigrationResult{}
	for _, c := range companies {
		if err := ctx.Err(); err != nil {
			return result, eris.Wrap(err, "migrate: canceled")
		}

		verdict, validated := verdicts[c.OrgNr]
		if !validated {
			// Scraped after the last validation run; never migrated on a
			// stale summary.
			result.Skipped++
			result.Report = append(result.Report, model.MigrationRowResult{
				OrgNr: c.OrgNr, Outcome: "skipped", Detail: "not validated",
			})
			continue
		}

		switch verdict {
		case model.VerdictInvalid:
			if !opts.IncludeInvalid {
				result.Skipped++
				result.Report = append(result.Report, model.MigrationRowResult{
					OrgNr: c.OrgNr, Outcome: "skipped", Detail: "invalid",
				})
				continue
			}
		case model.VerdictWarning:
			if !opts.IncludeWarnings {
				result.Skipped++
				result.Report = append(result.Report, model.MigrationRowResult{
					OrgNr: c.OrgNr, Outcome: "skipped", Detail: "warning",
				})
				continue
			}
		}

		years, err := m.staging.FinancialsFor(ctx, jobID, c.OrgNr)
		if err != nil {
			result.Errors++
			result.Report = append(result.Report, model.MigrationRowResult{
				OrgNr: c.OrgNr, Outcome: "error", Detail: err.Error(),
			})
			continue
		}

		outcome, err := m.migrateCompany(ctx, jobID, c, years, opts)
		if err != nil {
			m.log.Warn("company migration failed",
				zap.String("orgnr", c.OrgNr),
				zap.Error(err),
			)
			result.Errors++
			result.Report = append(result.Report, model.MigrationRowResult{
				OrgNr: c.OrgNr, Outcome: "error", Detail: err.Error(),
			})
			continue
		}

		switch outcome {
		case "migrated":
			result.Migrated++
		case "skipped":
			result.Skipped++
		}
		result.Report = append(result.Report, model.MigrationRowResult{
			OrgNr: c.OrgNr, Outcome: outcome,
		})
	}

	m.log.Info("migration complete",
		zap.String("job_id", jobID),
		zap.Int("migrated", result.Migrated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

// migrateCompany writes one company and its financial years atomically.
// With SkipDuplicates the company insert is ON CONFLICT DO NOTHING; a
// zero rows-affected count means production already has it and the
// whole company is reported skipped.
func (m *Migrator) migrateCompany(ctx context.Context, jobID string, c model.CompanyStub, years []model.FinancialYear, opts Options) (string, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "migrate: begin tx")
	}
	defer tx.Rollback(ctx)

	segment := ""
	if len(c.Segments) > 0 {
		segment = c.Segments[0]
	}

	insertSQL := `
		INSERT INTO companies
		        (orgnr, name, company_id, homepage, segment, foundation_year,
		         revenue_sek, net_result_sek, source_job_id, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (orgnr) DO NOTHING`
	if !opts.SkipDuplicates {
		insertSQL = `
		INSERT INTO companies
		        (orgnr, name, company_id, homepage, segment, foundation_year,
		         revenue_sek, net_result_sek, source_job_id, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (orgnr) DO UPDATE SET
		        name = EXCLUDED.name,
		        company_id = EXCLUDED.company_id,
		        homepage = EXCLUDED.homepage,
		        segment = EXCLUDED.segment,
		        foundation_year = EXCLUDED.foundation_year,
		        revenue_sek = EXCLUDED.revenue_sek,
		        net_result_sek = EXCLUDED.net_result_sek,
		        source_job_id = EXCLUDED.source_job_id,
		        scraped_at = EXCLUDED.scraped_at`
	}

	tag, err := tx.Exec(ctx, insertSQL,
		c.OrgNr, c.Name, c.CompanyID, c.Homepage, segment, c.FoundationYear,
		c.RevenueSEK, c.ProfitSEK, jobID, c.ScrapedAt)
	if err != nil {
		return "", eris.Wrapf(err, "migrate: insert company %s", c.OrgNr)
	}
	if opts.SkipDuplicates && tag.RowsAffected() == 0 {
		return "skipped", nil
	}

	if len(years) > 0 {
		rows := make([][]any, 0, len(years))
		for _, y := range years {
			raw, err := json.Marshal(y.Raw)
			if err != nil {
				return "", eris.Wrapf(err, "migrate: marshal raw metrics for %s/%d", y.OrgNr, y.Year)
			}
			rows = append(rows, []any{
				y.OrgNr, y.Year, y.Period, y.Currency,
				y.RevenueSDI, y.NetResultDR, y.EBITDAORs, y.EquityEK,
				y.DebtSV, y.Employees, raw, y.ScrapedAt,
			})
		}

		_, err = db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
			Table: "company_financials",
			Columns: []string{
				"orgnr", "year", "period", "currency",
				"sdi", "dr", "ors", "ek", "sv", "ant", "raw", "scraped_at",
			},
			ConflictKeys: []string{"orgnr", "year", "period"},
		}, rows, nil)
		if err != nil {
			return "", eris.Wrapf(err, "migrate: upsert financials for %s", c.OrgNr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "migrate: commit tx")
	}
	return "migrated", nil
}
