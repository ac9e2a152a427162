// Package validate classifies staged companies before migration to the
// production database. Classification is pure: it reads staged rows and
// produces per-company verdicts plus a summary, it never mutates data.
package validate

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/staging"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rules are the data quality thresholds. The zero value is unusable;
// load DefaultRules or decode your own.
type Rules struct {
	RevenueMaxSEK       float64 `yaml:"revenue_max_sek"`
	MinFinancialYears   int     `yaml:"min_financial_years"`
	RequireCompanyID    bool    `yaml:"require_company_id"`
	WarnMissingHomepage bool    `yaml:"warn_missing_homepage"`
	WarnMissingSegment  bool    `yaml:"warn_missing_segment"`
	WarnNegativeRevenue bool    `yaml:"warn_negative_revenue"`
}

// DefaultRules decodes the embedded rule file.
func DefaultRules() (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(defaultRulesYAML, &r); err != nil {
		return Rules{}, eris.Wrap(err, "validate: decode embedded rules")
	}
	return r, nil
}

// Validator classifies one job's staged rows.
type Validator struct {
	store *staging.Store
	rules Rules
}

// New creates a Validator with the given rules.
func New(store *staging.Store, rules Rules) *Validator {
	return &Validator{store: store, rules: rules}
}

// Run classifies every staged company and persists the summary onto the
// job row. Invalid companies cannot be migrated; warnings can be,
// behind an explicit flag.
func (v *Validator) Run(ctx context.Context, jobID string) (*model.ValidationSummary, error) {
	companies, err := v.store.AllCompanies(ctx, jobID)
	if err != nil {
		return nil, err
	}
	financials, err := v.store.AllFinancials(ctx, jobID)
	if err != nil {
		return nil, err
	}

	yearsByOrgNr := make(map[string]int)
	for _, f := range financials {
		yearsByOrgNr[f.OrgNr]++
	}

	summary := &model.ValidationSummary{Total: len(companies)}
	for _, c := range companies {
		verdict := v.classify(c, yearsByOrgNr[c.OrgNr])
		summary.Verdicts = append(summary.Verdicts, verdict)
		switch verdict.Verdict {
		case model.VerdictValid:
			summary.Valid++
		case model.VerdictWarning:
			summary.Warnings++
		case model.VerdictInvalid:
			summary.Invalid++
		}
	}

	if err := v.store.SaveValidationSummary(ctx, jobID, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// classify applies the rules to one company. Any invalid reason makes
// the company invalid regardless of warnings.
func (v *Validator) classify(c model.CompanyStub, financialYears int) model.CompanyVerdict {
	verdict := model.CompanyVerdict{
		OrgNr:   c.OrgNr,
		Name:    c.Name,
		Verdict: model.VerdictValid,
	}

	if v.rules.RequireCompanyID && c.CompanyID == "" {
		verdict.Verdict = model.VerdictInvalid
		verdict.Reasons = append(verdict.Reasons, "missing company id")
	}
	if financialYears < v.rules.MinFinancialYears {
		verdict.Verdict = model.VerdictInvalid
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("only %d financial years, need %d", financialYears, v.rules.MinFinancialYears))
	}
	if verdict.Verdict == model.VerdictInvalid {
		return verdict
	}

	if v.rules.WarnNegativeRevenue && c.RevenueSEK != nil && *c.RevenueSEK < 0 {
		verdict.Verdict = model.VerdictWarning
		verdict.Reasons = append(verdict.Reasons, "negative revenue")
	}
	if v.rules.RevenueMaxSEK > 0 && c.RevenueSEK != nil && *c.RevenueSEK > v.rules.RevenueMaxSEK {
		verdict.Verdict = model.VerdictWarning
		verdict.Reasons = append(verdict.Reasons, "implausibly large revenue")
	}
	if v.rules.WarnMissingHomepage && c.Homepage == "" {
		verdict.Verdict = model.VerdictWarning
		verdict.Reasons = append(verdict.Reasons, "missing homepage")
	}
	if v.rules.WarnMissingSegment && len(c.Segments) == 0 {
		verdict.Verdict = model.VerdictWarning
		verdict.Reasons = append(verdict.Reasons, "missing segment")
	}

	return verdict
}
