package registry

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// Wire types for the site's Next.js data payloads. The site nests the
// interesting rows at slightly different paths per page type, so each
// response struct mirrors only the path we read.

type segmentationResponse struct {
	PageProps struct {
		Companies []wireCompany `json:"companies"`
	} `json:"pageProps"`
}

type searchResponse struct {
	PageProps struct {
		HydrationData struct {
			SearchStore struct {
				Companies struct {
					Companies []wireCompany `json:"companies"`
				} `json:"companies"`
			} `json:"searchStore"`
		} `json:"hydrationData"`
		Companies []wireCompany `json:"companies"`
	} `json:"pageProps"`
}

type companyResponse struct {
	PageProps struct {
		Company struct {
			OrgNr         string             `json:"organisationNumber"`
			AnnualReports []wireAnnualReport `json:"annualReports"`
		} `json:"company"`
	} `json:"pageProps"`
}

type wireCompany struct {
	OrgNr          string   `json:"organisationNumber"`
	Name           string   `json:"companyName"`
	CompanyID      string   `json:"companyId"`
	Homepage       string   `json:"homePage"`
	Segments       []string `json:"segmentNames"`
	Revenue        *float64 `json:"revenue"`
	Profit         *float64 `json:"profit"`
	FoundationYear *int     `json:"foundationYear"`
}

func (w wireCompany) toStub() model.CompanyStub {
	return model.CompanyStub{
		OrgNr:          normalizeOrgNr(w.OrgNr),
		Name:           strings.TrimSpace(w.Name),
		CompanyIDHint:  w.CompanyID,
		Homepage:       w.Homepage,
		Segments:       w.Segments,
		RevenueSEK:     w.Revenue,
		ProfitSEK:      w.Profit,
		FoundationYear: w.FoundationYear,
	}
}

type wireAnnualReport struct {
	Year        int                 `json:"year"`
	Period      string              `json:"period"`
	Currency    string              `json:"currency"`
	LineItems   map[string]*float64 `json:"accounts"`
	PeriodStart string              `json:"periodStart"`
	PeriodEnd   string              `json:"periodEnd"`
}

// toFinancialYear lifts the well-known line-item codes into typed
// fields and keeps the full map for downstream consumers.
func (r wireAnnualReport) toFinancialYear(orgnr, companyID string) (model.FinancialYear, error) {
	if r.Year == 0 {
		return model.FinancialYear{}, eris.New("registry: annual report missing year")
	}
	period := r.Period
	if period == "" {
		period = "12"
	}
	y := model.FinancialYear{
		OrgNr:       orgnr,
		CompanyID:   companyID,
		Year:        r.Year,
		Period:      period,
		Currency:    r.Currency,
		RevenueSDI:  r.LineItems["sdi"],
		NetResultDR: r.LineItems["dr"],
		EBITDAORs:   r.LineItems["ors"],
		EquityEK:    r.LineItems["ek"],
		DebtSV:      r.LineItems["sv"],
		Raw:         r.LineItems,
	}
	if ant := r.LineItems["ant"]; ant != nil {
		n := int(*ant)
		y.Employees = &n
	}
	return y, nil
}

// normalizeOrgNr strips the dash from Swedish organisation numbers so
// 556016-0680 and 5560160680 compare equal everywhere.
func normalizeOrgNr(orgnr string) string {
	return strings.ReplaceAll(strings.TrimSpace(orgnr), "-", "")
}
