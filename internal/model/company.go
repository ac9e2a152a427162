package model

import "time"

// CompanyStub is a staged company produced by stage 1 segmentation.
// OrgNr is the unique key throughout the pipeline; CompanyID is attached
// by stage 2 and is required for financial lookups.
type CompanyStub struct {
	OrgNr          string    `json:"orgnr"`
	Name           string    `json:"name"`
	CompanyID      string    `json:"companyId,omitempty"`
	CompanyIDHint  string    `json:"companyIdHint,omitempty"`
	Homepage       string    `json:"homepage,omitempty"`
	Segments       []string  `json:"segments,omitempty"`
	RevenueSEK     *float64  `json:"revenueSek,omitempty"`
	ProfitSEK      *float64  `json:"profitSek,omitempty"`
	FoundationYear *int      `json:"foundationYear,omitempty"`
	ScrapedAt      time.Time `json:"scrapedAt"`
}

// FinancialYear is one fiscal year of statement line items for one
// company. Rows are append-only per company per job and ordered by year.
// Line-item codes follow the registry's naming: SDI net revenue, DR net
// result, ORS operating result, EK equity, SV total debt.
type FinancialYear struct {
	OrgNr       string              `json:"orgnr"`
	CompanyID   string              `json:"companyId"`
	Year        int                 `json:"year"`
	Period      string              `json:"period"`
	Currency    string              `json:"currency"`
	RevenueSDI  *float64            `json:"sdi,omitempty"`
	NetResultDR *float64            `json:"dr,omitempty"`
	EBITDAORs   *float64            `json:"ors,omitempty"`
	EquityEK    *float64            `json:"ek,omitempty"`
	DebtSV      *float64            `json:"sv,omitempty"`
	Employees   *int                `json:"ant,omitempty"`
	Raw         map[string]*float64 `json:"raw,omitempty"`
	ScrapedAt   time.Time           `json:"scrapedAt"`
}

// Snapshot is a production-side view of a company's latest KPIs, the
// input to AI analysis prompts.
type Snapshot struct {
	OrgNr           string   `json:"orgnr"`
	Name            string   `json:"name"`
	Segment         string   `json:"segment,omitempty"`
	City            string   `json:"city,omitempty"`
	Homepage        string   `json:"homepage,omitempty"`
	Employees       *int     `json:"employees,omitempty"`
	RevenueSEK      *float64 `json:"revenueSek,omitempty"`
	NetResultSEK    *float64 `json:"netResultSek,omitempty"`
	RevenueGrowth   *float64 `json:"revenueGrowth,omitempty"`
	EBITMargin      *float64 `json:"ebitMargin,omitempty"`
	NetProfitMargin *float64 `json:"netProfitMargin,omitempty"`
	FoundationYear  *int     `json:"foundationYear,omitempty"`
}
