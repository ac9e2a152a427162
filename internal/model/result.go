package model

// ItemResult is the typed per-item outcome of a batch operation. It
// replaces joined error strings so callers can tell which items failed
// and why.
type ItemResult struct {
	OrgNr  string `json:"orgnr"`
	Ok     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// OkResult marks an item as processed.
func OkResult(orgnr string) ItemResult {
	return ItemResult{OrgNr: orgnr, Ok: true}
}

// ErrResult marks an item as failed with a reason.
func ErrResult(orgnr, reason string) ItemResult {
	return ItemResult{OrgNr: orgnr, Reason: reason}
}

// FailedItems filters a result list down to failures.
func FailedItems(results []ItemResult) []ItemResult {
	var failed []ItemResult
	for _, r := range results {
		if !r.Ok {
			failed = append(failed, r)
		}
	}
	return failed
}

// Verdict classifies one staged company after validation.
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictWarning Verdict = "warning"
	VerdictInvalid Verdict = "invalid"
)

// CompanyVerdict pairs a staged company with its verdict and reasons.
type CompanyVerdict struct {
	OrgNr   string   `json:"orgnr"`
	Name    string   `json:"name"`
	Verdict Verdict  `json:"verdict"`
	Reasons []string `json:"reasons,omitempty"`
}

// ValidationSummary is the report produced by one validation run.
type ValidationSummary struct {
	Total    int              `json:"total"`
	Valid    int              `json:"valid"`
	Warnings int              `json:"warnings"`
	Invalid  int              `json:"invalid"`
	Verdicts []CompanyVerdict `json:"verdicts,omitempty"`
}

// MigrationRowResult records the outcome for one staged company during
// migration.
type MigrationRowResult struct {
	OrgNr   string `json:"orgnr"`
	Outcome string `json:"outcome"` // migrated | skipped | error
	Detail  string `json:"detail,omitempty"`
}

// MigrationResult summarizes one migration run. Write-once per invocation.
type MigrationResult struct {
	Migrated int                  `json:"migrated"`
	Skipped  int                  `json:"skipped"`
	Errors   int                  `json:"errors"`
	Report   []MigrationRowResult `json:"report"`
}
