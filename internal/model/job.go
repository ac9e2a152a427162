package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Stage identifies a phase of the scrape pipeline.
type Stage string

const (
	StageSegmentation Stage = "stage1_segmentation"
	StageEnrichment   Stage = "stage2_enrichment"
	StageFinancials   Stage = "stage3_financials"
	StageValidation   Stage = "validation"
	StageMigration    Stage = "migration"
)

// stageOrder defines the forward progression of the pipeline.
var stageOrder = []Stage{
	StageSegmentation,
	StageEnrichment,
	StageFinancials,
	StageValidation,
	StageMigration,
}

// Next returns the stage that follows s, or "" when s is terminal.
func (s Stage) Next() Stage {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return ""
}

// CanAdvanceTo reports whether moving from s to target is a legal
// single-step forward transition.
func (s Stage) CanAdvanceTo(target Stage) bool {
	return s.Next() == target
}

// ParseStage validates a stage string.
func ParseStage(raw string) (Stage, error) {
	for _, st := range stageOrder {
		if string(st) == raw {
			return st, nil
		}
	}
	return "", eris.Errorf("model: unknown stage %q", raw)
}

// JobStatus represents the run state of a scrape job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusPaused  JobStatus = "paused"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// jobTransitions is the closed transition table for JobStatus. A stage
// restart (done -> running) is legal because each stage reuses the job row.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusError},
	JobStatusRunning: {JobStatusPaused, JobStatusDone, JobStatusError},
	JobStatusPaused:  {JobStatusRunning, JobStatusError},
	JobStatusDone:    {JobStatusRunning},
	JobStatusError:   {JobStatusRunning},
}

// CanTransition reports whether moving from s to target is legal.
func (s JobStatus) CanTransition(target JobStatus) bool {
	for _, t := range jobTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends polling on the client side.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// ParseJobStatus validates a status string.
func ParseJobStatus(raw string) (JobStatus, error) {
	switch JobStatus(raw) {
	case JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusDone, JobStatusError:
		return JobStatus(raw), nil
	}
	return "", eris.Errorf("model: unknown job status %q", raw)
}

// SegmentFilter holds the segmentation parameters a job was started with.
// Values are in millions of SEK; the registry client converts to SEK.
type SegmentFilter struct {
	RevenueFrom float64 `json:"revenueFrom"`
	RevenueTo   float64 `json:"revenueTo"`
	ProfitFrom  float64 `json:"profitFrom"`
	ProfitTo    float64 `json:"profitTo"`
	CompanyType string  `json:"companyType"`
}

// Normalize applies defaults.
func (f SegmentFilter) Normalize() SegmentFilter {
	if f.CompanyType == "" {
		f.CompanyType = "AB"
	}
	return f
}

// ErrInvalidFilter marks segment filter validation failures so callers
// can map them to input errors rather than conflicts.
var ErrInvalidFilter = eris.New("model: invalid segment filter")

// Validate checks range sanity.
func (f SegmentFilter) Validate() error {
	if f.RevenueFrom < 0 || f.ProfitFrom < 0 {
		return eris.Wrap(ErrInvalidFilter, "filter ranges must be non-negative")
	}
	if f.RevenueTo < f.RevenueFrom {
		return eris.Wrap(ErrInvalidFilter, "revenueTo below revenueFrom")
	}
	if f.ProfitTo < f.ProfitFrom {
		return eris.Wrap(ErrInvalidFilter, "profitTo below profitFrom")
	}
	return nil
}

// Hash returns a stable fingerprint of the filter, used to detect an
// already-running job for the same segmentation.
func (f SegmentFilter) Hash() string {
	f = f.Normalize()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%.2f|%.2f|%.2f|%.2f|%s",
		f.RevenueFrom, f.RevenueTo, f.ProfitFrom, f.ProfitTo, f.CompanyType)))
	return hex.EncodeToString(sum[:16])
}

// Job is one execution of the scrape pipeline. It is created by stage 1
// and mutated by whichever stage currently owns it; it is never deleted.
type Job struct {
	ID              string        `json:"id"`
	Stage           Stage         `json:"stage"`
	Status          JobStatus     `json:"status"`
	LastPage        int           `json:"lastPage"`
	ProcessedCount  int           `json:"processedCount"`
	TotalCompanies  int           `json:"totalCompanies"`
	TotalCompanyIDs int           `json:"totalCompanyIds"`
	TotalFinancials int           `json:"totalFinancials"`
	ErrorCount      int           `json:"errorCount"`
	LastError       string        `json:"error,omitempty"`
	FilterHash      string        `json:"filterHash"`
	Filters         SegmentFilter `json:"filters"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// JobStats summarizes staged row counts for a job.
type JobStats struct {
	Companies  int `json:"companies"`
	CompanyIDs int `json:"companyIds"`
	Financials int `json:"financials"`
}
