package model

import "time"

// RunStatus represents the terminal state of an AI analysis run.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
)

// AnalysisMode selects between quick screening and full deep analysis.
type AnalysisMode string

const (
	ModeScreening AnalysisMode = "screening"
	ModeDeep      AnalysisMode = "deep"
)

// AnalysisRun is one invocation of LLM analysis across a set of companies.
type AnalysisRun struct {
	ID           string       `json:"id"`
	Status       RunStatus    `json:"status"`
	ModelVersion string       `json:"modelVersion"`
	Mode         AnalysisMode `json:"analysisMode"`
	InitiatedBy  string       `json:"initiatedBy,omitempty"`
	StartedAt    time.Time    `json:"startedAt"`
	CompletedAt  *time.Time   `json:"completedAt,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// Recommendation values the model is constrained to.
const (
	RecommendationPursue   = "Pursue"
	RecommendationConsider = "Consider"
	RecommendationDecline  = "Decline"
)

// AnalysisSection is one narrative section of a company analysis.
type AnalysisSection struct {
	SectionType       string   `json:"section_type"`
	ContentMD         string   `json:"content_md"`
	SupportingMetrics []string `json:"supporting_metrics,omitempty"`
}

// AnalysisMetric is one structured metric extracted by the model.
type AnalysisMetric struct {
	MetricName  string   `json:"metric_name"`
	MetricValue float64  `json:"metric_value"`
	MetricUnit  string   `json:"metric_unit,omitempty"`
	Year        *int     `json:"year,omitempty"`
}

// CompanyAnalysis is the structured output for one company within a run.
type CompanyAnalysis struct {
	ID               string            `json:"id"`
	RunID            string            `json:"runId"`
	OrgNr            string            `json:"orgnr"`
	CompanyName      string            `json:"companyName"`
	Summary          string            `json:"summary"`
	Recommendation   string            `json:"recommendation"`
	Confidence       int               `json:"confidence"` // 0-100
	RiskScore        int               `json:"riskScore"`  // 0-100
	FinancialGrade   string            `json:"financialGrade"`
	CommercialGrade  string            `json:"commercialGrade"`
	OperationalGrade string            `json:"operationalGrade"`
	NextSteps        []string          `json:"nextSteps"`
	Sections         []AnalysisSection `json:"sections"`
	Metrics          []AnalysisMetric  `json:"metrics"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// AnalysisAudit records the raw exchange behind one company analysis.
type AnalysisAudit struct {
	AnalysisID       string  `json:"analysisId"`
	Prompt           string  `json:"prompt"`
	RawResponse      string  `json:"rawResponse"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	LatencyMS        int64   `json:"latencyMs"`
	CostUSD          float64 `json:"costUsd"`
}

// ScreeningResult is the lightweight screening-mode output for one company.
type ScreeningResult struct {
	OrgNr          string `json:"orgnr"`
	CompanyName    string `json:"companyName"`
	ScreeningScore int    `json:"screeningScore"` // 1-100
	RiskFlag       string `json:"riskFlag"`       // Low | Medium | High
	BriefSummary   string `json:"briefSummary"`
}
