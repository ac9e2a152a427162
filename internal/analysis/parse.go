package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// SchemaError reports that the model's response could not be decoded
// into the expected JSON schema. It carries the raw response so the
// failure is diagnosable from the run report.
type SchemaError struct {
	Raw string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("analysis: response does not match schema: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// deepPayload mirrors the JSON contract of the deep analysis prompt.
type deepPayload struct {
	ExecutiveSummary string             `json:"executiveSummary"`
	KeyFindings      []string           `json:"keyFindings"`
	Narrative        string             `json:"narrative"`
	Strengths        []string           `json:"strengths"`
	Weaknesses       []string           `json:"weaknesses"`
	Opportunities    []string           `json:"opportunities"`
	Risks            []string           `json:"risks"`
	Recommendation   string             `json:"recommendation"`
	Confidence       int                `json:"confidence"`
	RiskScore        int                `json:"riskScore"`
	FinancialGrade   string             `json:"financialGrade"`
	CommercialGrade  string             `json:"commercialGrade"`
	OperationalGrade string             `json:"operationalGrade"`
	FinancialMetrics map[string]float64 `json:"financialMetrics"`
	NextSteps        []string           `json:"nextSteps"`
}

type screeningPayload struct {
	ScreeningScore int    `json:"screeningScore"`
	RiskFlag       string `json:"riskFlag"`
	BriefSummary   string `json:"briefSummary"`
}

// stripFences removes a surrounding markdown code fence, which models
// sometimes add despite instructions.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseDeep decodes a deep-analysis response. Missing optional fields
// get defined defaults; a response that is not JSON at all is a
// SchemaError, never a silently empty analysis.
func parseDeep(raw string) (*deepPayload, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, &SchemaError{Raw: raw, Err: fmt.Errorf("empty response")}
	}

	var p deepPayload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, &SchemaError{Raw: raw, Err: err}
	}

	switch p.Recommendation {
	case model.RecommendationPursue, model.RecommendationConsider, model.RecommendationDecline:
	default:
		p.Recommendation = model.RecommendationConsider
	}
	p.Confidence = clampScore(p.Confidence)
	p.RiskScore = clampScore(p.RiskScore)
	p.FinancialGrade = defaultGrade(p.FinancialGrade)
	p.CommercialGrade = defaultGrade(p.CommercialGrade)
	p.OperationalGrade = defaultGrade(p.OperationalGrade)

	return &p, nil
}

// parseScreening decodes a screening response with the fixed fallback
// values for out-of-range fields.
func parseScreening(raw string) (*screeningPayload, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, &SchemaError{Raw: raw, Err: fmt.Errorf("empty response")}
	}

	var p screeningPayload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, &SchemaError{Raw: raw, Err: err}
	}

	if p.ScreeningScore < 1 || p.ScreeningScore > 100 {
		p.ScreeningScore = 50
	}
	switch p.RiskFlag {
	case "Low", "Medium", "High":
	default:
		p.RiskFlag = "Medium"
	}
	if p.BriefSummary == "" {
		p.BriefSummary = "Ingen sammanfattning tillgänglig"
	}

	return &p, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

var validGrades = map[string]bool{"A": true, "B": true, "C": true, "D": true, "E": true, "F": true}

func defaultGrade(g string) string {
	g = strings.ToUpper(strings.TrimSpace(g))
	if !validGrades[g] {
		return "C"
	}
	return g
}
