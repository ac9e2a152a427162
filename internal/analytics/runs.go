package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/nivo-analytics/screener-cli/internal/model"
)

// CreateRun inserts a new analysis run in status running.
func (s *Store) CreateRun(ctx context.Context, mode model.AnalysisMode, modelVersion, initiatedBy string) (*model.AnalysisRun, error) {
	run := &model.AnalysisRun{
		ID:           uuid.New().String(),
		Status:       model.RunStatusRunning,
		ModelVersion: modelVersion,
		Mode:         mode,
		InitiatedBy:  initiatedBy,
		StartedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_analysis_runs (id, status, model_version, analysis_mode, initiated_by, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Status), run.ModelVersion, string(run.Mode), run.InitiatedBy, run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: insert analysis run")
	}
	return run, nil
}

// CompleteRun marks a run with its terminal status.
func (s *Store) CompleteRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ai_analysis_runs
		SET status = $1, completed_at = $2, error_message = $3
		WHERE id = $4`,
		string(status), time.Now().UTC(), errMsg, runID)
	return eris.Wrapf(err, "analytics: complete run %s", runID)
}

// SaveCompanyAnalysis persists a company's analysis together with its
// sections, metrics, and audit record in one transaction, so a partial
// write never leaves an analysis without its audit trail.
func (s *Store) SaveCompanyAnalysis(ctx context.Context, a *model.CompanyAnalysis, audit *model.AnalysisAudit) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	nextSteps, err := json.Marshal(a.NextSteps)
	if err != nil {
		return eris.Wrap(err, "analytics: marshal next steps")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "analytics: begin analysis tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO ai_company_analysis
		        (id, run_id, orgnr, company_name, summary, recommendation,
		         confidence_score, risk_score, financial_grade, commercial_grade,
		         operational_grade, next_steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.RunID, a.OrgNr, a.CompanyName, a.Summary, a.Recommendation,
		a.Confidence, a.RiskScore, a.FinancialGrade, a.CommercialGrade,
		a.OperationalGrade, nextSteps, a.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "analytics: insert analysis for %s", a.OrgNr)
	}

	for _, sec := range a.Sections {
		metrics, err := json.Marshal(sec.SupportingMetrics)
		if err != nil {
			return eris.Wrap(err, "analytics: marshal supporting metrics")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ai_analysis_sections (analysis_id, section_type, content_md, supporting_metrics)
			VALUES ($1, $2, $3, $4)`,
			a.ID, sec.SectionType, sec.ContentMD, metrics)
		if err != nil {
			return eris.Wrapf(err, "analytics: insert section %s", sec.SectionType)
		}
	}

	for _, m := range a.Metrics {
		_, err = tx.Exec(ctx, `
			INSERT INTO ai_analysis_metrics (analysis_id, metric_name, metric_value, metric_unit, year)
			VALUES ($1, $2, $3, $4, $5)`,
			a.ID, m.MetricName, m.MetricValue, m.MetricUnit, m.Year)
		if err != nil {
			return eris.Wrapf(err, "analytics: insert metric %s", m.MetricName)
		}
	}

	if audit != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO ai_analysis_audit
			        (analysis_id, prompt, raw_response, prompt_tokens,
			         completion_tokens, latency_ms, cost_usd)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, audit.Prompt, audit.RawResponse, audit.PromptTokens,
			audit.CompletionTokens, audit.LatencyMS, audit.CostUSD)
		if err != nil {
			return eris.Wrapf(err, "analytics: insert audit for %s", a.OrgNr)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "analytics: commit analysis tx")
}

// SaveScreeningResults persists a batch of screening-mode results.
func (s *Store) SaveScreeningResults(ctx context.Context, runID string, results []model.ScreeningResult) error {
	for _, r := range results {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ai_screening_results
			        (run_id, orgnr, company_name, screening_score, risk_flag, brief_summary)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (run_id, orgnr) DO UPDATE SET
			        screening_score = EXCLUDED.screening_score,
			        risk_flag = EXCLUDED.risk_flag,
			        brief_summary = EXCLUDED.brief_summary`,
			runID, r.OrgNr, r.CompanyName, r.ScreeningScore, r.RiskFlag, r.BriefSummary)
		if err != nil {
			return eris.Wrapf(err, "analytics: insert screening result for %s", r.OrgNr)
		}
	}
	return nil
}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	Run            model.AnalysisRun `json:"run"`
	CompaniesCount int               `json:"companiesCount"`
	TotalCostUSD   float64           `json:"totalCostUsd"`
}

// RunHistory lists recent runs with company counts and total cost,
// newest first.
func (s *Store) RunHistory(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.status, r.model_version, r.analysis_mode, r.initiated_by,
		       r.started_at, r.completed_at, r.error_message,
		       COUNT(DISTINCT a.id) + COUNT(DISTINCT sr.id),
		       COALESCE(SUM(au.cost_usd), 0)
		FROM ai_analysis_runs r
		LEFT JOIN ai_company_analysis a ON a.run_id = r.id
		LEFT JOIN ai_screening_results sr ON sr.run_id = r.id
		LEFT JOIN ai_analysis_audit au ON au.analysis_id = a.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: query run history")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var status, mode string
		if err := rows.Scan(&rs.Run.ID, &status, &rs.Run.ModelVersion, &mode,
			&rs.Run.InitiatedBy, &rs.Run.StartedAt, &rs.Run.CompletedAt,
			&rs.Run.ErrorMessage, &rs.CompaniesCount, &rs.TotalCostUSD); err != nil {
			return nil, eris.Wrap(err, "analytics: scan run summary")
		}
		rs.Run.Status = model.RunStatus(status)
		rs.Run.Mode = model.AnalysisMode(mode)
		out = append(out, rs)
	}
	return out, eris.Wrap(rows.Err(), "analytics: iterate run history")
}

// RunDetail is a run with its full per-company analyses.
type RunDetail struct {
	Run       model.AnalysisRun       `json:"run"`
	Analyses  []model.CompanyAnalysis `json:"analyses"`
	Screening []model.ScreeningResult `json:"screening,omitempty"`
}

// GetRunDetail loads a run with its analyses, sections, and metrics.
func (s *Store) GetRunDetail(ctx context.Context, runID string) (*RunDetail, error) {
	var detail RunDetail
	var status, mode string
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, model_version, analysis_mode, initiated_by,
		       started_at, completed_at, error_message
		FROM ai_analysis_runs WHERE id = $1`, runID).
		Scan(&detail.Run.ID, &status, &detail.Run.ModelVersion, &mode,
			&detail.Run.InitiatedBy, &detail.Run.StartedAt,
			&detail.Run.CompletedAt, &detail.Run.ErrorMessage)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("analytics: run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: get run %s", runID)
	}
	detail.Run.Status = model.RunStatus(status)
	detail.Run.Mode = model.AnalysisMode(mode)

	analyses, err := s.analysesForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	detail.Analyses = analyses

	screening, err := s.screeningForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	detail.Screening = screening

	return &detail, nil
}

func (s *Store) analysesForRun(ctx context.Context, runID string) ([]model.CompanyAnalysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, orgnr, company_name, summary, recommendation,
		       confidence_score, risk_score, financial_grade, commercial_grade,
		       operational_grade, next_steps, created_at
		FROM ai_company_analysis
		WHERE run_id = $1
		ORDER BY orgnr`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: query analyses for run %s", runID)
	}
	defer rows.Close()

	var out []model.CompanyAnalysis
	for rows.Next() {
		var a model.CompanyAnalysis
		var nextSteps []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.OrgNr, &a.CompanyName,
			&a.Summary, &a.Recommendation, &a.Confidence, &a.RiskScore,
			&a.FinancialGrade, &a.CommercialGrade, &a.OperationalGrade,
			&nextSteps, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "analytics: scan analysis")
		}
		if len(nextSteps) > 0 {
			if err := json.Unmarshal(nextSteps, &a.NextSteps); err != nil {
				return nil, eris.Wrap(err, "analytics: decode next steps")
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "analytics: iterate analyses")
	}

	for i := range out {
		if err := s.loadSectionsAndMetrics(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadSectionsAndMetrics(ctx context.Context, a *model.CompanyAnalysis) error {
	rows, err := s.pool.Query(ctx, `
		SELECT section_type, content_md, supporting_metrics
		FROM ai_analysis_sections WHERE analysis_id = $1 ORDER BY id`, a.ID)
	if err != nil {
		return eris.Wrapf(err, "analytics: query sections for %s", a.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var sec model.AnalysisSection
		var metrics []byte
		if err := rows.Scan(&sec.SectionType, &sec.ContentMD, &metrics); err != nil {
			return eris.Wrap(err, "analytics: scan section")
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &sec.SupportingMetrics); err != nil {
				return eris.Wrap(err, "analytics: decode supporting metrics")
			}
		}
		a.Sections = append(a.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "analytics: iterate sections")
	}

	mrows, err := s.pool.Query(ctx, `
		SELECT metric_name, metric_value, metric_unit, year
		FROM ai_analysis_metrics WHERE analysis_id = $1 ORDER BY id`, a.ID)
	if err != nil {
		return eris.Wrapf(err, "analytics: query metrics for %s", a.ID)
	}
	defer mrows.Close()
	for mrows.Next() {
		var m model.AnalysisMetric
		if err := mrows.Scan(&m.MetricName, &m.MetricValue, &m.MetricUnit, &m.Year); err != nil {
			return eris.Wrap(err, "analytics: scan metric")
		}
		a.Metrics = append(a.Metrics, m)
	}
	return eris.Wrap(mrows.Err(), "analytics: iterate metrics")
}

func (s *Store) screeningForRun(ctx context.Context, runID string) ([]model.ScreeningResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT orgnr, company_name, screening_score, risk_flag, brief_summary
		FROM ai_screening_results WHERE run_id = $1 ORDER BY screening_score DESC`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "analytics: query screening for run %s", runID)
	}
	defer rows.Close()

	var out []model.ScreeningResult
	for rows.Next() {
		var r model.ScreeningResult
		if err := rows.Scan(&r.OrgNr, &r.CompanyName, &r.ScreeningScore,
			&r.RiskFlag, &r.BriefSummary); err != nil {
			return nil, eris.Wrap(err, "analytics: scan screening result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "analytics: iterate screening results")
}

// LatestAnalyses returns the most recent analysis per company, used by
// exports and the companies view.
func (s *Store) LatestAnalyses(ctx context.Context, limit int) ([]model.CompanyAnalysis, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (orgnr)
		       id, run_id, orgnr, company_name, summary, recommendation,
		       confidence_score, risk_score, financial_grade, commercial_grade,
		       operational_grade, next_steps, created_at
		FROM ai_company_analysis
		ORDER BY orgnr, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analytics: query latest analyses")
	}
	defer rows.Close()

	var out []model.CompanyAnalysis
	for rows.Next() {
		var a model.CompanyAnalysis
		var nextSteps []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.OrgNr, &a.CompanyName,
			&a.Summary, &a.Recommendation, &a.Confidence, &a.RiskScore,
			&a.FinancialGrade, &a.CommercialGrade, &a.OperationalGrade,
			&nextSteps, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "analytics: scan latest analysis")
		}
		if len(nextSteps) > 0 {
			if err := json.Unmarshal(nextSteps, &a.NextSteps); err != nil {
				return nil, eris.Wrap(err, "analytics: decode next steps")
			}
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "analytics: iterate latest analyses")
}
