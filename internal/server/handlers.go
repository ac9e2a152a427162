package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/analysis"
	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/migrate"
	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/internal/pipeline"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/segment/start
func (s *Server) handleSegmentStart(w http.ResponseWriter, r *http.Request) {
	var filter model.SegmentFilter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.runner.Start(r.Context(), filter)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidFilter):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pipeline.ErrDuplicateJob):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// The scrape runs detached from the request; progress is polled
	// through the status endpoint.
	go func() {
		if err := s.runner.Segment(s.baseCtx, job.ID); err != nil {
			s.log.Error("segmentation failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID})
}

// GET /api/segment/status?jobId=
func (s *Server) handleSegmentStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	job, err := s.staging.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	stats, err := s.staging.Stats(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"job":   job,
		"stats": stats,
	})
}

func (s *Server) handleSegmentPause(w http.ResponseWriter, r *http.Request) {
	s.jobStatusAction(w, r, func(jobID string) error {
		return s.runner.Pause(r.Context(), jobID)
	})
}

func (s *Server) handleSegmentResume(w http.ResponseWriter, r *http.Request) {
	s.jobStatusAction(w, r, func(jobID string) error {
		job, err := s.staging.GetJob(r.Context(), jobID)
		if err != nil {
			return err
		}
		go func() {
			var err error
			switch job.Stage {
			case model.StageEnrichment:
				_, err = s.runner.Enrich(s.baseCtx, jobID)
			case model.StageFinancials:
				_, err = s.runner.Financials(s.baseCtx, jobID)
			default:
				err = s.runner.Segment(s.baseCtx, jobID)
			}
			if err != nil {
				s.log.Error("resume failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}()
		return nil
	})
}

func (s *Server) handleSegmentStop(w http.ResponseWriter, r *http.Request) {
	s.jobStatusAction(w, r, func(jobID string) error {
		return s.runner.Stop(r.Context(), jobID)
	})
}

func (s *Server) jobStatusAction(w http.ResponseWriter, r *http.Request, fn func(jobID string) error) {
	var req struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	if err := fn(req.JobID); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"jobId": req.JobID})
}

// POST /api/enrich/company-ids?jobId=
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	s.stageAction(w, r, func(jobID string) {
		if _, err := s.runner.Enrich(s.baseCtx, jobID); err != nil {
			s.log.Error("enrichment failed", zap.String("job_id", jobID), zap.Error(err))
		}
	})
}

// POST /api/financial/fetch?jobId=
func (s *Server) handleFinancialFetch(w http.ResponseWriter, r *http.Request) {
	s.stageAction(w, r, func(jobID string) {
		if _, err := s.runner.Financials(s.baseCtx, jobID); err != nil {
			s.log.Error("financial fetch failed", zap.String("job_id", jobID), zap.Error(err))
		}
	})
}

func (s *Server) stageAction(w http.ResponseWriter, r *http.Request, run func(jobID string)) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		var req struct {
			JobID string `json:"jobId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			jobID = req.JobID
		}
	}
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	if _, err := s.staging.GetJob(r.Context(), jobID); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	go run(jobID)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// POST /api/staging/validate {jobId}
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	summary, err := s.validator.Run(r.Context(), req.JobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// POST /api/staging/migrate-from-local {jobId, includeWarnings, skipDuplicates}
func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID           string `json:"jobId"`
		IncludeWarnings bool   `json:"includeWarnings"`
		SkipDuplicates  *bool  `json:"skipDuplicates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	opts := migrate.DefaultOptions()
	opts.IncludeWarnings = req.IncludeWarnings
	if req.SkipDuplicates != nil {
		opts.SkipDuplicates = *req.SkipDuplicates
	}

	result, err := s.migrator.Run(r.Context(), req.JobID, opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// GET /api/sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.staging.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /api/sessions/{sessionId}
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "sessionId")
	job, err := s.staging.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	stats, err := s.staging.Stats(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := s.staging.ValidationSummary(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job":        job,
		"stats":      stats,
		"validation": summary,
	})
}

// GET /api/sessions/{sessionId}/companies
func (s *Server) handleSessionCompanies(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "sessionId")
	companies, err := s.staging.AllCompanies(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

// GET /api/companies
func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := analytics.CompanyFilter{
		Query: q.Get("q"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	companies, err := s.analytics.ListCompanies(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

// POST /api/ai-analysis
func (s *Server) handleAnalysisStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Companies    []string `json:"companies"`
		AnalysisType string   `json:"analysisType"`
		Instructions string   `json:"instructions"`
		InitiatedBy  string   `json:"initiatedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Companies) == 0 {
		s.writeError(w, http.StatusBadRequest, "companies is required")
		return
	}
	if s.analyzer == nil {
		s.writeError(w, http.StatusInternalServerError, "anthropic key not configured")
		return
	}

	mode := model.ModeDeep
	if req.AnalysisType == string(model.ModeScreening) {
		mode = model.ModeScreening
	}

	outcome, err := s.analyzer.Run(r.Context(), analysis.Request{
		OrgNrs:       req.Companies,
		Mode:         mode,
		Instructions: req.Instructions,
		InitiatedBy:  req.InitiatedBy,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

// GET /api/ai-analysis?runId= | ?history=&limit=
func (s *Server) handleAnalysisQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if runID := q.Get("runId"); runID != "" {
		detail, err := s.analytics.GetRunDetail(r.Context(), runID)
		if err != nil {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, detail)
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	history, err := s.analytics.RunHistory(r.Context(), s.clampHistoryLimit(limit))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": history})
}

// clampHistoryLimit caps requested run-history page sizes.
func (s *Server) clampHistoryLimit(limit int) int {
	if limit <= 0 {
		limit = 50
	}
	if s.historyLimitMax > 0 && limit > s.historyLimitMax {
		return s.historyLimitMax
	}
	return limit
}

// GET /api/analysis-runs
func (s *Server) handleAnalysisRuns(w http.ResponseWriter, r *http.Request) {
	history, err := s.analytics.RunHistory(r.Context(), s.clampHistoryLimit(50))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": history})
}

// GET /api/analysis-runs/{runId}
func (s *Server) handleAnalysisRunDetail(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	detail, err := s.analytics.GetRunDetail(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}
