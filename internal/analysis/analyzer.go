// Package analysis orchestrates LLM-based acquisition analysis of
// production companies: deep per-company analyses and quick screening
// batches, with cost accounting and a full audit trail.
package analysis

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/config"
	"github.com/nivo-analytics/screener-cli/internal/cost"
	"github.com/nivo-analytics/screener-cli/internal/model"
	"github.com/nivo-analytics/screener-cli/pkg/anthropic"
)

// Analyzer runs analysis requests against the production store.
type Analyzer struct {
	store *analytics.Store
	llm   anthropic.Client
	calc  *cost.Calculator
	anth  config.AnthropicConfig
	cfg   config.AnalysisConfig
	log   *zap.Logger
}

// New wires an Analyzer.
func New(store *analytics.Store, llm anthropic.Client, calc *cost.Calculator, anth config.AnthropicConfig, cfg config.AnalysisConfig, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{store: store, llm: llm, calc: calc, anth: anth, cfg: cfg, log: log}
}

// Request selects companies for one analysis run.
type Request struct {
	OrgNrs       []string
	Mode         model.AnalysisMode
	Instructions string
	InitiatedBy  string
}

// Outcome is the result of one completed run.
type Outcome struct {
	Run          model.AnalysisRun       `json:"run"`
	Results      []model.ItemResult      `json:"results"`
	Analyses     []model.CompanyAnalysis `json:"analyses,omitempty"`
	Screening    []model.ScreeningResult `json:"screening,omitempty"`
	TotalCostUSD float64                 `json:"totalCostUsd"`
}

// Run executes one analysis run. Selections are deduplicated by orgnr;
// a failing company is recorded in its ItemResult and gets no analysis
// row, it never aborts the run.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Outcome, error) {
	orgnrs := dedup(req.OrgNrs)
	if len(orgnrs) == 0 {
		return nil, eris.New("analysis: no companies selected")
	}

	mode := req.Mode
	if mode == "" {
		mode = model.ModeDeep
	}
	modelVersion := a.modelFor(mode)

	run, err := a.store.CreateRun(ctx, mode, modelVersion, req.InitiatedBy)
	if err != nil {
		return nil, err
	}

	a.log.Info("analysis run started",
		zap.String("run_id", run.ID),
		zap.String("mode", string(mode)),
		zap.String("model", modelVersion),
		zap.Int("companies", len(orgnrs)),
	)

	outcome := &Outcome{Run: *run}
	switch mode {
	case model.ModeScreening:
		err = a.runScreening(ctx, run.ID, orgnrs, req.Instructions, outcome)
	default:
		err = a.runDeep(ctx, run.ID, orgnrs, req.Instructions, outcome)
	}
	if err != nil {
		if cerr := a.store.CompleteRun(ctx, run.ID, model.RunStatusCompletedWithErrors, err.Error()); cerr != nil {
			a.log.Warn("complete run after failure", zap.Error(cerr))
		}
		return outcome, err
	}

	status := model.RunStatusCompleted
	errMsg := ""
	if failed := model.FailedItems(outcome.Results); len(failed) > 0 {
		status = model.RunStatusCompletedWithErrors
		errMsg = failedSummary(failed)
	}
	if err := a.store.CompleteRun(ctx, run.ID, status, errMsg); err != nil {
		return outcome, err
	}
	outcome.Run.Status = status

	a.log.Info("analysis run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Float64("cost_usd", outcome.TotalCostUSD),
	)
	return outcome, nil
}

func (a *Analyzer) modelFor(mode model.AnalysisMode) string {
	if mode == model.ModeScreening {
		return a.anth.FastModel
	}
	return a.anth.DeepModel
}

func (a *Analyzer) runDeep(ctx context.Context, runID string, orgnrs []string, instructions string, outcome *Outcome) error {
	for _, orgnr := range orgnrs {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "analysis: canceled")
		}

		analysis, costUSD, err := a.analyzeOne(ctx, runID, orgnr, instructions)
		if err != nil {
			a.log.Warn("company analysis failed",
				zap.String("run_id", runID),
				zap.String("orgnr", orgnr),
				zap.Error(err),
			)
			outcome.Results = append(outcome.Results, model.ErrResult(orgnr, err.Error()))
			continue
		}
		outcome.Analyses = append(outcome.Analyses, *analysis)
		outcome.Results = append(outcome.Results, model.OkResult(orgnr))
		outcome.TotalCostUSD += costUSD
	}
	return nil
}

// analyzeOne produces and persists one deep company analysis.
func (a *Analyzer) analyzeOne(ctx context.Context, runID, orgnr, instructions string) (*model.CompanyAnalysis, float64, error) {
	snap, err := a.store.Snapshot(ctx, orgnr)
	if err != nil {
		return nil, 0, err
	}
	history, err := a.store.History(ctx, orgnr, a.historyYears())
	if err != nil {
		return nil, 0, err
	}

	prompt := buildDeepPrompt(snap, history, instructions)
	temp := 0.2
	started := time.Now()

	resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.anth.DeepModel,
		MaxTokens:   a.maxTokens(),
		System:      systemPromptDeep,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, 0, err
	}
	latency := time.Since(started)

	raw := resp.Text()
	payload, err := parseDeep(raw)
	if err != nil {
		return nil, 0, err
	}

	costUSD := a.calc.Cost(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	analysis := toCompanyAnalysis(runID, snap, payload)
	audit := &model.AnalysisAudit{
		Prompt:           prompt,
		RawResponse:      raw,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		LatencyMS:        latency.Milliseconds(),
		CostUSD:          costUSD,
	}

	if err := a.store.SaveCompanyAnalysis(ctx, analysis, audit); err != nil {
		return nil, 0, err
	}
	return analysis, costUSD, nil
}

func (a *Analyzer) runScreening(ctx context.Context, runID string, orgnrs []string, instructions string, outcome *Outcome) error {
	batchSize := a.cfg.ScreeningBatch
	if batchSize <= 0 {
		batchSize = 5
	}

	for start := 0; start < len(orgnrs); start += batchSize {
		end := min(start+batchSize, len(orgnrs))

		var batch []model.ScreeningResult
		for _, orgnr := range orgnrs[start:end] {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "analysis: canceled")
			}

			result, costUSD, err := a.screenOne(ctx, orgnr, instructions)
			if err != nil {
				a.log.Warn("company screening failed",
					zap.String("run_id", runID),
					zap.String("orgnr", orgnr),
					zap.Error(err),
				)
				outcome.Results = append(outcome.Results, model.ErrResult(orgnr, err.Error()))
				continue
			}
			batch = append(batch, *result)
			outcome.Results = append(outcome.Results, model.OkResult(orgnr))
			outcome.TotalCostUSD += costUSD
		}

		if len(batch) > 0 {
			if err := a.store.SaveScreeningResults(ctx, runID, batch); err != nil {
				return err
			}
			outcome.Screening = append(outcome.Screening, batch...)
		}
	}
	return nil
}

func (a *Analyzer) screenOne(ctx context.Context, orgnr, instructions string) (*model.ScreeningResult, float64, error) {
	snap, err := a.store.Snapshot(ctx, orgnr)
	if err != nil {
		return nil, 0, err
	}
	history, err := a.store.History(ctx, orgnr, a.historyYears())
	if err != nil {
		return nil, 0, err
	}

	prompt := buildScreeningPrompt(snap, history, instructions)
	temp := 0.1

	resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.anth.FastModel,
		MaxTokens:   200,
		System:      systemPromptScreening,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, 0, err
	}

	payload, err := parseScreening(resp.Text())
	if err != nil {
		return nil, 0, err
	}

	costUSD := a.calc.Cost(int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	return &model.ScreeningResult{
		OrgNr:          orgnr,
		CompanyName:    snap.Name,
		ScreeningScore: payload.ScreeningScore,
		RiskFlag:       payload.RiskFlag,
		BriefSummary:   payload.BriefSummary,
	}, costUSD, nil
}

func (a *Analyzer) historyYears() int {
	if a.cfg.HistoryYears > 0 {
		return a.cfg.HistoryYears
	}
	return 5
}

func (a *Analyzer) maxTokens() int64 {
	if a.cfg.MaxTokens > 0 {
		return a.cfg.MaxTokens
	}
	return 1500
}

// toCompanyAnalysis maps a parsed payload onto the persisted shape,
// lifting the narrative fields into typed sections.
func toCompanyAnalysis(runID string, snap *model.Snapshot, p *deepPayload) *model.CompanyAnalysis {
	analysis := &model.CompanyAnalysis{
		RunID:            runID,
		OrgNr:            snap.OrgNr,
		CompanyName:      snap.Name,
		Summary:          p.ExecutiveSummary,
		Recommendation:   p.Recommendation,
		Confidence:       p.Confidence,
		RiskScore:        p.RiskScore,
		FinancialGrade:   p.FinancialGrade,
		CommercialGrade:  p.CommercialGrade,
		OperationalGrade: p.OperationalGrade,
		NextSteps:        p.NextSteps,
	}

	addSection := func(sectionType, content string, metrics []string) {
		if content == "" {
			return
		}
		analysis.Sections = append(analysis.Sections, model.AnalysisSection{
			SectionType:       sectionType,
			ContentMD:         content,
			SupportingMetrics: metrics,
		})
	}

	addSection("executive_summary", p.ExecutiveSummary, nil)
	addSection("key_findings", bulletList(p.KeyFindings), nil)
	addSection("narrative", p.Narrative, nil)
	addSection("strengths", bulletList(p.Strengths), nil)
	addSection("weaknesses", bulletList(p.Weaknesses), nil)
	addSection("opportunities", bulletList(p.Opportunities), nil)
	addSection("risks", bulletList(p.Risks), nil)

	names := make([]string, 0, len(p.FinancialMetrics))
	for name := range p.FinancialMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		analysis.Metrics = append(analysis.Metrics, model.AnalysisMetric{
			MetricName:  name,
			MetricValue: p.FinancialMetrics[name],
			MetricUnit:  "TSEK",
		})
	}

	return analysis
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return b.String()
}

func dedup(orgnrs []string) []string {
	seen := make(map[string]bool, len(orgnrs))
	var out []string
	for _, o := range orgnrs {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	return out
}

func failedSummary(failed []model.ItemResult) string {
	var parts []string
	for _, f := range failed {
		parts = append(parts, f.OrgNr)
	}
	return "failed companies: " + strings.Join(parts, ", ")
}
