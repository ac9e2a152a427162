package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nivo-analytics/screener-cli/internal/analysis"
	"github.com/nivo-analytics/screener-cli/internal/analytics"
	"github.com/nivo-analytics/screener-cli/internal/cost"
	"github.com/nivo-analytics/screener-cli/internal/migrate"
	"github.com/nivo-analytics/screener-cli/internal/pipeline"
	"github.com/nivo-analytics/screener-cli/internal/registry"
	"github.com/nivo-analytics/screener-cli/internal/resilience"
	"github.com/nivo-analytics/screener-cli/internal/staging"
	"github.com/nivo-analytics/screener-cli/internal/validate"
	"github.com/nivo-analytics/screener-cli/pkg/anthropic"
)

// scrapeEnv holds the staging store and pipeline runner used by the
// scrape-side commands. These commands never touch Postgres.
type scrapeEnv struct {
	Staging *staging.Store
	Runner  *pipeline.Runner
}

func (e *scrapeEnv) Close() {
	if e.Staging != nil {
		_ = e.Staging.Close()
	}
}

func initScrape() (*scrapeEnv, error) {
	st, err := staging.NewStore(cfg.Staging.Dir)
	if err != nil {
		return nil, err
	}

	client := registry.NewHTTPClient(registry.Options{
		BaseURL:           cfg.Registry.BaseURL,
		UserAgent:         cfg.Registry.UserAgent,
		Timeout:           time.Duration(cfg.Registry.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Registry.RequestsPerSec,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Registry.MaxRetries,
		},
		Logger: zap.L(),
	})

	runner := pipeline.NewRunner(st, client, cfg.Registry, cfg.Scrape, zap.L())
	return &scrapeEnv{Staging: st, Runner: runner}, nil
}

// prodEnv adds the production store and everything built on it.
type prodEnv struct {
	*scrapeEnv
	Analytics *analytics.Store
	Validator *validate.Validator
	Migrator  *migrate.Migrator
	Analyzer  *analysis.Analyzer
}

func (e *prodEnv) Close() {
	if e.Analytics != nil {
		e.Analytics.Close()
	}
	e.scrapeEnv.Close()
}

// initProd wires the full environment including Postgres. The analyzer
// is only built when the Anthropic key is configured; commands that
// need it validate the "analysis" surface first.
func initProd(ctx context.Context) (*prodEnv, error) {
	if err := cfg.Validate("production"); err != nil {
		return nil, err
	}

	se, err := initScrape()
	if err != nil {
		return nil, err
	}

	store, err := analytics.NewStore(ctx, cfg.Database, zap.L())
	if err != nil {
		se.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		se.Close()
		return nil, err
	}

	rules, err := validate.DefaultRules()
	if err != nil {
		store.Close()
		se.Close()
		return nil, err
	}

	env := &prodEnv{
		scrapeEnv: se,
		Analytics: store,
		Validator: validate.New(se.Staging, rules),
		Migrator:  migrate.New(se.Staging, store.Pool(), zap.L()),
	}

	if cfg.Anthropic.Key != "" {
		llm := anthropic.NewClient(cfg.Anthropic.Key)
		calc := cost.NewCalculator(cost.Rates{
			PromptPer1K:     cfg.Pricing.PromptPer1K,
			CompletionPer1K: cfg.Pricing.CompletionPer1K,
		})
		env.Analyzer = analysis.New(store, llm, calc, cfg.Anthropic, cfg.Analysis, zap.L())
	}

	return env, nil
}
