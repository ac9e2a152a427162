package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Staging   StagingConfig   `yaml:"staging" mapstructure:"staging"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the production Postgres backend.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StagingConfig configures the per-job SQLite staging stores.
type StagingConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// RegistryConfig configures the public company registry client.
type RegistryConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxPages         int     `yaml:"max_pages" mapstructure:"max_pages"`
	MaxEmptyPages    int     `yaml:"max_empty_pages" mapstructure:"max_empty_pages"`
	EnrichBatchSize  int     `yaml:"enrich_batch_size" mapstructure:"enrich_batch_size"`
	EnrichWorkers    int     `yaml:"enrich_workers" mapstructure:"enrich_workers"`
	FinancialBatch   int     `yaml:"financial_batch_size" mapstructure:"financial_batch_size"`
	FinancialWorkers int     `yaml:"financial_workers" mapstructure:"financial_workers"`
	MaxYears         int     `yaml:"max_years" mapstructure:"max_years"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	DeepModel string `yaml:"deep_model" mapstructure:"deep_model"`
	FastModel string `yaml:"fast_model" mapstructure:"fast_model"`
}

// AnalysisConfig configures AI analysis behavior.
type AnalysisConfig struct {
	MaxTokens       int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
	ScreeningBatch  int   `yaml:"screening_batch" mapstructure:"screening_batch"`
	HistoryYears    int   `yaml:"history_years" mapstructure:"history_years"`
	HistoryLimitMax int   `yaml:"history_limit_max" mapstructure:"history_limit_max"`
}

// PricingConfig holds per-1000-token LLM pricing in USD.
type PricingConfig struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" mapstructure:"completion_per_1k"`
}

// ScrapeConfig configures pipeline-wide scrape behavior.
type ScrapeConfig struct {
	PageRetries         int `yaml:"page_retries" mapstructure:"page_retries"`
	MaxConsecutiveFails int `yaml:"max_consecutive_fails" mapstructure:"max_consecutive_fails"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NIVO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	// Secrets have empty defaults so AutomaticEnv can fill them.
	v.SetDefault("database.url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("staging.dir", "staging")
	v.SetDefault("registry.base_url", "https://www.allabolag.se")
	v.SetDefault("registry.user_agent", "nivo-screener/1.0")
	v.SetDefault("registry.timeout_secs", 30)
	v.SetDefault("registry.requests_per_sec", 5)
	v.SetDefault("registry.max_retries", 3)
	v.SetDefault("registry.max_pages", 3000)
	v.SetDefault("registry.max_empty_pages", 3)
	v.SetDefault("registry.enrich_batch_size", 200)
	v.SetDefault("registry.enrich_workers", 5)
	v.SetDefault("registry.financial_batch_size", 50)
	v.SetDefault("registry.financial_workers", 3)
	v.SetDefault("registry.max_years", 5)
	v.SetDefault("scrape.page_retries", 3)
	v.SetDefault("scrape.max_consecutive_fails", 3)
	v.SetDefault("anthropic.deep_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fast_model", "claude-haiku-4-5-20251001")
	v.SetDefault("analysis.max_tokens", 1500)
	v.SetDefault("analysis.screening_batch", 5)
	v.SetDefault("analysis.history_years", 5)
	v.SetDefault("analysis.history_limit_max", 25)
	v.SetDefault("pricing.prompt_per_1k", 0.15)
	v.SetDefault("pricing.completion_per_1k", 0.60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that credentials required for the named surface are set.
// A missing credential fails the request that needs it, not the process.
func (c *Config) Validate(surface string) error {
	switch surface {
	case "analysis":
		if c.Anthropic.Key == "" {
			return eris.New("config: anthropic key not configured")
		}
		if c.Database.URL == "" {
			return eris.New("config: database url not configured")
		}
	case "production":
		if c.Database.URL == "" {
			return eris.New("config: database url not configured")
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
