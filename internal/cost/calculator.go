// Package cost computes LLM spend from token usage.
package cost

import "math"

// Rates holds per-1000-token pricing in USD.
type Rates struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" mapstructure:"completion_per_1k"`
}

// DefaultRates returns the pricing used when configuration is silent.
func DefaultRates() Rates {
	return Rates{
		PromptPer1K:     0.15,
		CompletionPer1K: 0.60,
	}
}

// Calculator computes analysis costs from token counts.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Zero rates
// fall back to the defaults.
func NewCalculator(rates Rates) *Calculator {
	if rates.PromptPer1K == 0 && rates.CompletionPer1K == 0 {
		rates = DefaultRates()
	}
	return &Calculator{rates: rates}
}

// Cost returns the USD cost for one API call, rounded to four decimals.
func (c *Calculator) Cost(promptTokens, completionTokens int) float64 {
	cost := float64(promptTokens)/1000*c.rates.PromptPer1K +
		float64(completionTokens)/1000*c.rates.CompletionPer1K
	return round4(cost)
}

// round4 rounds to four decimal places, the precision stored per call.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
