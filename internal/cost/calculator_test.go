package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostDefaultRates(t *testing.T) {
	c := NewCalculator(Rates{})

	assert.InDelta(t, 0.7500, c.Cost(1000, 1000), 1e-9)
	assert.InDelta(t, 0.0, c.Cost(0, 0), 1e-9)
	assert.InDelta(t, 0.15, c.Cost(1000, 0), 1e-9)
	assert.InDelta(t, 0.60, c.Cost(0, 1000), 1e-9)
}

func TestCostCustomRates(t *testing.T) {
	c := NewCalculator(Rates{PromptPer1K: 1, CompletionPer1K: 2})
	assert.InDelta(t, 1.5, c.Cost(500, 500), 1e-9)
}

func TestCostRounding(t *testing.T) {
	c := NewCalculator(Rates{})
	// 333 prompt tokens: 0.333 * 0.15 = 0.04995, rounds to 4 decimals.
	assert.InDelta(t, 0.05, c.Cost(333, 0), 1e-9)
	assert.InDelta(t, 0.0003, c.Cost(2, 0), 1e-9)
}
