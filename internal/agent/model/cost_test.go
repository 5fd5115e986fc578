package model

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestPricingResolve(t *testing.T) {
	assert.Equal(t, DefaultPricing["gemini-2.5-flash-lite"], DefaultPricing.Resolve("gemini-2.5-flash-lite-preview"))
	assert.Equal(t, DefaultPricing["gemini-2.5-flash"], DefaultPricing.Resolve("gemini-2.5-flash"))
	assert.Equal(t, Pricing{}, DefaultPricing.Resolve("unknown"))
}

func TestComputeCost(t *testing.T) {
	c := ComputeCost(&schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 500_000}, Pricing{InputPerM: 1, OutputPerM: 2})
	assert.InDelta(t, 1.0, c.Input, 1e-9)
	assert.InDelta(t, 1.0, c.Output, 1e-9)
	assert.InDelta(t, 2.0, c.Total, 1e-9)

	assert.Equal(t, UsageCost{}, ComputeCost(nil, Pricing{InputPerM: 1}))
}
