package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// PricingTable maps a model name prefix to its pricing.
type PricingTable map[string]Pricing

// DefaultPricing holds Gemini text pricing (standard tier).
var DefaultPricing = PricingTable{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"text-embedding-004":    {},
}

// Resolve returns the pricing of the longest matching prefix, or zero pricing.
func (t PricingTable) Resolve(model string) Pricing {
	if p, ok := t[model]; ok {
		return p
	}
	var best string
	for name := range t {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	return t[best]
}

// UsageCost is the USD cost of one model call.
type UsageCost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) UsageCost {
	if usage == nil {
		return UsageCost{}
	}
	c := UsageCost{
		Input:  p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0,
		Output: p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0,
	}
	c.Total = c.Input + c.Output
	return c
}
