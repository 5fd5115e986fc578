// Package observers logs eino component lifecycle events.
package observers

import (
	"sync"

	"github.com/chattabot/agent/internal/agent/model"
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"
)

// NewAllCallbacks aggregates all observer handlers (prompt, model, tool) into one callbacks.Handler.
// usage may be nil.
func NewAllCallbacks(logger zerolog.Logger, pricing model.PricingTable, usage *UsageTracker) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler(logger)).
		ChatModel(newModelHandler(logger, pricing, usage)).
		Prompt(newPromptHandler(logger)).
		Handler()
}

// UsageTracker accumulates token usage and cost across model calls.
type UsageTracker struct {
	mu     sync.Mutex
	totals Usage
}

type Usage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

func (t *UsageTracker) add(prompt, completion int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totals.Calls++
	t.totals.PromptTokens += prompt
	t.totals.CompletionTokens += completion
	t.totals.CostUSD += cost
}

// Totals returns a copy of the running totals.
func (t *UsageTracker) Totals() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}
