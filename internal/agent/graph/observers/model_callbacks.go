package observers

import (
	"context"
	"strings"

	"github.com/chattabot/agent/internal/agent/model"
	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
	"github.com/rs/zerolog"
)

// newModelHandler logs model calls and their token usage cost.
func newModelHandler(logger zerolog.Logger, pricing model.PricingTable, usage *UsageTracker) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *einomodel.CallbackInput) context.Context {
			ev := logger.Debug().Str("model", info.Name).Str("type", info.Type)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).Int("tools", len(input.Tools))
				if um := lastUserContent(input.Messages); um != "" {
					ev = ev.Str("user", um)
				}
			}
			ev.Msg("model call start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *einomodel.CallbackOutput) context.Context {
			ev := logger.Debug().Str("model", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("assistant", strings.TrimSpace(output.Message.Content)).
					Int("tool_calls", len(output.Message.ToolCalls))
			}
			ev.Msg("model call end")

			if output == nil || output.TokenUsage == nil {
				return ctx
			}
			modelName := info.Name
			if output.Config != nil && output.Config.Model != "" {
				modelName = output.Config.Model
			}
			tu := output.TokenUsage
			cost := model.ComputeCost(&schema.TokenUsage{
				PromptTokens:     tu.PromptTokens,
				CompletionTokens: tu.CompletionTokens,
				TotalTokens:      tu.TotalTokens,
			}, pricing.Resolve(modelName))
			if usage != nil {
				usage.add(tu.PromptTokens, tu.CompletionTokens, cost.Total)
			}
			logger.Debug().
				Str("model", modelName).
				Int("prompt_tokens", tu.PromptTokens).
				Int("completion_tokens", tu.CompletionTokens).
				Int("total_tokens", tu.TotalTokens).
				Float64("input_cost_usd", cost.Input).
				Float64("output_cost_usd", cost.Output).
				Float64("total_cost_usd", cost.Total).
				Msg("LLM usage")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logger.Warn().Err(err).Str("model", info.Name).Msg("model call error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
