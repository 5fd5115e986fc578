package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/chattabot/agent/internal/agent/graph/prompts"
	"github.com/chattabot/agent/internal/agent/graph/tools"
	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"
)

type nodeFunc = func(context.Context, *model.State, model.RunConfig) (model.Update, error)

type conditionFunc = func(context.Context, *model.State, model.RunConfig) (model.Event, error)

// NewClassifyCondition routes the entry of a plan-execute run. Questions unrelated to the business are
// answered right away; related ones are routed between request fulfilment and the help desk.
// Any classification failure falls back to answering right away.
func NewClassifyCondition(chains *Chains, catalogue *prompts.Catalogue) conditionFunc {
	route := NewRouteCondition(chains, catalogue)
	return func(ctx context.Context, state *model.State, cfg model.RunConfig) (model.Event, error) {
		out := chains.Classifier.Run(ctx, catalogue.Vars(map[string]any{
			"input":        state.Input,
			"chat_history": historyVar(state),
		}))
		if out.Value == nil {
			logx.Warn().Str("fallback", out.Fallback).Msg("Relevance classification failed - answering right away")
			return model.EventAnswerNow, nil
		}
		if !out.Value.Yes() {
			logx.Debug().Msg("Question is not business related - answering right away")
			return model.EventAnswerNow, nil
		}
		return route(ctx, state, cfg)
	}
}

// NewRouteCondition decides between fulfilling an item request and the help desk.
// Any routing failure falls back to the help desk.
func NewRouteCondition(chains *Chains, catalogue *prompts.Catalogue) conditionFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Event, error) {
		out := chains.Router.Run(ctx, catalogue.Vars(map[string]any{
			"input":        state.Input,
			"chat_history": historyVar(state),
		}))
		if out.Value == nil {
			logx.Warn().Str("fallback", out.Fallback).Msg("Request routing failed - going to help desk")
			return model.EventProcessQuery, nil
		}
		if out.Value.Yes() {
			return model.EventFulfillRequest, nil
		}
		return model.EventProcessQuery, nil
	}
}

func NewImmediateAnswerNode(chains *Chains, catalogue *prompts.Catalogue) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		out := chains.Answerer.Run(ctx, catalogue.Vars(map[string]any{
			"input":        state.Input,
			"chat_history": historyVar(state),
		}))
		return model.Update{Response: &out.Output, Error: out.Error}, nil
	}
}

func NewFulfillRequestNode() nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		// the request is only logged
		logx.Info().Str("input", state.Input).Msg("Item request received")
		return model.Update{Response: model.Ptr(model.PleaseWaitMessage)}, nil
	}
}

// NewProcessQueryNode rewrites the question into a self-contained one and starts a fresh plan history.
// On failure the original question is kept.
func NewProcessQueryNode(chains *Chains, catalogue *prompts.Catalogue) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		out := chains.QueryProcessor.Run(ctx, catalogue.Vars(map[string]any{
			"input":        state.Input,
			"chat_history": historyVar(state),
		}))
		upd := model.Update{ResetPastSteps: true, Error: out.Error}
		if out.Error == nil && strings.TrimSpace(out.Output) != "" {
			upd.Input = model.Ptr(strings.TrimSpace(out.Output))
		}
		return upd, nil
	}
}

// NewRetrieverNode stores the documents relevant to the input as one context string and clears any response.
func NewRetrieverNode(r retriever.Retriever) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		upd := model.Update{ClearResponse: true, RetrievedContext: model.Ptr("")}
		if r == nil {
			return upd, nil
		}
		docs, err := r.Retrieve(ctx, state.Input)
		if err != nil {
			if ctx.Err() != nil {
				return model.Update{}, err
			}
			logx.Error().Err(err).Str("input", state.Input).Msg("Document retrieval failed - continuing without context")
			upd.Error = model.Ptr(err.Error())
			return upd, nil
		}
		for _, d := range docs {
			logx.Debug().Str("doc_id", d.ID).Float64("score", d.Score()).Msg("Retrieved document")
		}
		upd.RetrievedContext = model.Ptr(tools.FormatDocuments(docs))
		return upd, nil
	}
}

// NewPlannerNode asks for a step plan. A reply that is not a plan becomes a one-step plan.
func NewPlannerNode(chains *Chains, catalogue *prompts.Catalogue) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		out := chains.Planner.Run(ctx, catalogue.Vars(map[string]any{
			"input":             state.Input,
			"retrieved_context": state.Context(),
			"chat_history":      historyVar(state),
		}))
		if out.Value != nil {
			logx.Debug().Strs("plan", out.Value.Steps).Msg("Plan created")
			return model.Update{Plan: out.Value.Steps, Error: out.Error}, nil
		}
		return model.Update{Plan: []string{out.Fallback}, Error: out.Error}, nil
	}
}

// NewAgentEntryNode seeds the agent's messages with the current plan step, or with the
// question alone when there is no plan.
func NewAgentEntryNode(catalogue *prompts.Catalogue) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		if len(state.Plan) > 0 {
			task, err := catalogue.Render(ctx, prompts.TaskFormat, map[string]any{
				"input": state.Input,
				"plan":  formatPlan(state.Plan),
				"step":  1,
				"task":  state.Plan[0],
			})
			if err != nil {
				return model.Update{}, err
			}
			logx.Debug().Str("task", state.Plan[0]).Msg("Agent execution")
			return model.Update{Messages: []*schema.Message{schema.UserMessage(task)}}, nil
		}

		// the agent prompt carries the persona and the chat history
		return model.Update{Messages: []*schema.Message{schema.UserMessage(state.Input)}}, nil
	}
}

// NewAgentNode runs one tool-calling turn over the accumulated messages. On the last allowed
// step a reply that still asks for tools is replaced so the run can finish.
func NewAgentNode(chains *Chains, catalogue *prompts.Catalogue, toolNames string) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		msgs, err := chains.AgentPrompt.Format(ctx, catalogue.Vars(map[string]any{
			"messages":          state.Messages,
			"chat_history":      state.ChatHistory,
			"retrieved_context": state.Context(),
			"tool_names":        toolNames,
		}))
		if err != nil {
			return model.Update{}, fmt.Errorf("render agent prompt: %w", err)
		}

		res := chains.Agent.Run(ctx, msgs)
		reply := res.Output
		upd := model.Update{}
		if res.Failed() {
			upd.Error = model.Ptr(res.ErrText)
		}
		if state.IsLastStep && len(reply.ToolCalls) > 0 {
			logx.Warn().Int("tool_calls", len(reply.ToolCalls)).Msg("Last step reached with pending tool calls")
			reply = schema.AssistantMessage(model.NeedMoreStepsMessage, nil)
		}
		normalizeToolCallIDs(reply, len(state.Messages))

		if len(reply.ToolCalls) > 0 {
			logx.Debug().Int("tool_count", len(reply.ToolCalls)).Msg("Calling tools")
		} else {
			logx.Debug().Msg("AI response ready")
		}
		upd.Messages = []*schema.Message{reply}
		return upd, nil
	}
}

// NewToolsNode executes the tool calls of the last message. A failed batch becomes one error
// tool message per call so the agent can continue.
func NewToolsNode(toolsNode *compose.ToolsNode) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		last := state.LastMessage()
		if last == nil || len(last.ToolCalls) == 0 {
			return model.Update{}, nil
		}
		out, err := toolsNode.Invoke(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return model.Update{}, err
			}
			logx.Error().Err(err).Int("tool_count", len(last.ToolCalls)).Msg("Tool execution failed")
			out = make([]*schema.Message, 0, len(last.ToolCalls))
			for _, tc := range last.ToolCalls {
				out = append(out, schema.ToolMessage(tools.ErrorResult("tool_failed", tc.Function.Name, err), tc.ID,
					schema.WithToolName(tc.Function.Name)))
			}
		}
		return model.Update{Messages: out}, nil
	}
}

// NewToolCondition calls tools while the last message asks for them.
func NewToolCondition() conditionFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Event, error) {
		if last := state.LastMessage(); last != nil && len(last.ToolCalls) > 0 {
			return model.EventCallTools, nil
		}
		return model.EventExit, nil
	}
}

// NewAgentExitNode records the agent's result against the current plan step, or as the response
// when there is no plan.
func NewAgentExitNode() nodeFunc {
	return func(ctx context.Context, state *model.State, cfg model.RunConfig) (model.Update, error) {
		result := ""
		if last := state.LastMessage(); last != nil {
			result = last.Content
		}
		if len(state.Plan) == 0 {
			return model.Update{Response: &result}, nil
		}
		if cfg.TrimIntermediateSteps {
			result = truncate(result, model.MaxStepResultChars)
		}
		return model.Update{PastSteps: []model.StepResult{{Step: state.Plan[0], Result: result}}}, nil
	}
}

// NewReplannerNode either finishes with a response or replaces the plan with the remaining steps.
// A reply that matches neither is returned to the user as is.
func NewReplannerNode(chains *Chains, catalogue *prompts.Catalogue) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		out := chains.Replanner.Run(ctx, catalogue.Vars(map[string]any{
			"input":             state.Input,
			"plan":              formatPlan(state.Plan),
			"past_steps":        formatPastSteps(state.PastSteps),
			"retrieved_context": state.Context(),
			"chat_history":      historyVar(state),
		}))
		switch {
		case out.Value != nil && out.Value.Response != nil:
			return model.Update{Response: &out.Value.Response.Response, Error: out.Error}, nil
		case out.Value != nil && out.Value.Plan != nil:
			logx.Debug().Strs("plan", out.Value.Plan.Steps).Msg("Plan updated")
			return model.Update{Plan: out.Value.Plan.Steps, Error: out.Error}, nil
		default:
			return model.Update{Response: &out.Fallback, Error: out.Error}, nil
		}
	}
}

// NewPlanExecutionCondition loops back to the agent until a response exists.
func NewPlanExecutionCondition() conditionFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Event, error) {
		if state.Response == nil {
			return model.EventContinue, nil
		}
		return model.EventExit, nil
	}
}

// NewClearMemoryNode drops the previous step's messages unless the run asks to keep them.
func NewClearMemoryNode() nodeFunc {
	return func(ctx context.Context, state *model.State, cfg model.RunConfig) (model.Update, error) {
		if cfg.ForgetShortMemory() {
			return model.Update{ForgetMessages: true}, nil
		}
		return model.Update{}, nil
	}
}

// NewSingleShotAnswerNode answers from the retrieved context in one model call.
func NewSingleShotAnswerNode(chains *Chains, catalogue *prompts.Catalogue) nodeFunc {
	return func(ctx context.Context, state *model.State, _ model.RunConfig) (model.Update, error) {
		out := chains.SingleShot.Run(ctx, catalogue.Vars(map[string]any{
			"input":             state.Input,
			"retrieved_context": state.Context(),
		}))
		return model.Update{Response: &out.Output, Error: out.Error}, nil
	}
}
