package nodes

import (
	"fmt"

	"github.com/chattabot/agent/internal/agent/graph/prompts"
	"github.com/chattabot/agent/internal/agent/llm"
	"github.com/chattabot/agent/internal/agent/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Chains are the prompt+model pipelines the nodes and conditions call.
type Chains struct {
	Classifier     *llm.StructuredChain[model.ClassifyQuestion, *model.ClassifyQuestion]
	Router         *llm.StructuredChain[model.RouteQuestion, *model.RouteQuestion]
	Answerer       *llm.TextChain
	QueryProcessor *llm.TextChain
	Planner        *llm.StructuredChain[model.Plan, *model.Plan]
	Replanner      *llm.StructuredChain[model.Act, *model.Act]
	SingleShot     *llm.TextChain

	Agent       *llm.AgentChain
	AgentPrompt prompt.ChatTemplate
}

// NewChains wires each chain to its model role. agentPrompt is prompts.RAGAgent or prompts.ToolAgent.
func NewChains(callers *llm.Callers, catalogue *prompts.Catalogue, agentPrompt string, toolInfos []*schema.ToolInfo) (*Chains, error) {
	if callers == nil || callers.Agent == nil || callers.Evaluator == nil || callers.Planner == nil || callers.NodeAction == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if catalogue == nil {
		return nil, fmt.Errorf("prompt catalogue is nil")
	}

	templates := map[string]prompt.ChatTemplate{}
	for _, name := range []string{
		prompts.RelevanceClassifier, prompts.RequestRouter, prompts.ImmediateAnswerer, prompts.QueryProcessor,
		prompts.Planner, prompts.Replanner, prompts.SingleShot, agentPrompt,
	} {
		tpl, err := catalogue.Build(name)
		if err != nil {
			return nil, err
		}
		templates[name] = tpl
	}

	return &Chains{
		Classifier:     llm.BuildStructuredCaller[model.ClassifyQuestion](callers.Evaluator, templates[prompts.RelevanceClassifier], model.ClassifyQuestionTool()),
		Router:         llm.BuildStructuredCaller[model.RouteQuestion](callers.Evaluator, templates[prompts.RequestRouter], model.RouteQuestionTool()),
		Answerer:       llm.BuildTextCaller(callers.NodeAction, templates[prompts.ImmediateAnswerer]),
		QueryProcessor: llm.BuildTextCaller(callers.NodeAction, templates[prompts.QueryProcessor]),
		Planner:        llm.BuildStructuredCaller[model.Plan](callers.Planner, templates[prompts.Planner], model.PlanTool()),
		Replanner:      llm.BuildStructuredCaller[model.Act](callers.Planner, templates[prompts.Replanner], model.ActTool()),
		SingleShot:     llm.BuildTextCaller(callers.Agent, templates[prompts.SingleShot]),
		Agent:          llm.BuildAgentCaller(callers.Agent, toolInfos),
		AgentPrompt:    templates[agentPrompt],
	}, nil
}
