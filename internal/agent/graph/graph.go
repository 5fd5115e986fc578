package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"

	"github.com/chattabot/agent/internal/agent/checkpoint"
	"github.com/chattabot/agent/internal/agent/graph/nodes"
	"github.com/chattabot/agent/internal/agent/graph/prompts"
	"github.com/chattabot/agent/internal/agent/graph/tools"
	"github.com/chattabot/agent/internal/agent/llm"
	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"
)

// Mode selects the topology the builder wires.
type Mode string

const (
	ModePlanExecute Mode = "plan_execute"
	ModeSingleShot  Mode = "single_shot"
	ModeAgentOnly   Mode = "agent_only"
)

// ParseMode accepts the configured mode name; empty means plan_execute.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModePlanExecute:
		return ModePlanExecute, nil
	case ModeSingleShot, ModeAgentOnly:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown agent mode %q", s)
	}
}

// Runner executes runs on a compiled graph.
type Runner interface {
	Invoke(ctx context.Context, in model.RunInput, cfg model.RunConfig) (*model.State, error)
	Resume(ctx context.Context, cfg model.RunConfig) (*model.State, error)
	History(ctx context.Context, cfg model.RunConfig, limit int) ([]HistoryEntry, error)
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Mode      Mode
	Callers   *llm.Callers
	Prompts   *prompts.Catalogue
	Retriever retriever.Retriever
	Tools     []tool.BaseTool
	Saver     checkpoint.Saver
}

// GraphBuilder handles the construction of the agent state machine
type GraphBuilder struct {
	config    *GraphConfig
	chains    *nodes.Chains
	toolsNode *compose.ToolsNode
	toolNames string
	workflow  *Workflow
}

type graphRunner struct {
	machine *Machine
}

func (r *graphRunner) Invoke(ctx context.Context, in model.RunInput, cfg model.RunConfig) (*model.State, error) {
	return r.machine.Run(ctx, in, cfg)
}

func (r *graphRunner) Resume(ctx context.Context, cfg model.RunConfig) (*model.State, error) {
	return r.machine.Resume(ctx, cfg)
}

func (r *graphRunner) History(ctx context.Context, cfg model.RunConfig, limit int) ([]HistoryEntry, error) {
	return r.machine.History(ctx, cfg, limit)
}

// BuildGraph validates config, wires the topology for config.Mode and returns a Runner over it.
func BuildGraph(ctx context.Context, config *GraphConfig) (Runner, error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Prompts == nil {
		return nil, fmt.Errorf("prompt catalogue is nil")
	}
	if config.Saver == nil {
		return nil, fmt.Errorf("checkpoint saver is nil")
	}
	mode, err := ParseMode(string(config.Mode))
	if err != nil {
		return nil, err
	}
	config.Mode = mode

	builder := &GraphBuilder{config: config, workflow: NewWorkflow()}

	if err := builder.setupTools(ctx); err != nil {
		return nil, err
	}

	agentPrompt := prompts.RAGAgent
	if mode == ModeAgentOnly {
		agentPrompt = prompts.ToolAgent
	}
	toolInfos, err := tools.GetToolInfos(ctx, config.Tools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return nil, fmt.Errorf("failed to get tool infos: %w", err)
	}
	builder.toolNames = tools.ToolNames(toolInfos)
	builder.chains, err = nodes.NewChains(config.Callers, config.Prompts, agentPrompt, toolInfos)
	if err != nil {
		return nil, err
	}

	builder.addNodes()
	builder.addEdges()
	builder.addBranches()

	g, err := builder.compile()
	if err != nil {
		return nil, err
	}
	var opts []MachineOption
	if mode == ModeAgentOnly {
		opts = append(opts, WithFreshMessages())
	}
	return &graphRunner{machine: NewMachine(g, config.Saver, opts...)}, nil
}

// setupTools creates the tools node executing the agent's tool calls one by one
func (b *GraphBuilder) setupTools(ctx context.Context) error {
	if b.config.Mode == ModeSingleShot {
		return nil
	}
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               b.config.Tools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning error result")
			return tools.ErrorResult("unknown_tool", name, nil), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			return tools.SanitizeArguments(name, arguments), nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return fmt.Errorf("failed to create tools node: %w", err)
	}
	b.toolsNode = toolsNode
	return nil
}

// addNodes adds the processing nodes of the selected topology
func (b *GraphBuilder) addNodes() {
	c, cat := b.chains, b.config.Prompts
	w := b.workflow

	switch b.config.Mode {
	case ModePlanExecute:
		w.AddNode(model.ImmediateAnswer, nodes.NewImmediateAnswerNode(c, cat))
		w.AddNode(model.FulfillRequest, nodes.NewFulfillRequestNode())
		w.AddNode(model.ProcessQuery, nodes.NewProcessQueryNode(c, cat))
		w.AddNode(model.Retrieve, nodes.NewRetrieverNode(b.config.Retriever))
		w.AddNode(model.Planner, nodes.NewPlannerNode(c, cat))
		w.AddNode(model.AgentEntry, nodes.NewAgentEntryNode(cat))
		w.AddNode(model.Agent, nodes.NewAgentNode(c, cat, b.toolNames))
		w.AddNode(model.Tools, nodes.NewToolsNode(b.toolsNode))
		w.AddNode(model.AgentExit, nodes.NewAgentExitNode())
		w.AddNode(model.Replanner, nodes.NewReplannerNode(c, cat))
		w.AddNode(model.ClearMemory, nodes.NewClearMemoryNode())
	case ModeSingleShot:
		w.AddNode(model.FulfillRequest, nodes.NewFulfillRequestNode())
		w.AddNode(model.ProcessQuery, nodes.NewProcessQueryNode(c, cat))
		w.AddNode(model.Retrieve, nodes.NewRetrieverNode(b.config.Retriever))
		w.AddNode(model.SingleShotAnswer, nodes.NewSingleShotAnswerNode(c, cat))
	case ModeAgentOnly:
		w.AddNode(model.AgentEntry, nodes.NewAgentEntryNode(cat))
		w.AddNode(model.Agent, nodes.NewAgentNode(c, cat, b.toolNames))
		w.AddNode(model.Tools, nodes.NewToolsNode(b.toolsNode))
		w.AddNode(model.AgentExit, nodes.NewAgentExitNode())
	}
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() {
	var edges [][2]model.Node
	switch b.config.Mode {
	case ModePlanExecute:
		edges = [][2]model.Node{
			{model.ImmediateAnswer, model.End},
			{model.FulfillRequest, model.End},
			{model.ProcessQuery, model.Retrieve},
			{model.Retrieve, model.Planner},
			{model.Planner, model.AgentEntry},
			{model.AgentEntry, model.Agent},
			{model.Tools, model.Agent},
			{model.AgentExit, model.Replanner},
			{model.ClearMemory, model.AgentEntry},
		}
	case ModeSingleShot:
		edges = [][2]model.Node{
			{model.FulfillRequest, model.End},
			{model.ProcessQuery, model.Retrieve},
			{model.Retrieve, model.SingleShotAnswer},
			{model.SingleShotAnswer, model.End},
		}
	case ModeAgentOnly:
		edges = [][2]model.Node{
			{model.Start, model.AgentEntry},
			{model.AgentEntry, model.Agent},
			{model.Tools, model.Agent},
			{model.AgentExit, model.End},
		}
	}

	for _, edge := range edges {
		b.workflow.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates conditional routing branches
func (b *GraphBuilder) addBranches() {
	c, cat := b.chains, b.config.Prompts
	w := b.workflow

	toolBranch := map[model.Event]model.Node{
		model.EventCallTools: model.Tools,
		model.EventExit:      model.AgentExit,
	}

	switch b.config.Mode {
	case ModePlanExecute:
		w.SetConditionalEntry(nodes.NewClassifyCondition(c, cat), map[model.Event]model.Node{
			model.EventAnswerNow:      model.ImmediateAnswer,
			model.EventFulfillRequest: model.FulfillRequest,
			model.EventProcessQuery:   model.ProcessQuery,
		})
		w.AddBranch(model.Agent, nodes.NewToolCondition(), toolBranch)
		w.AddBranch(model.Replanner, nodes.NewPlanExecutionCondition(), map[model.Event]model.Node{
			model.EventExit:     model.End,
			model.EventContinue: model.ClearMemory,
		})
	case ModeSingleShot:
		w.SetConditionalEntry(nodes.NewRouteCondition(c, cat), map[model.Event]model.Node{
			model.EventFulfillRequest: model.FulfillRequest,
			model.EventProcessQuery:   model.ProcessQuery,
		})
	case ModeAgentOnly:
		w.AddBranch(model.Agent, nodes.NewToolCondition(), toolBranch)
	}
}

// compile validates the transition table
func (b *GraphBuilder) compile() (*Graph, error) {
	g, err := b.workflow.Compile()
	if err != nil {
		logx.Error().Err(err).Str("mode", string(b.config.Mode)).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}
	logx.Debug().Str("mode", string(b.config.Mode)).Int("nodes", len(g.Nodes())).Msg("Graph compiled successfully")
	return g, nil
}
