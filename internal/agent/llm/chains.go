package llm

import (
	"context"
	"fmt"

	"github.com/chattabot/agent/internal/agent/graph/parsers"
	"github.com/chattabot/agent/internal/agent/model"
	errx "github.com/chattabot/agent/internal/core/error"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// TextOutput is a plain reply. Error is set when the call failed and Output holds a canned reply.
type TextOutput struct {
	Output  string
	Message *schema.Message
	Error   *string
	Kind    errx.Kind
}

// TextChain renders a template and asks for a free-text reply.
type TextChain struct {
	caller   *Caller
	template prompt.ChatTemplate
}

func BuildTextCaller(caller *Caller, template prompt.ChatTemplate) *TextChain {
	return &TextChain{caller: caller, template: template}
}

func (c *TextChain) Run(ctx context.Context, vars map[string]any) TextOutput {
	msgs, err := c.template.Format(ctx, vars)
	if err != nil {
		return renderFailure(err)
	}
	res := c.caller.Invoke(ctx, Request{Messages: msgs})
	out := TextOutput{Output: res.Content(), Message: res.Output, Kind: res.Kind}
	if res.Failed() {
		out.Error = &res.ErrText
	}
	return out
}

func renderFailure(err error) TextOutput {
	text := fmt.Sprintf("render prompt: %v", err)
	return TextOutput{
		Output:  model.OtherErrorMessage,
		Message: schema.AssistantMessage(model.OtherErrorMessage, nil),
		Error:   &text,
		Kind:    errx.KindOther,
	}
}

// StructuredOutput carries a parsed value, or a Fallback text when the reply did not match the schema.
type StructuredOutput[T any] struct {
	Value    *T
	Fallback string
	Error    *string
	Kind     errx.Kind
}

// StructuredChain forces the model to reply through a single tool describing T.
type StructuredChain[T any, PT interface {
	*T
	model.Schema
}] struct {
	caller   *Caller
	template prompt.ChatTemplate
	tool     *schema.ToolInfo
}

func BuildStructuredCaller[T any, PT interface {
	*T
	model.Schema
}](caller *Caller, template prompt.ChatTemplate, tool *schema.ToolInfo) *StructuredChain[T, PT] {
	return &StructuredChain[T, PT]{caller: caller, template: template, tool: tool}
}

func (c *StructuredChain[T, PT]) Run(ctx context.Context, vars map[string]any) StructuredOutput[T] {
	msgs, err := c.template.Format(ctx, vars)
	if err != nil {
		failed := renderFailure(err)
		return StructuredOutput[T]{Fallback: failed.Output, Error: failed.Error, Kind: failed.Kind}
	}

	res := c.caller.Invoke(ctx, Request{
		Messages:  msgs,
		Tools:     []*schema.ToolInfo{c.tool},
		ForceTool: true,
	})
	if res.Failed() {
		return StructuredOutput[T]{Fallback: res.Content(), Error: &res.ErrText, Kind: res.Kind}
	}

	v, err := parsers.ParseStructured[T, PT](res.Output, c.tool.Name)
	if err != nil {
		text := err.Error()
		return StructuredOutput[T]{Fallback: res.Content(), Error: &text, Kind: errx.KindNone}
	}
	return StructuredOutput[T]{Value: v}
}

// AgentChain is a tool-calling conversation turn over caller-assembled messages.
type AgentChain struct {
	caller *Caller
	tools  []*schema.ToolInfo
}

func BuildAgentCaller(caller *Caller, tools []*schema.ToolInfo) *AgentChain {
	return &AgentChain{caller: caller, tools: tools}
}

func (c *AgentChain) Run(ctx context.Context, msgs []*schema.Message) Result {
	return c.caller.Invoke(ctx, Request{Messages: msgs, Tools: c.tools})
}
