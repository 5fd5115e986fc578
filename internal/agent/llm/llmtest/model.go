// Package llmtest provides scripted chat models for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RespondFunc produces the reply for the n-th call (0-based).
type RespondFunc func(ctx context.Context, n int, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error)

// ScriptedModel is a ToolCallingChatModel whose replies come from a RespondFunc.
type ScriptedModel struct {
	mu      sync.Mutex
	respond RespondFunc
	calls   [][]*schema.Message
}

func NewScriptedModel(respond RespondFunc) *ScriptedModel {
	return &ScriptedModel{respond: respond}
}

// Sequence replies with msgs in order and repeats the last one.
func Sequence(msgs ...*schema.Message) *ScriptedModel {
	return NewScriptedModel(func(_ context.Context, n int, _ []*schema.Message, _ []*schema.ToolInfo) (*schema.Message, error) {
		if n >= len(msgs) {
			n = len(msgs) - 1
		}
		return msgs[n], nil
	})
}

// Failing always returns err.
func Failing(err error) *ScriptedModel {
	return NewScriptedModel(func(context.Context, int, []*schema.Message, []*schema.ToolInfo) (*schema.Message, error) {
		return nil, err
	})
}

// Blocking waits for the context to end.
func Blocking() *ScriptedModel {
	return NewScriptedModel(func(ctx context.Context, _ int, _ []*schema.Message, _ []*schema.ToolInfo) (*schema.Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, input)
	m.mu.Unlock()
	return m.respond(ctx, n, input, nil)
}

func (m *ScriptedModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

// WithTools returns a copy sharing the call log, as real models do not mutate on bind.
func (m *ScriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &boundModel{parent: m, tools: tools}, nil
}

// Calls returns how many times the model was invoked.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Input returns the messages of the n-th call.
func (m *ScriptedModel) Input(n int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[n]
}

type boundModel struct {
	parent *ScriptedModel
	tools  []*schema.ToolInfo
}

func (b *boundModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	p := b.parent
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, input)
	p.mu.Unlock()
	return p.respond(ctx, n, input, b.tools)
}

func (b *boundModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return b.parent.Stream(ctx, input, opts...)
}

func (b *boundModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return &boundModel{parent: b.parent, tools: tools}, nil
}

// ToolCall builds an assistant reply that calls one tool.
func ToolCall(name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call_" + name,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

// Text builds a plain assistant reply.
func Text(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

// ByTool routes a call to a reply according to the first bound tool's name; "" matches calls without tools.
func ByTool(replies map[string]func(n int, msgs []*schema.Message) (*schema.Message, error)) *ScriptedModel {
	counts := map[string]int{}
	var mu sync.Mutex
	return NewScriptedModel(func(_ context.Context, _ int, msgs []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
		key := ""
		if len(tools) > 0 {
			key = tools[0].Name
		}
		mu.Lock()
		n := counts[key]
		counts[key]++
		mu.Unlock()
		fn, ok := replies[key]
		if !ok {
			return nil, errors.New("no scripted reply for " + key)
		}
		return fn(n, msgs)
	})
}
