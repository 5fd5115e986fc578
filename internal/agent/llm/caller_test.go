package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/chattabot/agent/internal/agent/llm/llmtest"
	"github.com/chattabot/agent/internal/agent/model"
	errx "github.com/chattabot/agent/internal/core/error"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func testCaller(m *llmtest.ScriptedModel, cfg Config) *Caller {
	cfg.RetryBackoff = time.Millisecond
	return NewCaller("test", m, cfg)
}

func TestInvokeSuccess(t *testing.T) {
	c := testCaller(llmtest.Sequence(llmtest.Text("hello")), Config{})
	res := c.Invoke(context.Background(), Request{Messages: []*schema.Message{schema.UserMessage("hi")}})
	assert.False(t, res.Failed())
	assert.Equal(t, "hello", res.Content())
	assert.Equal(t, errx.KindNone, res.Kind)
}

func TestInvokeRetriesRetryableKinds(t *testing.T) {
	m := llmtest.NewScriptedModel(func(_ context.Context, n int, _ []*schema.Message, _ []*schema.ToolInfo) (*schema.Message, error) {
		if n == 0 {
			return nil, genai.APIError{Code: 429, Message: "slow down"}
		}
		return llmtest.Text("ok"), nil
	})
	res := testCaller(m, Config{MaxRetries: 1}).Invoke(context.Background(), Request{})
	assert.False(t, res.Failed())
	assert.Equal(t, 2, m.Calls())
}

func TestInvokeDoesNotRetryAuth(t *testing.T) {
	m := llmtest.Failing(genai.APIError{Code: 401, Message: "bad key"})
	res := testCaller(m, Config{MaxRetries: 3}).Invoke(context.Background(), Request{})
	require.True(t, res.Failed())
	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, errx.KindAuth, res.Kind)
	assert.Equal(t, model.APIErrorMessage, res.Content())
	assert.Contains(t, res.ErrText, "bad key")
}

func TestInvokeTimeout(t *testing.T) {
	m := llmtest.Blocking()
	res := testCaller(m, Config{Timeout: 10 * time.Millisecond}).Invoke(context.Background(), Request{})
	require.True(t, res.Failed())
	assert.Equal(t, errx.KindTimeout, res.Kind)
	assert.Equal(t, model.TimeoutErrorMessage, res.Content())
}

func TestInvokeRecoversPanic(t *testing.T) {
	m := llmtest.NewScriptedModel(func(context.Context, int, []*schema.Message, []*schema.ToolInfo) (*schema.Message, error) {
		panic("boom")
	})
	res := testCaller(m, Config{}).Invoke(context.Background(), Request{})
	require.True(t, res.Failed())
	assert.Equal(t, errx.KindOther, res.Kind)
	assert.Equal(t, model.OtherErrorMessage, res.Content())
}

func TestInvokeStopsRetryingWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := llmtest.NewScriptedModel(func(context.Context, int, []*schema.Message, []*schema.ToolInfo) (*schema.Message, error) {
		cancel()
		return nil, &net.OpError{Op: "dial", Err: errors.New("refused")}
	})
	res := testCaller(m, Config{MaxRetries: 5}).Invoke(ctx, Request{})
	require.True(t, res.Failed())
	assert.Equal(t, 1, m.Calls())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errx.Kind
	}{
		{"nil", nil, errx.KindNone},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), errx.KindTimeout},
		{"unauthorized", genai.APIError{Code: 401}, errx.KindAuth},
		{"forbidden pointer", &genai.APIError{Code: 403}, errx.KindAuth},
		{"bad request", fmt.Errorf("wrapped: %w", genai.APIError{Code: 400}), errx.KindBadRequest},
		{"rate limit", genai.APIError{Code: 429}, errx.KindRateLimit},
		{"gateway timeout", genai.APIError{Code: 504}, errx.KindTimeout},
		{"server error", genai.APIError{Code: 500}, errx.KindAPI},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, errx.KindConnectivity},
		{"url", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("eof")}, errx.KindConnectivity},
		{"flattened quota", errors.New("rpc error: RESOURCE_EXHAUSTED"), errx.KindRateLimit},
		{"unknown", errors.New("something odd"), errx.KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCannedMessage(t *testing.T) {
	assert.Equal(t, model.TimeoutErrorMessage, CannedMessage(errx.KindTimeout))
	assert.Equal(t, model.APIErrorMessage, CannedMessage(errx.KindRateLimit))
	assert.Equal(t, model.APIErrorMessage, CannedMessage(errx.KindConnectivity))
	assert.Equal(t, model.OtherErrorMessage, CannedMessage(errx.KindOther))
}

func testTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("Classify: {input}"),
		schema.MessagesPlaceholder("chat_history", true),
	)
}

func TestStructuredChainParses(t *testing.T) {
	m := llmtest.Sequence(llmtest.ToolCall("ClassifyQuestion", `{"binary_score":"no"}`))
	chain := BuildStructuredCaller[model.ClassifyQuestion](testCaller(m, Config{}), testTemplate(), model.ClassifyQuestionTool())

	out := chain.Run(context.Background(), map[string]any{"input": "weather?"})
	require.NotNil(t, out.Value)
	assert.False(t, out.Value.Yes())
	assert.Nil(t, out.Error)
	assert.Equal(t, "Classify: weather?", m.Input(0)[0].Content)
}

func TestStructuredChainFallsBackOnMismatch(t *testing.T) {
	m := llmtest.Sequence(llmtest.Text("I think it is relevant"))
	chain := BuildStructuredCaller[model.ClassifyQuestion](testCaller(m, Config{}), testTemplate(), model.ClassifyQuestionTool())

	out := chain.Run(context.Background(), map[string]any{"input": "x"})
	assert.Nil(t, out.Value)
	require.NotNil(t, out.Error)
	assert.Equal(t, "I think it is relevant", out.Fallback)
}

func TestStructuredChainModelFailure(t *testing.T) {
	m := llmtest.Failing(genai.APIError{Code: 500})
	chain := BuildStructuredCaller[model.Plan](testCaller(m, Config{}), testTemplate(), model.PlanTool())

	out := chain.Run(context.Background(), map[string]any{"input": "x"})
	assert.Nil(t, out.Value)
	assert.Equal(t, model.APIErrorMessage, out.Fallback)
	assert.Equal(t, errx.KindAPI, out.Kind)
}

func TestTextChainRenderFailure(t *testing.T) {
	m := llmtest.Sequence(llmtest.Text("unused"))
	chain := BuildTextCaller(testCaller(m, Config{}), testTemplate())

	out := chain.Run(context.Background(), map[string]any{})
	require.NotNil(t, out.Error)
	assert.Equal(t, model.OtherErrorMessage, out.Output)
	assert.Zero(t, m.Calls())
}

func TestAgentChainBindsTools(t *testing.T) {
	var seen []*schema.ToolInfo
	m := llmtest.NewScriptedModel(func(_ context.Context, _ int, _ []*schema.Message, tools []*schema.ToolInfo) (*schema.Message, error) {
		seen = tools
		return llmtest.Text("done"), nil
	})
	chain := BuildAgentCaller(testCaller(m, Config{}), []*schema.ToolInfo{model.PlanTool()})
	res := chain.Run(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.Equal(t, "done", res.Content())
	require.Len(t, seen, 1)
	assert.Equal(t, "Plan", seen[0].Name)
}
