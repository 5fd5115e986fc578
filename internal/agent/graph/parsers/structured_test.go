package parsers

import (
	"strings"
	"testing"

	"github.com/chattabot/agent/internal/agent/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolReply(name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})
}

func TestParseStructuredFromToolCall(t *testing.T) {
	got, err := ParseStructured[model.ClassifyQuestion](toolReply("ClassifyQuestion", `{"binary_score":"Yes"}`), "ClassifyQuestion")
	require.NoError(t, err)
	assert.True(t, got.Yes())
}

func TestParseStructuredFromContent(t *testing.T) {
	msg := schema.AssistantMessage("Sure:\n```json\n{\"steps\": [\"check hours\", \"answer\"]}\n```", nil)
	got, err := ParseStructured[model.Plan](msg, "Plan")
	require.NoError(t, err)
	assert.Equal(t, []string{"check hours", "answer"}, got.Steps)
}

func TestParseStructuredIgnoresOtherTools(t *testing.T) {
	_, err := ParseStructured[model.Plan](toolReply("datetime-tool", `{"date":"today"}`), "Plan")
	assert.ErrorIs(t, err, ErrNoStructuredOutput)
}

func TestParseStructuredRejectsInvalid(t *testing.T) {
	_, err := ParseStructured[model.RouteQuestion](toolReply("RouteQuestion", `{"binary_score":"perhaps"}`), "RouteQuestion")
	assert.Error(t, err)

	_, err = ParseStructured[model.RouteQuestion](toolReply("RouteQuestion", `{"binary_score":`), "RouteQuestion")
	assert.Error(t, err)

	_, err = ParseStructured[model.Plan](nil, "Plan")
	assert.ErrorIs(t, err, ErrNoStructuredOutput)

	_, err = ParseStructured[model.Plan](toolReply("Plan", `{"steps":["`+strings.Repeat("a", maxContentLen)+`"]}`), "Plan")
	assert.Error(t, err)
}

func TestParseStructuredAct(t *testing.T) {
	got, err := ParseStructured[model.Act](toolReply("Act", `{"action":{"response":"We open at 9."}}`), "Act")
	require.NoError(t, err)
	require.NotNil(t, got.Response)
	assert.Equal(t, "We open at 9.", got.Response.Response)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":{"b":"}"}}`, ExtractJSONObject(`noise {"a":{"b":"}"}} trailing`))
	assert.Equal(t, "", ExtractJSONObject("no json here"))
	assert.Equal(t, "", ExtractJSONObject(`{"unterminated": true`))
}
