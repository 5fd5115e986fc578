package model

import (
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyUpdate(t *testing.T, s *State, u Update) {
	t.Helper()
	writes, err := u.Writes()
	require.NoError(t, err)
	require.NoError(t, s.Apply(writes))
}

func TestApplyAppendsMessagesAndPastSteps(t *testing.T) {
	s := &State{}
	applyUpdate(t, s, Update{
		Messages:  []*schema.Message{schema.UserMessage("hi")},
		PastSteps: []StepResult{{Step: "a", Result: "1"}},
	})
	applyUpdate(t, s, Update{
		Messages:  []*schema.Message{schema.AssistantMessage("hello", nil)},
		PastSteps: []StepResult{{Step: "b", Result: "2"}},
	})

	require.Len(t, s.Messages, 2)
	assert.Equal(t, "hello", s.LastMessage().Content)
	assert.Equal(t, []StepResult{{"a", "1"}, {"b", "2"}}, s.PastSteps)
}

func TestApplyForgetResetsBeforeAppend(t *testing.T) {
	s := &State{Messages: []*schema.Message{schema.UserMessage("old")}}
	applyUpdate(t, s, Update{ForgetMessages: true, Messages: []*schema.Message{schema.UserMessage("new")}})

	require.Len(t, s.Messages, 1)
	assert.Equal(t, "new", s.Messages[0].Content)

	applyUpdate(t, s, Update{ForgetMessages: true})
	assert.Empty(t, s.Messages)
}

func TestApplyReplacesPlanAndClearsResponse(t *testing.T) {
	s := &State{Plan: []string{"x", "y"}, Response: Ptr("done"), Error: Ptr("boom")}
	applyUpdate(t, s, Update{Plan: []string{"z"}, ClearResponse: true, ClearError: true})

	assert.Equal(t, []string{"z"}, s.Plan)
	assert.Nil(t, s.Response)
	assert.Nil(t, s.Error)
}

func TestApplyResetPastSteps(t *testing.T) {
	s := &State{PastSteps: []StepResult{{Step: "old"}}}
	applyUpdate(t, s, Update{ResetPastSteps: true, Input: Ptr("next question")})

	assert.Empty(t, s.PastSteps)
	assert.Equal(t, "next question", s.Input)
}

func TestWritesSurviveJSONRoundTrip(t *testing.T) {
	writes, err := Update{RetrievedContext: Ptr("ctx"), Response: Ptr("answer")}.Writes()
	require.NoError(t, err)

	raw, err := json.Marshal(writes)
	require.NoError(t, err)
	var decoded []Write
	require.NoError(t, json.Unmarshal(raw, &decoded))

	s := &State{}
	require.NoError(t, s.Apply(decoded))
	assert.Equal(t, "ctx", s.Context())
	assert.Equal(t, "answer", s.Answer())
}

func TestApplyUnknownChannel(t *testing.T) {
	s := &State{}
	err := s.Apply([]Write{{Channel: "bogus", Value: json.RawMessage(`1`)}})
	assert.Error(t, err)
}

func TestNodeTextRoundTrip(t *testing.T) {
	for n := Start; n <= End; n++ {
		b, err := n.MarshalText()
		require.NoError(t, err)
		var back Node
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, n, back)
	}

	var n Node
	assert.Error(t, n.UnmarshalText([]byte("nope")))

	parsed, err := ParseNode("answer")
	require.NoError(t, err)
	assert.Equal(t, SingleShotAnswer, parsed)
	assert.Equal(t, "answer", SingleShotAnswer.String())
}

func TestRunConfigDefaults(t *testing.T) {
	var c RunConfig
	assert.True(t, c.ForgetShortMemory())
	assert.Equal(t, DefaultRecursionLimit, c.Limit())

	c.Forget = Ptr(false)
	c.RecursionLimit = 3
	assert.False(t, c.ForgetShortMemory())
	assert.Equal(t, 3, c.Limit())
}
