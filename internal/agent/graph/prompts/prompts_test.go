package prompts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattabot/agent/internal/agent/model"
)

func testCatalogue(t *testing.T) *Catalogue {
	t.Helper()
	c, err := Load(model.PromptConfig{BusinessName: "Seaside Inn", BusinessType: "hotel"}, time.UTC)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return c
}

func TestEmbeddedCatalogueHasEveryTemplate(t *testing.T) {
	c := testCatalogue(t)
	for _, name := range required {
		_, err := c.Build(name)
		assert.NoError(t, err, name)
	}
}

func TestBuildWithHistory(t *testing.T) {
	c := testCatalogue(t)
	tpl := c.MustBuild(RelevanceClassifier)

	msgs, err := tpl.Format(context.Background(), c.Vars(map[string]any{
		"input":        "Is there a pool?",
		"chat_history": []*schema.Message{schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)},
	}))
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "hotel")
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, schema.User, msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "Question: Is there a pool?")
}

func TestToolAgentCarriesHistory(t *testing.T) {
	c := testCatalogue(t)
	msgs, err := c.MustBuild(ToolAgent).Format(context.Background(), c.Vars(map[string]any{
		"tool_names":   "datetime-tool",
		"chat_history": []*schema.Message{schema.UserMessage("hi"), schema.AssistantMessage("hello", nil)},
		"messages":     []*schema.Message{schema.UserMessage("what day is it?")},
	}))
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Seaside Inn")
	assert.Contains(t, msgs[0].Content, "datetime-tool")
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, "what day is it?", msgs[3].Content)
}

func TestPersonaPrefixesSystem(t *testing.T) {
	c := testCatalogue(t)
	answerer, _ := c.Get(ImmediateAnswerer)
	base, _ := c.Get(BasePrompt)
	assert.True(t, len(answerer.System) > len(base.System))
	assert.Contains(t, answerer.System, "I DON'T KNOW")
	assert.Contains(t, answerer.System, base.System)

	shot, _ := c.Get(SingleShot)
	assert.Empty(t, shot.System)
	assert.Contains(t, shot.Human, base.System)
}

func TestRenderTaskFormat(t *testing.T) {
	c := testCatalogue(t)
	text, err := c.Render(context.Background(), TaskFormat, map[string]any{
		"input": "When is breakfast?",
		"plan":  "1. look up breakfast hours",
		"step":  1,
		"task":  "look up breakfast hours",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "When is breakfast?")
	assert.Contains(t, text, "executing step 1, look up breakfast hours")
}

func TestRenderMissingVariable(t *testing.T) {
	c := testCatalogue(t)
	_, err := c.Render(context.Background(), TaskFormat, map[string]any{"input": "x"})
	assert.Error(t, err)
}

func TestVarsDates(t *testing.T) {
	c := testCatalogue(t)
	vars := c.Vars(map[string]any{"business_name": "override"})
	assert.Equal(t, 2026, vars["current_year"])
	assert.Equal(t, "2026-03-04T10:00:00Z", vars["today"])
	assert.Equal(t, "override", vars["business_name"])
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, embeddedCatalogue, 0o600))
	_, err := Load(model.PromptConfig{File: path}, nil)
	require.NoError(t, err)

	_, err = Load(model.PromptConfig{File: filepath.Join(t.TempDir(), "missing.yaml")}, nil)
	assert.Error(t, err)
}

func TestParseRejectsIncompleteCatalogue(t *testing.T) {
	_, err := Parse([]byte("base_prompt:\n  system: hello\n"))
	assert.ErrorContains(t, err, "missing")

	_, err = Parse([]byte("not: [valid"))
	assert.Error(t, err)
}
