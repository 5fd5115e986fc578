// Package prompts loads the prompt catalogue and renders it through eino prompt templates.
package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"

	"github.com/chattabot/agent/internal/agent/model"
)

//go:embed catalogue.yaml
var embeddedCatalogue []byte

// Template names in the catalogue.
const (
	BasePrompt          = "base_prompt"
	RelevanceClassifier = "relevance_classifier"
	RequestRouter       = "request_router"
	ImmediateAnswerer   = "immediate_answerer"
	QueryProcessor      = "query_processor"
	Planner             = "planner"
	Replanner           = "replanner"
	TaskFormat          = "task_format"
	RAGAgent            = "rag_agent"
	ToolAgent           = "tool_agent"
	SingleShot          = "single_shot"
)

var required = []string{
	BasePrompt, RelevanceClassifier, RequestRouter, ImmediateAnswerer, QueryProcessor,
	Planner, Replanner, TaskFormat, RAGAgent, ToolAgent, SingleShot,
}

// Template is one catalogue entry.
type Template struct {
	System      string `yaml:"system"`
	Human       string `yaml:"human"`
	Placeholder string `yaml:"placeholder"`
	// History names a message list inserted right after the system message.
	History string `yaml:"history"`
	Persona     bool   `yaml:"persona"`
}

// Catalogue renders named templates with business and date variables filled in.
type Catalogue struct {
	templates map[string]Template
	business  model.PromptConfig
	loc       *time.Location
	now       func() time.Time
}

// Load reads the catalogue from cfg.File, or the embedded one when File is empty.
func Load(cfg model.PromptConfig, loc *time.Location) (*Catalogue, error) {
	data := embeddedCatalogue
	if cfg.File != "" {
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		data = b
	}
	templates, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Catalogue{templates: templates, business: cfg, loc: loc, now: time.Now}, nil
}

// Parse decodes a catalogue document, checks that every required entry exists
// and expands persona entries with the base prompt.
func Parse(data []byte) (map[string]Template, error) {
	var raw map[string]Template
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse prompt catalogue: %w", err)
	}
	for _, name := range required {
		t, ok := raw[name]
		if !ok {
			return nil, fmt.Errorf("prompt catalogue: missing %q", name)
		}
		if strings.TrimSpace(t.System) == "" && strings.TrimSpace(t.Human) == "" {
			return nil, fmt.Errorf("prompt catalogue: %q is empty", name)
		}
	}

	base := strings.TrimSpace(raw[BasePrompt].System)
	out := make(map[string]Template, len(raw))
	for name, t := range raw {
		t.System = strings.TrimSpace(t.System)
		t.Human = strings.TrimSpace(t.Human)
		if t.Persona {
			if t.System != "" {
				t.System = base + "\n\n" + t.System
			} else {
				t.Human = base + "\n\n" + t.Human
			}
		}
		out[name] = t
	}
	return out, nil
}

// Get returns the raw entry.
func (c *Catalogue) Get(name string) (Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// Build turns an entry into an eino chat template: system, optional history, optional message list, human.
func (c *Catalogue) Build(name string) (prompt.ChatTemplate, error) {
	t, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", name)
	}
	var msgs []schema.MessagesTemplate
	if t.System != "" {
		msgs = append(msgs, schema.SystemMessage(t.System))
	}
	if t.History != "" {
		msgs = append(msgs, schema.MessagesPlaceholder(t.History, true))
	}
	if t.Placeholder != "" {
		msgs = append(msgs, schema.MessagesPlaceholder(t.Placeholder, true))
	}
	if t.Human != "" {
		msgs = append(msgs, schema.UserMessage(t.Human))
	}
	return prompt.FromMessages(schema.FString, msgs...), nil
}

// MustBuild is Build for templates known to be present after Load.
func (c *Catalogue) MustBuild(name string) prompt.ChatTemplate {
	tpl, err := c.Build(name)
	if err != nil {
		panic(err)
	}
	return tpl
}

// Render formats a single-message entry and returns its text.
func (c *Catalogue) Render(ctx context.Context, name string, vars map[string]any) (string, error) {
	tpl, err := c.Build(name)
	if err != nil {
		return "", err
	}
	msgs, err := tpl.Format(ctx, c.Vars(vars))
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	if len(msgs) == 0 || msgs[len(msgs)-1] == nil {
		return "", fmt.Errorf("render %s: empty result", name)
	}
	return msgs[len(msgs)-1].Content, nil
}

// Vars returns extra merged over the business and date variables every template may use.
func (c *Catalogue) Vars(extra map[string]any) map[string]any {
	today := c.now().In(c.loc)
	vars := map[string]any{
		"business_name": c.business.BusinessName,
		"business_type": c.business.BusinessType,
		"today":         today.Format(time.RFC3339),
		"current_year":  today.Year(),
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
