package llm

import (
	"context"
	"fmt"

	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/callbacks"
	"google.golang.org/genai"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	Agent      model.ModelConfig
	Evaluator  model.ModelConfig
	Planner    model.ModelConfig
	NodeAction model.ModelConfig
}

// Callers holds one error-wrapping caller per model role.
type Callers struct {
	Agent      *Caller
	Evaluator  *Caller
	Planner    *Caller
	NodeAction *Caller
}

// NewGenaiClient creates the shared Gemini API client.
func NewGenaiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModels creates the Gemini chat models for every role on one shared client.
func NewChatModels(ctx context.Context, client *genai.Client, config ChatModelConfig, handlers ...callbacks.Handler) (*Callers, error) {
	build := func(role string, mc model.ModelConfig) (*Caller, error) {
		maxTokens := mc.MaxTokens
		temperature := mc.Temperature
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       mc.Model,
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
		})
		if err != nil {
			logx.Error().Err(err).Str("role", role).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating %s model: %w", role, err)
		}
		return NewCaller(role, cm, Config{
			Timeout:     mc.Timeout,
			MaxRetries:  mc.MaxRetries,
			Temperature: &temperature,
		}, handlers...), nil
	}

	var (
		out Callers
		err error
	)
	if out.Agent, err = build("agent", config.Agent); err != nil {
		return nil, err
	}
	if out.Evaluator, err = build("evaluator", config.Evaluator); err != nil {
		return nil, err
	}
	if out.Planner, err = build("planner", config.Planner); err != nil {
		return nil, err
	}
	if out.NodeAction, err = build("node_action", config.NodeAction); err != nil {
		return nil, err
	}
	logx.Debug().
		Str("agent", config.Agent.Model).
		Str("planner", config.Planner.Model).
		Msg("Chat models created")
	return &out, nil
}
