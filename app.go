package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/chattabot/agent/internal/agent/checkpoint"
	"github.com/chattabot/agent/internal/agent/delivery"
	"github.com/chattabot/agent/internal/agent/graph"
	"github.com/chattabot/agent/internal/agent/graph/conversations"
	"github.com/chattabot/agent/internal/agent/graph/observers"
	"github.com/chattabot/agent/internal/agent/graph/prompts"
	"github.com/chattabot/agent/internal/agent/graph/tools"
	"github.com/chattabot/agent/internal/agent/knowledge"
	"github.com/chattabot/agent/internal/agent/llm"
	"github.com/chattabot/agent/internal/agent/model"
	"github.com/chattabot/agent/internal/agent/repo"
	"github.com/chattabot/agent/internal/agent/service"
	"github.com/chattabot/agent/internal/core"
	logx "github.com/chattabot/agent/pkg/logger"
	pkgredis "github.com/chattabot/agent/pkg/redis"
	"github.com/chattabot/agent/pkg/sqlite"
)

// AppConfig defines all configurable parameters of the agent,
// sourced from environment variables (loaded from .env for local runs).
// Sections are bound one by one under their own prefix, see loadConfig.
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Infrastructure
	Redis  pkgredis.Config `ignored:"true"`
	SQLite sqlite.Config   `ignored:"true"`

	// Model roles, e.g. AGENT_LLM_MODEL, PLANNER_LLM_TIMEOUT.
	AgentModel      model.ModelConfig `ignored:"true"`
	EvaluatorModel  model.ModelConfig `ignored:"true"`
	PlannerModel    model.ModelConfig `ignored:"true"`
	NodeActionModel model.ModelConfig `ignored:"true"`

	Agent        model.AgentConfig        `ignored:"true"`
	Conversation model.ConversationConfig `ignored:"true"`
	Checkpoint   model.CheckpointConfig   `ignored:"true"`
	Retriever    model.RetrieverConfig    `ignored:"true"`
	Prompt       model.PromptConfig       `ignored:"true"`
	Tools        model.ToolsConfig        `ignored:"true"`
	Twilio       model.TwilioConfig       `ignored:"true"`
}

// loadConfig reads .env when present, then binds the top level and every section.
func loadConfig(envFile string) (*AppConfig, error) {
	if err := godotenv.Load(envFile); err != nil {
		logx.Debug().Err(err).Str("file", envFile).Msg("No .env file loaded")
	}

	var cfg AppConfig
	sections := []struct {
		prefix string
		target any
	}{
		{"", &cfg},
		{"REDIS", &cfg.Redis},
		{"SQLITE", &cfg.SQLite},
		{"AGENT_LLM", &cfg.AgentModel},
		{"EVALUATOR_LLM", &cfg.EvaluatorModel},
		{"PLANNER_LLM", &cfg.PlannerModel},
		{"NODE_ACTION_LLM", &cfg.NodeActionModel},
		{"", &cfg.Agent},
		{"", &cfg.Conversation},
		{"", &cfg.Checkpoint},
		{"", &cfg.Retriever},
		{"", &cfg.Prompt},
		{"", &cfg.Tools},
		{"", &cfg.Twilio},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return nil, fmt.Errorf("process %T config: %w", s.target, err)
		}
	}
	return &cfg, nil
}

// app holds the long-lived clients shared by every command.
type app struct {
	cfg       *AppConfig
	driver    *service.Driver
	knowledge *knowledge.Store
	sender    delivery.Sender
	sweeper   *checkpoint.SQLiteSaver
	usage     *observers.UsageTracker

	rdb *redis.Client
	db  *sql.DB
}

func newApp(ctx context.Context, cfg *AppConfig) (*app, error) {
	a := &app{cfg: cfg, usage: &observers.UsageTracker{}}
	callbacks.AppendGlobalHandlers(observers.NewAllCallbacks(logx.Component("eino"), model.DefaultPricing, a.usage))

	var err error
	if a.rdb, err = cfg.Redis.New(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if a.db, err = cfg.SQLite.Open(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Agent.Timezone, err)
	}
	mode, err := graph.ParseMode(cfg.Agent.Mode)
	if err != nil {
		return err
	}

	client, err := llm.NewGenaiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return err
	}
	callers, err := llm.NewChatModels(ctx, client, llm.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Agent:      cfg.AgentModel,
		Evaluator:  cfg.EvaluatorModel,
		Planner:    cfg.PlannerModel,
		NodeAction: cfg.NodeActionModel,
	})
	if err != nil {
		return err
	}

	a.knowledge, err = knowledge.NewStore(ctx, a.db, knowledge.NewGenaiEmbedder(client, cfg.Retriever.EmbeddingModel))
	if err != nil {
		return err
	}
	retr := knowledge.NewFilteredRetriever(a.knowledge, cfg.Retriever.TopK, cfg.Retriever.MinScore)

	saver, err := a.newSaver(ctx)
	if err != nil {
		return err
	}

	catalogue, err := prompts.Load(cfg.Prompt, loc)
	if err != nil {
		return err
	}

	clock := tools.Clock{Location: loc, Now: time.Now}
	toolset := tools.GetAgentTools(tools.Config{
		Clock: clock,
		Directions: tools.DirectionsConfig{
			APIKey:  cfg.Tools.MapsAPIKey,
			BaseURL: cfg.Tools.MapsBaseURL,
			Client:  &http.Client{Timeout: cfg.Tools.HTTPTimeout},
		},
		Retriever: retr,
	})

	runner, err := graph.BuildGraph(ctx, &graph.GraphConfig{
		Mode:      mode,
		Callers:   callers,
		Prompts:   catalogue,
		Retriever: retr,
		Tools:     toolset,
		Saver:     saver,
	})
	if err != nil {
		return err
	}

	trimmer, err := conversations.NewTrimmer(cfg.Conversation.TrimStrategy, cfg.Conversation.MaxTokens,
		cfg.Conversation.LastN, llm.NewGenaiTokenCounter(client, cfg.AgentModel.Model))
	if err != nil {
		return err
	}
	messages := conversations.NewMessagesManager(repo.NewRedisConversationRepository(a.rdb, cfg.Conversation.TTL), trimmer)

	a.driver = service.NewDriver(runner, messages, saver, service.ConfigFromAgent(cfg.Agent, cfg.Checkpoint.Namespace))

	if cfg.Twilio.Enabled() {
		a.sender = delivery.NewTwilioSender(cfg.Twilio, nil)
	} else {
		a.sender = delivery.LogSender{}
	}

	logx.Info().
		Str("mode", string(mode)).
		Str("checkpoints", cfg.Checkpoint.Backend).
		Int("tools", len(toolset)).
		Msg("Agent ready")
	return nil
}

func (a *app) newSaver(ctx context.Context) (checkpoint.Saver, error) {
	switch a.cfg.Checkpoint.Backend {
	case "", "sqlite":
		s, err := checkpoint.NewSQLiteSaver(ctx, a.db, checkpoint.SQLiteOptions{TTL: a.cfg.Checkpoint.TTL, Compress: true})
		if err != nil {
			return nil, err
		}
		a.sweeper = s
		return s, nil
	case "redis":
		return checkpoint.NewRedisSaver(ctx, a.rdb, a.cfg.Checkpoint.TTL)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", a.cfg.Checkpoint.Backend)
	}
}

// RunSweeper reaps expired SQLite checkpoints until ctx is done. Redis expires keys itself.
func (a *app) RunSweeper(ctx context.Context) error {
	if a.sweeper == nil {
		<-ctx.Done()
		return nil
	}
	return a.sweeper.RunSweeper(ctx, a.cfg.Checkpoint.SweepInterval)
}

func (a *app) Close() {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logx.Warn().Err(err).Msg("Error closing clients")
	}
	u := a.usage.Totals()
	logx.Info().
		Int("calls", u.Calls).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Float64("cost_usd", u.CostUSD).
		Msg("Model usage")
}
