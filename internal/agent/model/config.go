package model

import "time"

// ================ Config ================

// ModelConfig configures one chat model role. Nested under a prefixed field, e.g. AGENT_LLM_MODEL.
type ModelConfig struct {
	Model       string        `envconfig:"MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"2000"`
	Temperature float32       `envconfig:"TEMPERATURE" default:"0.1"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"5s"`
	MaxRetries  int           `envconfig:"MAX_RETRIES" default:"1"`
}

type AgentConfig struct {
	Mode                  string        `envconfig:"AGENT_MODE" default:"plan_execute"`
	RecursionLimit        int           `envconfig:"AGENT_RECURSION_LIMIT" default:"50"`
	MaxExecutionTime      time.Duration `envconfig:"AGENT_MAX_EXECUTION_TIME" default:"25s"`
	ForgetShortMemory     bool          `envconfig:"AGENT_FORGET_SHORT_MEMORY" default:"true"`
	TrimIntermediateSteps bool          `envconfig:"AGENT_TRIM_INTERMEDIATE_STEPS" default:"false"`
	ThreadPrefix          string        `envconfig:"AGENT_THREAD_PREFIX" default:"chattabot"`
	Timezone              string        `envconfig:"AGENT_TIMEZONE" default:"UTC"`
}

type ConversationConfig struct {
	TTL time.Duration `envconfig:"CONVERSATION_TTL" default:"720h"`
	// TrimStrategy is one of tokens, last_n, none.
	TrimStrategy string `envconfig:"CONVERSATION_TRIM_STRATEGY" default:"tokens"`
	MaxTokens    int    `envconfig:"CONVERSATION_MAX_TOKENS_AFTER_TRIMMING" default:"100"`
	LastN        int    `envconfig:"CONVERSATION_LAST_N" default:"10"`
}

type CheckpointConfig struct {
	// Backend is sqlite or redis.
	Backend       string        `envconfig:"CHECKPOINT_BACKEND" default:"sqlite"`
	TTL           time.Duration `envconfig:"CHECKPOINT_TTL" default:"180s"`
	SweepInterval time.Duration `envconfig:"CHECKPOINT_SWEEP_INTERVAL" default:"60s"`
	Namespace     string        `envconfig:"CHECKPOINT_NAMESPACE" default:""`
}

type RetrieverConfig struct {
	EmbeddingModel string  `envconfig:"RETRIEVER_EMBEDDING_MODEL" default:"text-embedding-004"`
	TopK           int     `envconfig:"RETRIEVER_TOP_K" default:"3"`
	MinScore       float64 `envconfig:"RETRIEVER_MIN_SCORE" default:"0.60"`
}

type PromptConfig struct {
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Chattabot"`
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"hotel"`
	// File overrides the embedded prompt catalogue.
	File string `envconfig:"PROMPT_FILE"`
}

type ToolsConfig struct {
	MapsAPIKey  string        `envconfig:"GOOGLE_MAPS_API_KEY"`
	MapsBaseURL string        `envconfig:"GOOGLE_MAPS_BASE_URL" default:"https://maps.googleapis.com"`
	HTTPTimeout time.Duration `envconfig:"TOOLS_HTTP_TIMEOUT" default:"10s"`
}

type TwilioConfig struct {
	AccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	From       string `envconfig:"TWILIO_FROM_NUMBER"`
	BaseURL    string `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com"`
}

// Enabled reports whether outbound SMS delivery is configured.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}
