package llm

import (
	"context"
	"fmt"
	"time"

	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type Config struct {
	// Timeout bounds a single attempt. Zero means no per-attempt limit.
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float32
	// RetryBackoff is the pause before the first retry; it grows linearly.
	RetryBackoff time.Duration
}

// Request is one model call.
type Request struct {
	Messages []*schema.Message
	// Tools are bound for this call only.
	Tools []*schema.ToolInfo
	// ForceTool requires the model to answer through one of Tools.
	ForceTool   bool
	Temperature *float32
}

// Result is the outcome of a call. Output is always set; on failure it carries a canned reply.
type Result struct {
	Output  *schema.Message
	Err     error
	ErrText string
	Kind    errx.Kind
}

func (r Result) Failed() bool { return r.Err != nil }

// Content returns the reply text.
func (r Result) Content() string {
	if r.Output == nil {
		return ""
	}
	return r.Output.Content
}

// Caller wraps a chat model so that no failure escapes as an error or panic.
type Caller struct {
	name     string
	model    einomodel.ToolCallingChatModel
	cfg      Config
	handlers []callbacks.Handler
}

func NewCaller(name string, m einomodel.ToolCallingChatModel, cfg Config, handlers ...callbacks.Handler) *Caller {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Caller{name: name, model: m, cfg: cfg, handlers: handlers}
}

func (c *Caller) Name() string { return c.name }

// Invoke calls the model, retrying retryable failures up to MaxRetries times.
func (c *Caller) Invoke(ctx context.Context, req Request) Result {
	attempts := 1 + max(0, c.cfg.MaxRetries)

	var (
		err  error
		kind errx.Kind
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && !sleep(ctx, time.Duration(attempt)*c.cfg.RetryBackoff) {
			break
		}

		var out *schema.Message
		out, err = c.call(ctx, req)
		if err == nil {
			return Result{Output: out, Kind: errx.KindNone}
		}
		kind = Classify(err)
		logx.Warn().Err(err).
			Str("caller", c.name).
			Str("kind", kind.String()).
			Int("attempt", attempt+1).
			Msg("Model call failed")
		if !kind.Retryable() || ctx.Err() != nil {
			break
		}
	}

	return Result{
		Output:  schema.AssistantMessage(CannedMessage(kind), nil),
		Err:     err,
		ErrText: err.Error(),
		Kind:    kind,
	}
}

func (c *Caller) call(ctx context.Context, req Request) (out *schema.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("model panic: %v", r)
		}
	}()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	// global handlers are merged in by InitCallbacks
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      c.name,
		Type:      "Caller",
		Component: components.ComponentOfChatModel,
	}, c.handlers...)

	m := c.model
	if len(req.Tools) > 0 {
		m, err = c.model.WithTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	var opts []einomodel.Option
	if t := req.Temperature; t != nil {
		opts = append(opts, einomodel.WithTemperature(*t))
	} else if t := c.cfg.Temperature; t != nil {
		opts = append(opts, einomodel.WithTemperature(*t))
	}
	if req.ForceTool && len(req.Tools) > 0 {
		opts = append(opts, einomodel.WithToolChoice(schema.ToolChoiceForced))
	}

	out, err = m.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("model returned no message")
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
