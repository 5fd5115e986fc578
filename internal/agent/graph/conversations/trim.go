package conversations

import (
	"context"
	"fmt"

	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

// Trimmer shortens chat history before it is handed to a run.
type Trimmer interface {
	Trim(ctx context.Context, messages []*schema.Message) ([]*schema.Message, error)
}

// TokenCounter counts the prompt tokens of a message list.
type TokenCounter interface {
	CountTokens(ctx context.Context, messages []*schema.Message) (int, error)
}

// ApproxCounter estimates tokens as one per four characters plus a fixed per-message overhead.
type ApproxCounter struct{}

const (
	approxCharsPerToken   = 4
	approxMessageOverhead = 3
)

func (ApproxCounter) CountTokens(_ context.Context, messages []*schema.Message) (int, error) {
	n := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		n += approxMessageOverhead + (len(m.Content)+approxCharsPerToken-1)/approxCharsPerToken
	}
	return n, nil
}

// TokenTrimmer keeps the longest suffix of whole messages that fits in MaxTokens,
// then drops leading messages until the first user turn.
type TokenTrimmer struct {
	MaxTokens int
	Counter   TokenCounter
}

func (t TokenTrimmer) Trim(ctx context.Context, messages []*schema.Message) ([]*schema.Message, error) {
	if t.MaxTokens <= 0 || len(messages) == 0 {
		return nil, nil
	}
	counter := t.Counter
	if counter == nil {
		counter = ApproxCounter{}
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n, err := counter.CountTokens(ctx, []*schema.Message{messages[i]})
		if err != nil {
			logx.Warn().Err(err).Int("index", i).Msg("token count failed; using estimate")
			n, _ = ApproxCounter{}.CountTokens(ctx, []*schema.Message{messages[i]})
		}
		if total+n > t.MaxTokens {
			break
		}
		total += n
		start = i
	}
	return startOnUser(messages[start:]), nil
}

// LastNTrimmer keeps the last N messages, then drops leading messages until the first user turn.
type LastNTrimmer struct {
	N int
}

func (t LastNTrimmer) Trim(_ context.Context, messages []*schema.Message) ([]*schema.Message, error) {
	return startOnUser(trimTail(messages, t.N)), nil
}

// NoTrimmer passes history through unchanged.
type NoTrimmer struct{}

func (NoTrimmer) Trim(_ context.Context, messages []*schema.Message) ([]*schema.Message, error) {
	return messages, nil
}

// NewTrimmer picks a strategy by name: tokens, last_n or none.
func NewTrimmer(strategy string, maxTokens, lastN int, counter TokenCounter) (Trimmer, error) {
	switch strategy {
	case "tokens", "":
		return TokenTrimmer{MaxTokens: maxTokens, Counter: counter}, nil
	case "last_n":
		return LastNTrimmer{N: lastN}, nil
	case "none":
		return NoTrimmer{}, nil
	default:
		return nil, fmt.Errorf("unknown trim strategy %q", strategy)
	}
}

func startOnUser(messages []*schema.Message) []*schema.Message {
	for i, m := range messages {
		if m != nil && m.Role == schema.User {
			return messages[i:]
		}
	}
	return nil
}

func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 {
		return nil
	}
	if len(messages) <= maxTurns {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxTurns:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
