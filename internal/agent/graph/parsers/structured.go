package parsers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/chattabot/agent/internal/agent/model"
	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino/schema"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit error snippet size
)

var ErrNoStructuredOutput = errors.New("no structured output in reply")

// ParseStructured extracts T from a model reply. The first tool call named toolName wins;
// otherwise a JSON object embedded in the content is tried.
func ParseStructured[T any, PT interface {
	*T
	model.Schema
}](msg *schema.Message, toolName string) (out *T, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "structured_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("structured parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			out = nil
		}
	}()

	if msg == nil {
		return nil, ErrNoStructuredOutput
	}

	payload := ""
	for _, tc := range msg.ToolCalls {
		if toolName == "" || tc.Function.Name == toolName {
			payload = tc.Function.Arguments
			break
		}
	}
	if payload == "" {
		payload = ExtractJSONObject(msg.Content)
	}
	if payload == "" {
		return nil, ErrNoStructuredOutput
	}

	// content length guard
	if len(payload) > maxContentLen {
		return nil, fmt.Errorf("structured output too large: %d bytes", len(payload))
	}
	if !utf8.ValidString(payload) {
		return nil, fmt.Errorf("structured output invalid utf8")
	}

	v := new(T)
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return nil, fmt.Errorf("decode %q: %w", snippet(payload), err)
	}
	if err := PT(v).Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// ExtractJSONObject returns the outermost JSON object in s, looking inside ``` fences first.
func ExtractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func snippet(s string) string {
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet] + "..."
}
