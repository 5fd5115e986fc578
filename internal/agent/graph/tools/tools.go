// Package tools holds the tools the agent may call and the helpers the tools hop uses around them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	logx "github.com/chattabot/agent/pkg/logger"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Config selects and configures the agent's tools.
type Config struct {
	Clock      Clock
	Directions DirectionsConfig
	// Retriever enables search-document when set.
	Retriever retriever.Retriever
}

// GetAgentTools returns the date tools plus directions and document search when configured.
// Every tool reports failures as an error result instead of failing the hop.
func GetAgentTools(cfg Config) []tool.BaseTool {
	list := []tool.InvokableTool{
		createCompareDatesTool(cfg.Clock),
		createCompareThreeDatesTool(cfg.Clock),
		createDatetimeTool(cfg.Clock),
		createWeekdayNameTool(cfg.Clock),
		createDayDifferenceTool(cfg.Clock),
	}
	if cfg.Directions.APIKey != "" {
		if cfg.Directions.Clock.Location == nil {
			cfg.Directions.Clock = cfg.Clock
		}
		list = append(list, createDirectionsTool(cfg.Directions))
	}
	if cfg.Retriever != nil {
		list = append(list, createSearchDocumentTool(cfg.Retriever))
	}

	out := make([]tool.BaseTool, 0, len(list))
	for _, t := range list {
		out = append(out, &safeTool{InvokableTool: t})
	}
	return out
}

// GetToolInfos collects the infos to bind to the agent model.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ToolNames lists tool names for prompts.
func ToolNames(infos []*schema.ToolInfo) string {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return strings.Join(names, ", ")
}

// ErrorResult is the tool message body reported for a failed or unknown tool call.
func ErrorResult(kind, name string, err error) string {
	body := map[string]string{"error": kind, "name": name}
	if err != nil {
		body["detail"] = err.Error()
	}
	b, mErr := json.Marshal(body)
	if mErr != nil {
		return fmt.Sprintf("{\"error\":%q}", kind)
	}
	return string(b)
}

type safeTool struct {
	tool.InvokableTool
}

func (s *safeTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	out, err := s.InvokableTool.InvokableRun(ctx, arguments, opts...)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	name := "unknown"
	if info, infoErr := s.Info(ctx); infoErr == nil {
		name = info.Name
	}
	logx.Warn().Err(err).Str("tool_name", name).Str("arguments", arguments).Msg("tool call failed; returning error result")
	return ErrorResult("tool_failed", name, err), nil
}

// SanitizeArguments normalizes model-produced arguments. It never fails; unparseable input is returned as is.
func SanitizeArguments(name, arguments string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}

	for _, key := range []string{"date", "first_date", "second_date", "third_date", "query", "start", "end"} {
		if v, ok := m[key]; ok {
			switch vv := v.(type) {
			case string:
				m[key] = strings.TrimSpace(vv)
			default:
				m[key] = strings.TrimSpace(fmt.Sprint(v))
			}
		}
	}

	switch name {
	case ToolDayDifference:
		if v, ok := m["delta"]; ok {
			switch vv := v.(type) {
			case float64:
				m["delta"] = clampInt(int(vv), -maxDeltaDays, maxDeltaDays)
			case string:
				if n, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
					m["delta"] = clampInt(n, -maxDeltaDays, maxDeltaDays)
				} else {
					delete(m, "delta")
				}
			default:
				delete(m, "delta")
			}
		}
	case ToolDirections:
		if v, ok := m["transit_type"].(string); ok {
			m["transit_type"] = strings.ToLower(strings.TrimSpace(v))
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}

const maxDeltaDays = 3650

// clampInt returns v limited to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
