package nodes

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/chattabot/agent/internal/agent/model"
	"github.com/cloudwego/eino/schema"
)

// ===== Small helpers to keep handlers simple/readable =====

// formatPlan numbers plan steps from 1.
func formatPlan(plan []string) string {
	var b strings.Builder
	for i, step := range plan {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, step)
	}
	return b.String()
}

// formatPastSteps renders executed steps and their results for the replanner.
func formatPastSteps(steps []model.StepResult) string {
	if len(steps) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s\nResult: %s", i+1, s.Step, s.Result)
	}
	return b.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}

// normalizeToolCallIDs fills in missing tool call ids; some providers omit them.
func normalizeToolCallIDs(msg *schema.Message, step int) {
	if msg == nil {
		return
	}
	for i := range msg.ToolCalls {
		if strings.TrimSpace(msg.ToolCalls[i].ID) == "" {
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", step, i+1)
		}
	}
}

// historyVar returns chat history in the form prompt templates expect.
func historyVar(state *model.State) []*schema.Message {
	if state.ChatHistory == nil {
		return []*schema.Message{}
	}
	return state.ChatHistory
}
