package model

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Node labels one hop of the orchestration state machine.
type Node uint8

const (
	Start Node = iota
	ImmediateAnswer
	FulfillRequest
	ProcessQuery
	Retrieve
	Planner
	AgentEntry
	Agent
	Tools
	AgentExit
	Replanner
	ClearMemory
	SingleShotAnswer
	End
)

var nodeNames = map[Node]string{
	Start:            "__start__",
	ImmediateAnswer:  "immediate answer",
	FulfillRequest:   "request",
	ProcessQuery:     "process query",
	Retrieve:         "retriever",
	Planner:          "planner",
	AgentEntry:       "agent entry",
	Agent:            "agent",
	Tools:            "tools",
	AgentExit:        "agent exit",
	Replanner:        "replanner",
	ClearMemory:      "manage memory",
	SingleShotAnswer: "answer",
	End:              "__end__",
}

func (n Node) String() string {
	if name, ok := nodeNames[n]; ok {
		return name
	}
	return fmt.Sprintf("node(%d)", uint8(n))
}

// ParseNode is the inverse of Node.String.
func ParseNode(s string) (Node, error) {
	for n, name := range nodeNames {
		if name == s {
			return n, nil
		}
	}
	return End, fmt.Errorf("unknown node %q", s)
}

func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Node) UnmarshalText(b []byte) error {
	parsed, err := ParseNode(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Event is the outcome of a hop that selects the next node.
type Event uint8

const (
	// EventNext follows an unconditional edge.
	EventNext Event = iota
	EventAnswerNow
	EventFulfillRequest
	EventProcessQuery
	EventCallTools
	EventExit
	EventContinue
)

func (e Event) String() string {
	switch e {
	case EventNext:
		return "next"
	case EventAnswerNow:
		return "answer right away"
	case EventFulfillRequest:
		return "process request"
	case EventProcessQuery:
		return "go to help desk"
	case EventCallTools:
		return "call tools"
	case EventExit:
		return "exit"
	case EventContinue:
		return "continue"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// RunConfig is the per-call configuration of one state machine run.
type RunConfig struct {
	ThreadID  string
	Namespace string
	// CheckpointID pins reads to one checkpoint instead of the latest.
	CheckpointID string
	// Forget resets the in-run message accumulator between plan steps. Nil means true.
	Forget *bool
	// TrimIntermediateSteps truncates long step results recorded in PastSteps.
	TrimIntermediateSteps bool
	RecursionLimit        int
}

// ForgetShortMemory resolves Forget with its default.
func (c RunConfig) ForgetShortMemory() bool {
	return c.Forget == nil || *c.Forget
}

// Limit returns the recursion ceiling, falling back to DefaultRecursionLimit.
func (c RunConfig) Limit() int {
	if c.RecursionLimit <= 0 {
		return DefaultRecursionLimit
	}
	return c.RecursionLimit
}

const (
	DefaultRecursionLimit = 50
	// MaxStepResultChars bounds a recorded step result when TrimIntermediateSteps is on.
	MaxStepResultChars = 2000
)

// RunInput is what a caller feeds into a run.
type RunInput struct {
	Input       string
	ChatHistory []*schema.Message
}
