package model

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Channel names one field of State that nodes write to.
type Channel string

const (
	ChannelInput            Channel = "input"
	ChannelChatHistory      Channel = "chat_history"
	ChannelMessages         Channel = "messages"
	ChannelRetrievedContext Channel = "retrieved_context"
	ChannelPlan             Channel = "plan"
	ChannelPastSteps        Channel = "past_steps"
	ChannelResponse         Channel = "response"
	ChannelError            Channel = "error"
)

// StepResult pairs an executed plan step with what the agent produced for it.
type StepResult struct {
	Step   string `json:"step"`
	Result string `json:"result"`
}

// State is the conversation state carried between hops of one run.
// Response is non-nil only when the run is about to terminate.
type State struct {
	Input            string            `json:"input"`
	ChatHistory      []*schema.Message `json:"chat_history,omitempty"`
	Messages         []*schema.Message `json:"messages,omitempty"`
	RetrievedContext *string           `json:"retrieved_context,omitempty"`
	Plan             []string          `json:"plan,omitempty"`
	PastSteps        []StepResult      `json:"past_steps,omitempty"`
	Response         *string           `json:"response,omitempty"`
	Error            *string           `json:"error,omitempty"`
	IsLastStep       bool              `json:"is_last_step"`
}

// LastMessage returns the newest in-run message or nil.
func (s *State) LastMessage() *schema.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// Context returns the retrieved context or an empty string.
func (s *State) Context() string {
	if s.RetrievedContext == nil {
		return ""
	}
	return *s.RetrievedContext
}

// Answer returns the terminal response or an empty string.
func (s *State) Answer() string {
	if s.Response == nil {
		return ""
	}
	return *s.Response
}

// Update is the partial state a node returns. Zero fields leave their channel untouched.
type Update struct {
	Input       *string
	ChatHistory []*schema.Message

	// Messages are appended after the accumulator is emptied when ForgetMessages is set.
	Messages       []*schema.Message
	ForgetMessages bool

	RetrievedContext      *string
	ClearRetrievedContext bool

	Plan []string

	PastSteps      []StepResult
	ResetPastSteps bool

	Response      *string
	ClearResponse bool

	Error      *string
	ClearError bool
}

// Write is one channel assignment. A JSON null value resets the channel.
type Write struct {
	Channel Channel         `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

var null = json.RawMessage("null")

// Writes flattens the update into ordered channel writes. Resets come before appends on the same channel.
func (u Update) Writes() ([]Write, error) {
	var writes []Write
	add := func(ch Channel, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ch, err)
		}
		writes = append(writes, Write{Channel: ch, Value: raw})
		return nil
	}
	reset := func(ch Channel) {
		writes = append(writes, Write{Channel: ch, Value: null})
	}

	if u.Input != nil {
		if err := add(ChannelInput, *u.Input); err != nil {
			return nil, err
		}
	}
	if u.ChatHistory != nil {
		if err := add(ChannelChatHistory, u.ChatHistory); err != nil {
			return nil, err
		}
	}
	if u.ForgetMessages {
		reset(ChannelMessages)
	}
	if len(u.Messages) > 0 {
		if err := add(ChannelMessages, u.Messages); err != nil {
			return nil, err
		}
	}
	switch {
	case u.RetrievedContext != nil:
		if err := add(ChannelRetrievedContext, *u.RetrievedContext); err != nil {
			return nil, err
		}
	case u.ClearRetrievedContext:
		reset(ChannelRetrievedContext)
	}
	if u.Plan != nil {
		if err := add(ChannelPlan, u.Plan); err != nil {
			return nil, err
		}
	}
	if u.ResetPastSteps {
		reset(ChannelPastSteps)
	}
	if len(u.PastSteps) > 0 {
		if err := add(ChannelPastSteps, u.PastSteps); err != nil {
			return nil, err
		}
	}
	switch {
	case u.Response != nil:
		if err := add(ChannelResponse, *u.Response); err != nil {
			return nil, err
		}
	case u.ClearResponse:
		reset(ChannelResponse)
	}
	switch {
	case u.Error != nil:
		if err := add(ChannelError, *u.Error); err != nil {
			return nil, err
		}
	case u.ClearError:
		reset(ChannelError)
	}
	return writes, nil
}

// Apply folds writes into the state. messages and past_steps append, every other channel replaces.
func (s *State) Apply(writes []Write) error {
	for _, w := range writes {
		if err := s.apply(w); err != nil {
			return fmt.Errorf("apply %s: %w", w.Channel, err)
		}
	}
	return nil
}

func (s *State) apply(w Write) error {
	isNull := len(w.Value) == 0 || string(w.Value) == "null"

	switch w.Channel {
	case ChannelInput:
		if isNull {
			s.Input = ""
			return nil
		}
		return json.Unmarshal(w.Value, &s.Input)
	case ChannelChatHistory:
		if isNull {
			s.ChatHistory = nil
			return nil
		}
		var msgs []*schema.Message
		if err := json.Unmarshal(w.Value, &msgs); err != nil {
			return err
		}
		s.ChatHistory = msgs
	case ChannelMessages:
		if isNull {
			s.Messages = nil
			return nil
		}
		var msgs []*schema.Message
		if err := json.Unmarshal(w.Value, &msgs); err != nil {
			return err
		}
		s.Messages = append(s.Messages, msgs...)
	case ChannelRetrievedContext:
		s.RetrievedContext = nil
		if isNull {
			return nil
		}
		return json.Unmarshal(w.Value, &s.RetrievedContext)
	case ChannelPlan:
		if isNull {
			s.Plan = nil
			return nil
		}
		var plan []string
		if err := json.Unmarshal(w.Value, &plan); err != nil {
			return err
		}
		s.Plan = plan
	case ChannelPastSteps:
		if isNull {
			s.PastSteps = nil
			return nil
		}
		var steps []StepResult
		if err := json.Unmarshal(w.Value, &steps); err != nil {
			return err
		}
		s.PastSteps = append(s.PastSteps, steps...)
	case ChannelResponse:
		s.Response = nil
		if isNull {
			return nil
		}
		return json.Unmarshal(w.Value, &s.Response)
	case ChannelError:
		s.Error = nil
		if isNull {
			return nil
		}
		return json.Unmarshal(w.Value, &s.Error)
	default:
		return fmt.Errorf("unknown channel")
	}
	return nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
