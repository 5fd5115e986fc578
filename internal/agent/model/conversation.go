package model

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessages appends messages to the session's history in order.
	AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error

	// LoadHistory retrieves the session's history, oldest first.
	LoadHistory(ctx context.Context, sessionID string) (*ConversationHistory, error)

	// ClearHistory removes all history for a session.
	ClearHistory(ctx context.Context, sessionID string) error

	// GetMessageCount returns the number of stored messages.
	GetMessageCount(ctx context.Context, sessionID string) (int, error)
}

// ConversationHistory represents loaded conversation data with metadata.
type ConversationHistory struct {
	SessionID string
	Messages  []*schema.Message
}

// ConversationMessage is one stored history document.
type ConversationMessage struct {
	SessionID string    `json:"SessionId"`
	History   string    `json:"History"`
	CreatedAt time.Time `json:"created_at"`
}
