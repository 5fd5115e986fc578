package conversations

import (
	"context"

	"github.com/chattabot/agent/internal/agent/model"
	logx "github.com/chattabot/agent/pkg/logger"

	"github.com/cloudwego/eino/schema"
)

// MessagesManager reads and writes a session's durable chat history.
type MessagesManager struct {
	conversationRepo model.ConversationRepository
	trimmer          Trimmer
}

func NewMessagesManager(conversationRepo model.ConversationRepository, trimmer Trimmer) *MessagesManager {
	if trimmer == nil {
		trimmer = NoTrimmer{}
	}
	return &MessagesManager{
		conversationRepo: conversationRepo,
		trimmer:          trimmer,
	}
}

// LoadContext returns the trimmed history for a run. A failed load is logged and treated as empty history.
func (cm *MessagesManager) LoadContext(ctx context.Context, sessionID string) []*schema.Message {
	history, err := cm.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		logx.Error().Err(err).Str("sessionID", sessionID).Msg("failed to load chat history; continuing without it")
		return nil
	}

	messages := make([]*schema.Message, 0, len(history.Messages))
	for _, msg := range history.Messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		messages = append(messages, msg)
	}

	trimmed, err := cm.trimmer.Trim(ctx, messages)
	if err != nil {
		logx.Warn().Err(err).Str("sessionID", sessionID).Msg("failed to trim chat history; using full history")
		return messages
	}
	return trimmed
}

// SaveExchange appends the question and its answer as one pair.
func (cm *MessagesManager) SaveExchange(ctx context.Context, sessionID, question, answer string) error {
	return cm.conversationRepo.AddMessages(ctx, sessionID,
		schema.UserMessage(question),
		schema.AssistantMessage(answer, nil),
	)
}

// Clear deletes the session's history.
func (cm *MessagesManager) Clear(ctx context.Context, sessionID string) error {
	return cm.conversationRepo.ClearHistory(ctx, sessionID)
}

// History returns the full stored history.
func (cm *MessagesManager) History(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return history.Messages, nil
}
