package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// GenaiTokenCounter counts prompt tokens with the Gemini CountTokens endpoint.
type GenaiTokenCounter struct {
	client *genai.Client
	model  string
}

func NewGenaiTokenCounter(client *genai.Client, model string) *GenaiTokenCounter {
	return &GenaiTokenCounter{client: client, model: model}
}

func (c *GenaiTokenCounter) CountTokens(ctx context.Context, msgs []*schema.Message) (int, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Content == "" {
			continue
		}
		role := genai.RoleUser
		if m.Role == schema.Assistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	if len(contents) == 0 {
		return 0, nil
	}

	resp, err := c.client.Models.CountTokens(ctx, c.model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return int(resp.TotalTokens), nil
}
