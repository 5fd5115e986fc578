package knowledge

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// maxBatch is the largest number of texts sent in one embed request.
const maxBatch = 100

// GenaiEmbedder produces embeddings with the Gemini embedding endpoint.
type GenaiEmbedder struct {
	client *genai.Client
	model  string
}

func NewGenaiEmbedder(client *genai.Client, model string) *GenaiEmbedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &GenaiEmbedder{client: client, model: model}
}

func (e *GenaiEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("genai embed failed: %w", err)
		}
		if len(resp.Embeddings) != len(contents) {
			return nil, fmt.Errorf("genai embed: got %d embeddings for %d texts", len(resp.Embeddings), len(contents))
		}
		for _, emb := range resp.Embeddings {
			vec := make([]float64, len(emb.Values))
			for i, v := range emb.Values {
				vec[i] = float64(v)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

var _ embedding.Embedder = (*GenaiEmbedder)(nil)
