package knowledge

import (
	"context"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	logx "github.com/chattabot/agent/pkg/logger"
)

// FilteredRetriever asks inner for TopK documents and keeps those scoring strictly above MinScore.
type FilteredRetriever struct {
	inner    retriever.Retriever
	topK     int
	minScore float64
}

func NewFilteredRetriever(inner retriever.Retriever, topK int, minScore float64) *FilteredRetriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &FilteredRetriever{inner: inner, topK: topK, minScore: minScore}
}

func (r *FilteredRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	opts = append([]retriever.Option{retriever.WithTopK(r.topK)}, opts...)
	docs, err := r.inner.Retrieve(ctx, query, opts...)
	if err != nil {
		return nil, err
	}

	kept := make([]*schema.Document, 0, len(docs))
	for _, d := range docs {
		if d == nil || d.Score() <= r.minScore {
			continue
		}
		kept = append(kept, d)
		if len(kept) == r.topK {
			break
		}
	}
	logx.Debug().Str("query", query).Int("candidates", len(docs)).Int("kept", len(kept)).Msg("Documents retrieved")
	return kept, nil
}

var _ retriever.Retriever = (*FilteredRetriever)(nil)
