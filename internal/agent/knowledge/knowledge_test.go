package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chattabot/agent/pkg/sqlite"
)

var vocabulary = []string{"pool", "gym", "breakfast", "towel", "parking"}

// wordEmbedder maps text onto counts of the vocabulary words.
type wordEmbedder struct {
	err error
}

func (w wordEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(vocabulary))
		lower := strings.ToLower(text)
		for j, word := range vocabulary {
			vec[j] = float64(strings.Count(lower, word))
		}
		out[i] = vec
	}
	return out, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := sqlite.Config{Path: filepath.Join(t.TempDir(), "knowledge.db"), BusyTimeout: 5000, MaxConns: 1}
	db, err := cfg.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewStore(context.Background(), db, wordEmbedder{})
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.Store(context.Background(), []*schema.Document{
		{ID: "pool", Content: "The pool opens at 7am. Pool towels are at the desk.", MetaData: map[string]any{"source": "faq"}},
		{ID: "gym", Content: "The gym is on the second floor."},
		{ID: "breakfast", Content: "Breakfast is served from 6 to 10."},
	})
	require.NoError(t, err)
}

func TestStoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	docs, err := s.Retrieve(ctx, "when does the pool open", retriever.WithTopK(2))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "pool", docs[0].ID)
	assert.InDelta(t, 0.894, docs[0].Score(), 0.01)
	assert.Equal(t, "faq", docs[0].MetaData["source"])
	assert.GreaterOrEqual(t, docs[0].Score(), docs[1].Score())
}

func TestStoreUpsertsAndAssignsIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	ids, err := s.Store(ctx, []*schema.Document{
		{ID: "gym", Content: "The gym moved to the rooftop."},
		{Content: "Parking costs 10 a night."},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "gym", ids[0])
	assert.NotEmpty(t, ids[1])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	docs, err := s.Retrieve(ctx, "gym", retriever.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "The gym moved to the rooftop.", docs[0].Content)
}

func TestRetrieveScoreThreshold(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	docs, err := s.Retrieve(context.Background(), "gym", retriever.WithScoreThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "gym", docs[0].ID)
}

func TestEmbedderFailure(t *testing.T) {
	s := newTestStore(t)
	s.embedder = wordEmbedder{err: errors.New("quota")}

	_, err := s.Store(context.Background(), []*schema.Document{{Content: "x"}})
	assert.ErrorContains(t, err, "quota")
	_, err = s.Retrieve(context.Background(), "x")
	assert.ErrorContains(t, err, "quota")
}

type scored []*schema.Document

func (s scored) Retrieve(_ context.Context, _ string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{}, opts...)
	if o.TopK == nil {
		return nil, errors.New("top k not forwarded")
	}
	return s, nil
}

func doc(id string, score float64) *schema.Document {
	return (&schema.Document{ID: id}).WithScore(score)
}

func TestFilteredRetriever(t *testing.T) {
	inner := scored{doc("a", 0.91), doc("b", 0.60), doc("c", 0.75), doc("d", 0.61), doc("e", 0.99)}
	r := NewFilteredRetriever(inner, 3, 0.60)

	docs, err := r.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids, "a score equal to the minimum is dropped")
}

func TestFilteredRetrieverPropagatesErrors(t *testing.T) {
	s := newTestStore(t)
	s.embedder = wordEmbedder{err: errors.New("offline")}
	_, err := NewFilteredRetriever(s, 3, 0.6).Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "offline")
}

func TestSplitParagraphs(t *testing.T) {
	text := "First paragraph.\r\n\r\nSecond one.\n\n\n\nThird paragraph is longer than the rest."
	assert.Equal(t, []string{"First paragraph.\n\nSecond one.", "Third paragraph is longer than the rest."}, SplitParagraphs(text, 40))
	assert.Len(t, SplitParagraphs(text, 0), 1)
	assert.Empty(t, SplitParagraphs(" \n\n ", 10))

	docs := Documents("faq.txt", []string{"a", "b"})
	require.Len(t, docs, 2)
	assert.Equal(t, "faq.txt#1", docs[1].ID)
	assert.Equal(t, "faq.txt", docs[1].MetaData["source"])
}
