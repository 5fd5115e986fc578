// Package knowledge is the document store behind retrieval: a SQLite table of embedded chunks
// searched by cosine similarity.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	errx "github.com/chattabot/agent/internal/core/error"
	logx "github.com/chattabot/agent/pkg/logger"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL,
	created_at INTEGER NOT NULL
);`

// DefaultTopK is used when a Retrieve call does not ask for a count.
const DefaultTopK = 4

// Store keeps documents with their embeddings. It serves as both eino indexer and retriever.
type Store struct {
	db       *sql.DB
	embedder embedding.Embedder
	now      func() time.Time
}

func NewStore(ctx context.Context, db *sql.DB, embedder embedding.Embedder) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		logx.Error().Err(err).Msg("Failed to create documents table")
		return nil, errx.WrapSQL(err)
	}
	return &Store{db: db, embedder: embedder, now: time.Now}, nil
}

// Store embeds and upserts docs. Documents without an id get a new one.
func (s *Store) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	emb := s.embedder
	if o := indexer.GetCommonOptions(&indexer.Options{}, opts...); o.Embedding != nil {
		emb = o.Embedding
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := emb.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(docs))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		meta, err := json.Marshal(d.MetaData)
		if err != nil {
			return nil, fmt.Errorf("encode metadata of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, content, metadata, embedding, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata,
				embedding = excluded.embedding, created_at = excluded.created_at`,
			id, d.Content, string(meta), encodeEmbedding(vectors[i]), s.now().UnixNano()); err != nil {
			logx.Error().Err(err).Str("doc_id", id).Msg("Failed to store document")
			return nil, errx.WrapSQL(err)
		}
		ids[i] = id
	}
	if err := tx.Commit(); err != nil {
		return nil, errx.WrapSQL(err)
	}
	logx.Debug().Int("count", len(ids)).Msg("Documents stored")
	return ids, nil
}

// Retrieve returns the documents most similar to query, best first, with their cosine score set.
func (s *Store) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := DefaultTopK
	o := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)
	emb := s.embedder
	if o.Embedding != nil {
		emb = o.Embedding
	}

	vectors, err := emb.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	q := vectors[0]

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM documents`)
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()

	var docs []*schema.Document
	for rows.Next() {
		var (
			id, content, meta string
			blob              []byte
		)
		if err := rows.Scan(&id, &content, &meta, &blob); err != nil {
			return nil, errx.WrapSQL(err)
		}
		score := cosineSimilarity(q, decodeEmbedding(blob))
		if o.ScoreThreshold != nil && score < *o.ScoreThreshold {
			continue
		}
		doc := &schema.Document{ID: id, Content: content}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &doc.MetaData); err != nil {
				logx.Warn().Err(err).Str("doc_id", id).Msg("Unreadable document metadata")
			}
		}
		docs = append(docs, doc.WithScore(score))
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score() > docs[j].Score() })
	if o.TopK != nil && *o.TopK > 0 && len(docs) > *o.TopK {
		docs = docs[:*o.TopK]
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, errx.WrapSQL(err)
	}
	return n, nil
}

func encodeEmbedding(embedding []float64) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	return buf
}

func decodeEmbedding(data []byte) []float64 {
	result := make([]float64, len(data)/4)
	for i := range result {
		result[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return result
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var (
	_ indexer.Indexer     = (*Store)(nil)
	_ retriever.Retriever = (*Store)(nil)
)
