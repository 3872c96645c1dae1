package retrieval

import (
	"context"
	"fmt"
	"time"
)

// ContextChunk is a retrieved fragment with its similarity score, carrying
// enough denormalized metadata to present a citation without a join.
type ContextChunk struct {
	ChunkID    string
	DocumentID string
	Filename   string
	ChunkSeq   int
	Text       string
	Score      float32
	CreatedAt  time.Time
}

// Query describes one retrieval request.
type Query struct {
	Text string
	// TopK is the maximum number of chunks returned.
	TopK int
	// MinSimilarity drops results scoring below it. Scores are cosine
	// similarity in [-1, 1]; a threshold above 1 therefore always yields
	// an empty result, never an error.
	MinSimilarity float64
	// DocumentID, when non-empty, restricts the search to one document.
	DocumentID string
}

// Retriever combines embedding and vector search to find relevant context.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the chunks clearing the similarity
// threshold, ordered by descending score, ties broken by ascending chunk
// sequence. An empty result is a normal outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]ContextChunk, error) {
	if q.TopK <= 0 {
		q.TopK = 5
	}

	vec, err := r.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(vec, q.TopK, q.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	var chunks []ContextChunk
	for _, s := range scored {
		if float64(s.Score) < q.MinSimilarity {
			continue
		}
		chunks = append(chunks, ContextChunk{
			ChunkID:    s.ChunkID,
			DocumentID: s.DocumentID,
			Filename:   s.Filename,
			ChunkSeq:   s.ChunkSeq,
			Text:       s.TextChunk,
			Score:      s.Score,
			CreatedAt:  s.CreatedAt,
		})
	}
	return chunks, nil
}
