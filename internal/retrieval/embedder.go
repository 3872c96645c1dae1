package retrieval

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EmbedClient is the embedding capability consumed by the Embedder.
type EmbedClient interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Embedder maps texts into the embedding space shared by ingestion and
// queries.
type Embedder struct {
	client    EmbedClient
	model     string
	batchSize int
}

// NewEmbedder creates an Embedder using the given client and model name.
// If batchSize <= 0, it defaults to 16.
func NewEmbedder(client EmbedClient, model string, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Embedder{client: client, model: model, batchSize: batchSize}
}

// EmbedQuery returns the embedding vector for a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per text, in input order. Texts are
// split into fixed-size batches embedded concurrently; any batch failure
// fails the whole call so no caller ever indexes a partial document.
// Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, onBatch func(done, total int)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the backend.

	total := (len(texts) + e.batchSize - 1) / e.batchSize
	var mu sync.Mutex
	done := 0
	for start := 0; start < len(texts); start += e.batchSize {
		start := start
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := e.client.Embed(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", start, err)
			}
			copy(results[start:end], vecs)
			if onBatch != nil {
				mu.Lock()
				done++
				onBatch(done, total)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
