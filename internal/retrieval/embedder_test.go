package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedClient generates distinct vectors per text and records calls.
type countingEmbedClient struct {
	mu      sync.Mutex
	batches [][]string
	failOn  string
}

func (c *countingEmbedClient) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batches = append(c.batches, texts)
	c.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == c.failOn {
			return nil, errors.New("embed backend failure")
		}
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	client := &countingEmbedClient{}
	e := NewEmbedder(client, "m", 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts, nil)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], "vector %d out of order", i)
	}
	// 5 texts in batches of 2 -> 3 calls.
	assert.Len(t, client.batches, 3)
}

func TestEmbedBatchAllOrNothing(t *testing.T) {
	client := &countingEmbedClient{failOn: "poison"}
	e := NewEmbedder(client, "m", 2)

	_, err := e.EmbedBatch(context.Background(), []string{"ok", "fine", "poison", "more"}, nil)
	assert.Error(t, err)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	e := NewEmbedder(&countingEmbedClient{}, "m", 2)

	vecs, err := e.EmbedBatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedBatchReportsProgress(t *testing.T) {
	client := &countingEmbedClient{}
	e := NewEmbedder(client, "m", 3)

	var mu sync.Mutex
	var seen []string
	texts := make([]string, 7) // 3 batches
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}

	_, err := e.EmbedBatch(context.Background(), texts, func(done, total int) {
		mu.Lock()
		seen = append(seen, fmt.Sprintf("%d/%d", done, total))
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.Contains(t, seen, "3/3")
}

func TestEmbedQuery(t *testing.T) {
	client := &countingEmbedClient{}
	e := NewEmbedder(client, "m", 0)

	vec, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, vec)
}
