package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/docchat/internal/retrieval"
)

// fakeGenClient streams deltas and records the prompt it received.
type fakeGenClient struct {
	deltas []string
	err    error // returned after streaming deltas
	prompt string
}

func (f *fakeGenClient) Generate(ctx context.Context, model, prompt string, onDelta func(string) error) error {
	f.prompt = prompt
	for _, d := range f.deltas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return f.err
}

func chunk(docID, filename string, seq int, score float32, text string) retrieval.ContextChunk {
	return retrieval.ContextChunk{
		ChunkID:    docID + "-" + filename,
		DocumentID: docID,
		Filename:   filename,
		ChunkSeq:   seq,
		Text:       text,
		Score:      score,
	}
}

// collect drains a stream into its deltas and terminal payload.
func collect(t *testing.T, stream <-chan Fragment) ([]string, *Final) {
	t.Helper()
	var deltas []string
	var final *Final
	for f := range stream {
		if f.Final != nil {
			require.Nil(t, final, "more than one terminal fragment")
			final = f.Final
			continue
		}
		deltas = append(deltas, f.Delta)
	}
	require.NotNil(t, final, "stream ended without a terminal fragment")
	return deltas, final
}

func TestGenerateStreamsDeltasThenFinal(t *testing.T) {
	client := &fakeGenClient{deltas: []string{"The answer ", "is 42."}}
	g := NewGenerator(client, "llama3", 0)

	chunks := []retrieval.ContextChunk{
		chunk("doc-1", "guide.pdf", 2, 0.91, "the answer to everything is 42"),
	}
	deltas, final := collect(t, g.Generate(context.Background(), "what is the answer?", chunks))

	assert.Equal(t, []string{"The answer ", "is 42."}, deltas)
	assert.Equal(t, "The answer is 42.", final.Answer)
	assert.False(t, final.Incomplete)
	assert.NoError(t, final.Err)
	assert.Equal(t, 1, final.RetrievedCount)
	assert.Positive(t, final.ContextWords)
	require.Len(t, final.Sources, 1)
	assert.Equal(t, Source{DocumentID: "doc-1", Filename: "guide.pdf", ChunkSeq: 2, Score: 0.91}, final.Sources[0])
}

func TestGeneratePromptContainsContextAndQuestion(t *testing.T) {
	client := &fakeGenClient{deltas: []string{"ok"}}
	g := NewGenerator(client, "llama3", 0)

	chunks := []retrieval.ContextChunk{
		chunk("doc-1", "guide.pdf", 0, 0.9, "alpha beta gamma"),
	}
	collect(t, g.Generate(context.Background(), "what about alpha?", chunks))

	assert.Contains(t, client.prompt, "alpha beta gamma")
	assert.Contains(t, client.prompt, "what about alpha?")
	assert.Contains(t, client.prompt, "[Source: guide.pdf (section 1)]")
	assert.Contains(t, client.prompt, "Base your answer only on the provided context.")
}

func TestGenerateNoChunksDisclosesMissingGrounding(t *testing.T) {
	client := &fakeGenClient{deltas: []string{"I could not find the answer in the provided information."}}
	g := NewGenerator(client, "llama3", 0)

	_, final := collect(t, g.Generate(context.Background(), "anything?", nil))

	assert.Contains(t, client.prompt, "No relevant documents were found")
	assert.NotContains(t, client.prompt, "[Source:")
	assert.Empty(t, final.Sources)
	assert.Zero(t, final.RetrievedCount)
	assert.Zero(t, final.ContextWords)
	assert.False(t, final.Incomplete)
}

func TestGenerateWordBudgetDropsLowestRanked(t *testing.T) {
	client := &fakeGenClient{deltas: []string{"ok"}}
	g := NewGenerator(client, "llama3", 30)

	big := strings.Repeat("word ", 25)
	chunks := []retrieval.ContextChunk{
		chunk("doc-1", "a.txt", 0, 0.9, big),
		chunk("doc-2", "b.txt", 0, 0.8, big),
		chunk("doc-3", "c.txt", 0, 0.7, big),
	}
	_, final := collect(t, g.Generate(context.Background(), "q", chunks))

	assert.Contains(t, client.prompt, "a.txt")
	assert.NotContains(t, client.prompt, "b.txt")
	assert.NotContains(t, client.prompt, "c.txt")
	require.Len(t, final.Sources, 1, "dropped chunks must not be cited")
	assert.Equal(t, "doc-1", final.Sources[0].DocumentID)
	assert.Equal(t, 3, final.RetrievedCount, "retrieved count reports retrieval, not inclusion")
}

func TestGenerateOversizedFirstChunkStillIncluded(t *testing.T) {
	client := &fakeGenClient{deltas: []string{"ok"}}
	g := NewGenerator(client, "llama3", 5)

	chunks := []retrieval.ContextChunk{
		chunk("doc-1", "a.txt", 0, 0.9, strings.Repeat("word ", 50)),
	}
	_, final := collect(t, g.Generate(context.Background(), "q", chunks))

	require.Len(t, final.Sources, 1)
	assert.Contains(t, client.prompt, "a.txt")
}

func TestGenerateSourcesDedupedByDocument(t *testing.T) {
	client := &fakeGenClient{deltas: []string{"ok"}}
	g := NewGenerator(client, "llama3", 0)

	chunks := []retrieval.ContextChunk{
		chunk("doc-1", "a.txt", 3, 0.95, "one"),
		chunk("doc-2", "b.txt", 0, 0.90, "two"),
		chunk("doc-1", "a.txt", 7, 0.85, "three"),
	}
	_, final := collect(t, g.Generate(context.Background(), "q", chunks))

	require.Len(t, final.Sources, 2)
	assert.Equal(t, "doc-1", final.Sources[0].DocumentID)
	assert.Equal(t, 3, final.Sources[0].ChunkSeq, "citation carries the best-ranked chunk")
	assert.Equal(t, "doc-2", final.Sources[1].DocumentID)
}

func TestGenerateModelFailureMarksIncomplete(t *testing.T) {
	cause := errors.New("model connection reset")
	client := &fakeGenClient{deltas: []string{"partial "}, err: cause}
	g := NewGenerator(client, "llama3", 0)

	deltas, final := collect(t, g.Generate(context.Background(), "q", nil))

	assert.Equal(t, []string{"partial "}, deltas)
	assert.True(t, final.Incomplete)
	assert.ErrorIs(t, final.Err, cause)
	assert.Equal(t, "partial ", final.Answer, "partial text stays intact")
}

func TestGenerateCancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := &fakeGenClient{deltas: []string{"never"}}
	g := NewGenerator(blocked, "llama3", 0)

	stream := g.Generate(ctx, "q", nil)
	for range stream { // must terminate, not hang
	}
}
