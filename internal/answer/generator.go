// Package answer turns retrieved context chunks and a question into a
// streamed, cited answer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/docchat/internal/retrieval"
)

const defaultMaxContextWords = 3000

const promptTemplate = `You are a helpful assistant application.
Given the following context, answer the user's question as accurately and concisely as possible.

Context:
%s

Question:
%s

Instructions:
- Base your answer only on the provided context.
- If the answer is not found in the context, say "I could not find the answer in the provided information."
- Cite sources or document titles if available.

Answer:`

// noContextNotice replaces the context block when retrieval found nothing,
// so the model discloses the gap instead of fabricating citations.
const noContextNotice = `No relevant documents were found for this question.
State that you could not find relevant information in the uploaded documents. Do not invent sources or cite any document.`

// GenClient is the generation capability consumed by the Generator.
type GenClient interface {
	Generate(ctx context.Context, model, prompt string, onDelta func(string) error) error
}

// Source is one cited document, carrying the best-scoring chunk that
// grounded the answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	ChunkSeq   int     `json:"chunk_seq"`
	Score      float32 `json:"score"`
}

// Final is the terminal payload of an answer stream.
type Final struct {
	// Answer is the full generated text, partial when Incomplete.
	Answer         string
	Sources        []Source
	RetrievedCount int
	// ContextWords is the size in words of the context block sent to the
	// model.
	ContextWords int
	// Incomplete marks a stream cut short by a generation failure. The
	// deltas already delivered remain valid prefix text.
	Incomplete bool
	Err        error
}

// Fragment is one element of an answer stream: a text delta, or the
// terminal payload when Final is set.
type Fragment struct {
	Delta string
	Final *Final
}

// Generator assembles prompts from retrieved chunks and streams model
// output back to the caller.
type Generator struct {
	client          GenClient
	model           string
	maxContextWords int
}

// NewGenerator creates a Generator using the given client and model. If
// maxContextWords <= 0, it defaults to 3000.
func NewGenerator(client GenClient, model string, maxContextWords int) *Generator {
	if maxContextWords <= 0 {
		maxContextWords = defaultMaxContextWords
	}
	return &Generator{client: client, model: model, maxContextWords: maxContextWords}
}

// Generate streams an answer to question grounded on chunks, which must
// already be ordered by descending relevance. The returned channel yields
// text deltas and is closed after exactly one terminal Fragment carrying
// the Final payload. Cancelling ctx stops generation promptly; the
// terminal payload then reports the partial answer as incomplete.
func (g *Generator) Generate(ctx context.Context, question string, chunks []retrieval.ContextChunk) <-chan Fragment {
	out := make(chan Fragment, 8)
	go func() {
		defer close(out)
		g.run(ctx, question, chunks, out)
	}()
	return out
}

func (g *Generator) run(ctx context.Context, question string, chunks []retrieval.ContextChunk, out chan<- Fragment) {
	included, contextBlock, words := g.buildContext(chunks)

	block := contextBlock
	if len(included) == 0 {
		block = noContextNotice
	}
	prompt := fmt.Sprintf(promptTemplate, block, question)

	final := &Final{
		Sources:        dedupeSources(included),
		RetrievedCount: len(chunks),
		ContextWords:   words,
	}

	var sb strings.Builder
	err := g.client.Generate(ctx, g.model, prompt, func(delta string) error {
		sb.WriteString(delta)
		select {
		case out <- Fragment{Delta: delta}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	final.Answer = sb.String()
	if err != nil {
		final.Incomplete = true
		final.Err = err
	}

	select {
	case out <- Fragment{Final: final}:
	case <-ctx.Done():
	}
}

// buildContext assembles the context block highest-rank-first under the
// word budget. Chunks that would overflow the budget are dropped along
// with everything ranked below them.
func (g *Generator) buildContext(chunks []retrieval.ContextChunk) ([]retrieval.ContextChunk, string, int) {
	var (
		included []retrieval.ContextChunk
		blocks   []string
		words    int
	)
	for _, ch := range chunks {
		entry := fmt.Sprintf("[Source: %s (section %d)]\n%s", ch.Filename, ch.ChunkSeq+1, ch.Text)
		entryWords := len(strings.Fields(entry))
		if words+entryWords > g.maxContextWords && len(included) > 0 {
			break
		}
		included = append(included, ch)
		blocks = append(blocks, entry)
		words += entryWords
		if words >= g.maxContextWords {
			break
		}
	}
	return included, strings.Join(blocks, "\n\n"), words
}

// dedupeSources keeps the first (highest-ranked) chunk per document,
// preserving rank order.
func dedupeSources(chunks []retrieval.ContextChunk) []Source {
	seen := make(map[string]bool, len(chunks))
	var sources []Source
	for _, ch := range chunks {
		if seen[ch.DocumentID] {
			continue
		}
		seen[ch.DocumentID] = true
		sources = append(sources, Source{
			DocumentID: ch.DocumentID,
			Filename:   ch.Filename,
			ChunkSeq:   ch.ChunkSeq,
			Score:      ch.Score,
		})
	}
	return sources
}
