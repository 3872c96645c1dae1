// Package ingest runs the document processing pipeline: extract, chunk,
// embed, index. Each document is processed by one task on a bounded
// worker pool; progress is reported through the progress tracker and the
// document's durable status.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kalambet/docchat/internal/blob"
	"github.com/kalambet/docchat/internal/chunker"
	"github.com/kalambet/docchat/internal/progress"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

// DocumentStore persists chunk rows and document status transitions.
type DocumentStore interface {
	UpdateDocumentStatus(id, status string) error
	SaveChunks(chunks []storage.Chunk) error
}

// Extractor turns raw file bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// TextEmbedder generates one embedding per text, reporting batch progress.
type TextEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, onBatch func(done, total int)) ([][]float32, error)
}

// VectorIndex inserts a document's records into the search index.
type VectorIndex interface {
	Upsert(records []retrieval.Record) error
}

// StageError is a pipeline failure attributed to the stage it happened in.
// Its message is what document watchers see as the failure reason.
type StageError struct {
	Stage progress.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage progress.Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Options tune the orchestrator.
type Options struct {
	// Workers bounds how many documents are processed concurrently.
	// Defaults to 4.
	Workers int

	// KeepFailedText saves the extracted text alongside the original blob
	// when ingestion fails after extraction, for postmortem inspection.
	KeepFailedText bool
}

// Orchestrator schedules and runs document ingestion. Failures never
// escape a task: they end in a failed document status and a terminal
// progress state.
type Orchestrator struct {
	docs      DocumentStore
	blobs     blob.Store
	extractor Extractor
	chunker   *chunker.Chunker
	embedder  TextEmbedder
	vectors   VectorIndex
	tracker   *progress.Tracker

	pool           *ants.Pool
	keepFailedText bool
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator with the given dependencies and
// starts its worker pool.
func NewOrchestrator(docs DocumentStore, blobs blob.Store, extractor Extractor, ch *chunker.Chunker, embedder TextEmbedder, vectors VectorIndex, tracker *progress.Tracker, opts Options) (*Orchestrator, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		docs:           docs,
		blobs:          blobs,
		extractor:      extractor,
		chunker:        ch,
		embedder:       embedder,
		vectors:        vectors,
		tracker:        tracker,
		pool:           pool,
		keepFailedText: opts.KeepFailedText,
		logger:         slog.Default(),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Close cancels in-flight tasks, waits for them to finish, and releases
// the worker pool.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
	o.pool.Release()
}

// Begin schedules ingestion of an uploaded document and returns
// immediately. When the pool is saturated the task waits for a worker in
// the background; the caller is never blocked.
func (o *Orchestrator) Begin(doc storage.Document) {
	o.tracker.Start(doc.ID, doc.Filename)
	o.wg.Add(1)
	go func() {
		if err := o.pool.Submit(func() {
			defer o.wg.Done()
			o.process(o.ctx, doc)
		}); err != nil {
			o.wg.Done()
			o.logger.Error("scheduling ingestion failed", "document_id", doc.ID, "error", err)
			o.fail(doc, "", progress.StageExtracting, fmt.Errorf("scheduling ingestion: %w", err))
		}
	}()
}

// process runs the whole pipeline for one document.
func (o *Orchestrator) process(ctx context.Context, doc storage.Document) {
	started := time.Now()
	logger := o.logger.With("document_id", doc.ID, "filename", doc.Filename)

	if err := o.docs.UpdateDocumentStatus(doc.ID, storage.StatusProcessing); err != nil {
		logger.Error("marking document processing failed", "error", err)
		o.fail(doc, "", progress.StageExtracting, err)
		return
	}

	text, stats, serr := o.run(ctx, doc)
	if serr != nil {
		logger.Warn("ingestion failed", "stage", string(serr.Stage), "error", serr.Err)
		o.fail(doc, text, serr.Stage, serr.Err)
		return
	}

	if err := o.docs.UpdateDocumentStatus(doc.ID, storage.StatusIndexed); err != nil {
		logger.Error("marking document indexed failed", "error", err)
		o.fail(doc, text, progress.StageIndexing, err)
		return
	}
	o.tracker.Complete(doc.ID, stats)
	logger.Info("document indexed",
		"chunks", stats.ChunkCount,
		"text_length", stats.TextLength,
		"elapsed", time.Since(started))
}

func (o *Orchestrator) run(ctx context.Context, doc storage.Document) (string, progress.Stats, *StageError) {
	var stats progress.Stats

	o.tracker.Advance(doc.ID, progress.StageExtracting, "")
	data, err := o.blobs.Get(doc.Location)
	if err != nil {
		return "", stats, stageErr(progress.StageExtracting, "reading stored file: %w", err)
	}
	text, err := o.extractor.Extract(ctx, data, doc.ContentType)
	if err != nil {
		return "", stats, &StageError{Stage: progress.StageExtracting, Err: err}
	}
	stats.TextLength = utf8.RuneCountInString(text)

	o.tracker.Advance(doc.ID, progress.StageChunking, "")
	fragments := o.chunker.Split(text)
	if len(fragments) == 0 {
		return text, stats, stageErr(progress.StageChunking, "no text to chunk")
	}
	chunks := make([]storage.Chunk, len(fragments))
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		chunks[i] = storage.Chunk{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			Seq:         f.Index,
			Text:        f.Text,
			StartOffset: f.Start,
			EndOffset:   f.End,
		}
		texts[i] = f.Text
	}
	if err := o.docs.SaveChunks(chunks); err != nil {
		return text, stats, stageErr(progress.StageChunking, "saving chunks: %w", err)
	}
	stats.ChunkCount = len(chunks)

	o.tracker.Advance(doc.ID, progress.StageEmbedding,
		fmt.Sprintf("Generating embeddings for %d chunks", len(chunks)))
	vectors, err := o.embedder.EmbedBatch(ctx, texts, func(done, total int) {
		o.tracker.EmbeddingProgress(doc.ID, done, total)
	})
	if err != nil {
		return text, stats, &StageError{Stage: progress.StageEmbedding, Err: err}
	}
	if len(vectors) != len(chunks) {
		return text, stats, stageErr(progress.StageEmbedding,
			"got %d embeddings for %d chunks", len(vectors), len(chunks))
	}
	stats.EmbeddingCount = len(vectors)

	o.tracker.Advance(doc.ID, progress.StageIndexing, "")
	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, c := range chunks {
		records[i] = retrieval.Record{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			ChunkSeq:   c.Seq,
			TextChunk:  c.Text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}
	if err := o.vectors.Upsert(records); err != nil {
		return text, stats, stageErr(progress.StageIndexing, "indexing vectors: %w", err)
	}

	return text, stats, nil
}

// fail records a terminal failure on both the durable document row and
// the progress stream.
func (o *Orchestrator) fail(doc storage.Document, text string, stage progress.Stage, cause error) {
	if err := o.docs.UpdateDocumentStatus(doc.ID, storage.StatusFailed); err != nil {
		o.logger.Error("marking document failed", "document_id", doc.ID, "error", err)
	}
	o.tracker.Fail(doc.ID, stage, cause.Error())

	if o.keepFailedText && text != "" {
		location, err := o.blobs.Put(doc.ID+".extracted.txt", []byte(text))
		if err != nil {
			o.logger.Warn("keeping extracted text failed", "document_id", doc.ID, "error", err)
			return
		}
		o.logger.Info("kept extracted text", "document_id", doc.ID, "location", location)
	}
}
