package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/docchat/internal/chunker"
	"github.com/kalambet/docchat/internal/progress"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

type fakeDocs struct {
	mu       sync.Mutex
	statuses []string
	chunks   []storage.Chunk

	statusErr error
	chunksErr error
}

func (f *fakeDocs) UpdateDocumentStatus(id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeDocs) SaveChunks(chunks []storage.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunksErr != nil {
		return f.chunksErr
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeDocs) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
	seq  int
	fail bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{data: map[string][]byte{}}
}

func (f *fakeBlobs) Put(name string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	location := fmt.Sprintf("%d_%s", f.seq, name)
	f.data[location] = data
	return location, nil
}

func (f *fakeBlobs) Get(location string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("disk unavailable")
	}
	data, ok := f.data[location]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func (f *fakeBlobs) Delete(location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, location)
	return nil
}

func (f *fakeBlobs) has(suffix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for location := range f.data {
		if strings.HasSuffix(location, suffix) {
			return true
		}
	}
	return false
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return string(data), nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string, onBatch func(done, total int)) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i), 1}
	}
	if onBatch != nil {
		onBatch(1, 1)
	}
	return vecs, nil
}

type fakeVectors struct {
	mu      sync.Mutex
	records []retrieval.Record
	err     error
}

func (f *fakeVectors) Upsert(records []retrieval.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeVectors) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fixture struct {
	docs    *fakeDocs
	blobs   *fakeBlobs
	extract *fakeExtractor
	embed   *fakeEmbedder
	vectors *fakeVectors
	tracker *progress.Tracker
	orch    *Orchestrator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		docs:    &fakeDocs{},
		blobs:   newFakeBlobs(),
		extract: &fakeExtractor{},
		embed:   &fakeEmbedder{},
		vectors: &fakeVectors{},
		tracker: progress.NewTracker(time.Hour),
	}
	ch, err := chunker.New(800, 175)
	require.NoError(t, err)
	f.orch, err = NewOrchestrator(f.docs, f.blobs, f.extract, ch, f.embed, f.vectors, f.tracker, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		f.orch.Close()
		f.tracker.Close()
	})
	return f
}

func (f *fixture) upload(t *testing.T, text string) storage.Document {
	t.Helper()
	location, err := f.blobs.Put("doc.txt", []byte(text))
	require.NoError(t, err)
	return storage.Document{
		ID:          "doc-1",
		Filename:    "doc.txt",
		ContentType: "text/plain",
		SizeBytes:   int64(len(text)),
		Location:    location,
		Status:      storage.StatusUploaded,
	}
}

// processSync runs the pipeline on the calling goroutine.
func (f *fixture) processSync(doc storage.Document) {
	f.tracker.Start(doc.ID, doc.Filename)
	f.orch.process(context.Background(), doc)
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, strings.Repeat("a", 3000))

	f.processSync(doc)

	assert.Equal(t, storage.StatusIndexed, f.docs.lastStatus())
	assert.Len(t, f.docs.chunks, 5)
	assert.Equal(t, 5, f.vectors.count())

	state, ok := f.tracker.Snapshot(doc.ID)
	require.True(t, ok)
	assert.Equal(t, progress.StageCompleted, state.CurrentStage)
	assert.Equal(t, 100, state.Percent)
	require.NotNil(t, state.Stats)
	assert.Equal(t, progress.Stats{ChunkCount: 5, EmbeddingCount: 5, TextLength: 3000}, *state.Stats)
}

func TestProcessChunkMetadata(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, strings.Repeat("b", 1000))

	f.processSync(doc)

	require.Len(t, f.docs.chunks, 2)
	first, second := f.docs.chunks[0], f.docs.chunks[1]
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 0, first.StartOffset)
	assert.Equal(t, 800, first.EndOffset)
	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, 625, second.StartOffset)
	assert.Equal(t, 1000, second.EndOffset)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, doc.ID, first.DocumentID)

	require.Equal(t, 2, f.vectors.count())
	assert.Equal(t, first.ID, f.vectors.records[0].ChunkID)
	assert.Equal(t, doc.Filename, f.vectors.records[0].Filename)
}

func TestProcessBlobReadFailure(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, "hello")
	f.blobs.fail = true

	f.processSync(doc)

	assert.Equal(t, storage.StatusFailed, f.docs.lastStatus())
	state, _ := f.tracker.Snapshot(doc.ID)
	assert.Equal(t, progress.StageFailed, state.CurrentStage)
	assert.Equal(t, progress.StepFailed, state.Stages[progress.StageExtracting].Status)
	assert.Contains(t, state.Error, "disk unavailable")
}

func TestProcessExtractFailure(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, "ignored")
	f.extract.err = errors.New("document contains no extractable text")

	f.processSync(doc)

	assert.Equal(t, storage.StatusFailed, f.docs.lastStatus())
	assert.Empty(t, f.docs.chunks)
	assert.Zero(t, f.vectors.count())

	state, _ := f.tracker.Snapshot(doc.ID)
	assert.Equal(t, progress.StageFailed, state.CurrentStage)
	assert.Equal(t, "document contains no extractable text", state.Error)
}

func TestProcessEmbedFailureLeavesNoVectors(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, strings.Repeat("c", 2000))
	f.embed.err = errors.New("model not found")

	f.processSync(doc)

	assert.Equal(t, storage.StatusFailed, f.docs.lastStatus())
	assert.Zero(t, f.vectors.count(), "failed embedding must index nothing")

	state, _ := f.tracker.Snapshot(doc.ID)
	assert.Equal(t, progress.StageFailed, state.CurrentStage)
	assert.Equal(t, progress.StepFailed, state.Stages[progress.StageEmbedding].Status)
	assert.Contains(t, state.Error, "model not found")
}

func TestProcessIndexFailure(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, "short text")
	f.vectors.err = errors.New("database is locked")

	f.processSync(doc)

	assert.Equal(t, storage.StatusFailed, f.docs.lastStatus())
	state, _ := f.tracker.Snapshot(doc.ID)
	assert.Equal(t, progress.StepFailed, state.Stages[progress.StageIndexing].Status)
}

func TestProcessSaveChunksFailure(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, "short text")
	f.docs.chunksErr = errors.New("disk full")

	f.processSync(doc)

	assert.Equal(t, storage.StatusFailed, f.docs.lastStatus())
	state, _ := f.tracker.Snapshot(doc.ID)
	assert.Equal(t, progress.StepFailed, state.Stages[progress.StageChunking].Status)
}

func TestKeepFailedText(t *testing.T) {
	f := newFixture(t, Options{KeepFailedText: true})
	doc := f.upload(t, "some extracted text")
	f.embed.err = errors.New("model not found")

	f.processSync(doc)

	assert.True(t, f.blobs.has(doc.ID+".extracted.txt"), "extracted text should be kept for postmortem")
}

func TestKeepFailedTextDisabledByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.upload(t, "some extracted text")
	f.embed.err = errors.New("model not found")

	f.processSync(doc)

	assert.False(t, f.blobs.has(doc.ID+".extracted.txt"))
}

func TestBeginRunsAsynchronously(t *testing.T) {
	f := newFixture(t, Options{Workers: 2})
	doc := f.upload(t, strings.Repeat("d", 3000))

	f.orch.Begin(doc)

	sub, err := f.tracker.Subscribe(doc.ID)
	require.NoError(t, err)
	defer sub.Cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case state, ok := <-sub.States:
			if !ok {
				t.Fatal("stream closed before terminal state observed")
			}
			if state.Terminal() {
				assert.Equal(t, progress.StageCompleted, state.CurrentStage)
				assert.Equal(t, storage.StatusIndexed, f.docs.lastStatus())
				return
			}
		case <-deadline:
			t.Fatal("ingestion did not finish in time")
		}
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &StageError{Stage: progress.StageEmbedding, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "embedding")
}
