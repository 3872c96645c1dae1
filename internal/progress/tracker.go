package progress

import (
	"errors"
	"sync"
	"time"
)

// ErrUnknownDocument is returned when no progress record exists for an id.
var ErrUnknownDocument = errors.New("no progress record for document")

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls further behind loses its oldest pending update; the latest
// state (and therefore the terminal state) always gets through.
const subscriberBuffer = 16

type subscriber struct {
	ch     chan State
	closed bool
}

type docProgress struct {
	state      State
	subs       map[int]*subscriber
	nextSubID  int
	terminalAt time.Time // zero until terminal
}

// Tracker holds per-document progress records and fans updates out to
// subscribers. One tracker is created at server start and owns a janitor
// goroutine that removes terminal records after the retention window.
//
// Concurrency: each document has a single writer (its orchestrator task);
// subscribers on any document read concurrently. All state access goes
// through one mutex, never held across a channel send that could block.
type Tracker struct {
	mu        sync.Mutex
	docs      map[string]*docProgress
	retention time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTracker creates a Tracker whose terminal records live for retention
// after completing or failing. If retention <= 0, it defaults to 10 minutes.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	t := &Tracker{
		docs:      make(map[string]*docProgress),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go t.janitor()
	return t
}

// Close stops the janitor and closes all subscriber streams.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, doc := range t.docs {
		for _, sub := range doc.subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		doc.subs = map[int]*subscriber{}
	}
}

func (t *Tracker) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

func (t *Tracker) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, doc := range t.docs {
		if !doc.terminalAt.IsZero() && now.Sub(doc.terminalAt) > t.retention {
			delete(t.docs, id)
		}
	}
}

// Start creates the progress record for a document with the uploading
// stage active. The percentage starts at a small non-zero value so
// subscribers observe liveness before the heavy stages begin.
func (t *Tracker) Start(documentID, filename string) {
	now := time.Now().UTC()
	stages := make(map[Stage]StageRecord, len(pipelineStages))
	for _, stage := range pipelineStages {
		stages[stage] = StageRecord{Status: StepPending, Message: defaultMessage(stage)}
	}
	ts := now
	stages[StageUploading] = StageRecord{Status: StepActive, Message: defaultMessage(StageUploading), Timestamp: &ts}

	t.mu.Lock()
	defer t.mu.Unlock()
	doc := &docProgress{
		state: State{
			DocumentID:   documentID,
			Filename:     filename,
			CurrentStage: StageUploading,
			Percent:      5,
			Stages:       stages,
			StartedAt:    now,
		},
		subs: make(map[int]*subscriber),
	}
	t.docs[documentID] = doc
	t.publishLocked(doc)
}

func defaultMessage(stage Stage) string {
	switch stage {
	case StageUploading:
		return "Receiving file"
	case StageExtracting:
		return "Extracting text"
	case StageChunking:
		return "Creating chunks"
	case StageEmbedding:
		return "Generating embeddings"
	case StageIndexing:
		return "Indexing document"
	default:
		return ""
	}
}

// Advance moves a document to the given pipeline stage. Transitions are
// strictly forward: a stage at or before the current one is ignored, as is
// any update after a terminal state. Earlier stages are marked completed.
func (t *Tracker) Advance(documentID string, stage Stage, message string) {
	order, ok := stageOrder[stage]
	if !ok || stage == StageCompleted {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[documentID]
	if doc == nil || doc.state.Terminal() {
		return
	}
	current := stageOrder[doc.state.CurrentStage]
	if order <= current {
		return
	}

	now := time.Now().UTC()
	for _, s := range pipelineStages {
		idx := stageOrder[s]
		switch {
		case idx < order:
			rec := doc.state.Stages[s]
			rec.Status = StepCompleted
			if rec.Timestamp == nil {
				ts := now
				rec.Timestamp = &ts
			}
			doc.state.Stages[s] = rec
		case idx == order:
			ts := now
			rec := doc.state.Stages[s]
			rec.Status = StepActive
			rec.Timestamp = &ts
			if message != "" {
				rec.Message = message
			}
			doc.state.Stages[s] = rec
		}
	}
	doc.state.CurrentStage = stage
	if pct := stageStartPercent[stage]; pct > doc.state.Percent {
		doc.state.Percent = pct
	}
	t.publishLocked(doc)
}

// EmbeddingProgress advances the percentage within the embedding stage as
// batches complete. Ignored unless the document is currently embedding.
func (t *Tracker) EmbeddingProgress(documentID string, done, total int) {
	if total <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[documentID]
	if doc == nil || doc.state.CurrentStage != StageEmbedding {
		return
	}

	pct := embedStartPercent + (embedEndPercent-embedStartPercent)*done/total
	if pct <= doc.state.Percent {
		return
	}
	doc.state.Percent = pct
	t.publishLocked(doc)
}

// Complete marks a document's ingestion as finished and freezes its
// processing statistics. Subscriber streams end after this update.
func (t *Tracker) Complete(documentID string, stats Stats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[documentID]
	if doc == nil || doc.state.Terminal() {
		return
	}

	now := time.Now().UTC()
	for _, s := range pipelineStages {
		rec := doc.state.Stages[s]
		if rec.Status != StepCompleted {
			rec.Status = StepCompleted
			ts := now
			rec.Timestamp = &ts
			doc.state.Stages[s] = rec
		}
	}
	doc.state.CurrentStage = StageCompleted
	doc.state.Percent = 100
	doc.state.CompletedAt = &now
	doc.state.Stats = &stats
	doc.terminalAt = now
	t.publishLocked(doc)
	t.closeSubsLocked(doc)
}

// Fail marks a document's ingestion as failed at the given stage with the
// first error encountered. Reachable from any non-terminal stage; the
// failure is terminal and there is no automatic retry.
func (t *Tracker) Fail(documentID string, stage Stage, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[documentID]
	if doc == nil || doc.state.Terminal() {
		return
	}

	now := time.Now().UTC()
	if _, ok := stageOrder[stage]; ok && stage != StageCompleted {
		ts := now
		doc.state.Stages[stage] = StageRecord{Status: StepFailed, Message: message, Timestamp: &ts}
	}
	doc.state.CurrentStage = StageFailed
	doc.state.Error = message
	doc.state.CompletedAt = &now
	doc.terminalAt = now
	t.publishLocked(doc)
	t.closeSubsLocked(doc)
}

// Snapshot returns the current state of a document, if tracked.
func (t *Tracker) Snapshot(documentID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[documentID]
	if doc == nil {
		return State{}, false
	}
	return doc.state.clone(), true
}

// Subscription is one subscriber's view of a document's progress stream.
type Subscription struct {
	// States delivers the snapshot at subscription time followed by every
	// later transition. Closed after a terminal state or Cancel.
	States <-chan State

	tracker    *Tracker
	documentID string
	id         int
}

// Cancel detaches the subscriber and closes its channel. Safe to call
// more than once; never cancels the underlying ingestion.
func (s *Subscription) Cancel() {
	t := s.tracker
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[s.documentID]
	if doc == nil {
		return
	}
	sub := doc.subs[s.id]
	if sub == nil {
		return
	}
	delete(doc.subs, s.id)
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Subscribe attaches a new subscriber to a document's progress stream.
// The current state is delivered immediately; if the document is already
// terminal, the stream holds that single state and is closed. Returns
// ErrUnknownDocument for ids with no progress record.
func (t *Tracker) Subscribe(documentID string) (*Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc := t.docs[documentID]
	if doc == nil {
		return nil, ErrUnknownDocument
	}

	sub := &subscriber{ch: make(chan State, subscriberBuffer)}
	sub.ch <- doc.state.clone()

	if doc.state.Terminal() {
		sub.closed = true
		close(sub.ch)
		return &Subscription{States: sub.ch, tracker: t, documentID: documentID, id: -1}, nil
	}

	id := doc.nextSubID
	doc.nextSubID++
	doc.subs[id] = sub
	return &Subscription{States: sub.ch, tracker: t, documentID: documentID, id: id}, nil
}

// publishLocked delivers the current state to every subscriber of doc.
// Sends never block: a full subscriber buffer drops its oldest update in
// favour of the new one, preserving latest-state delivery.
func (t *Tracker) publishLocked(doc *docProgress) {
	for _, sub := range doc.subs {
		if sub.closed {
			continue
		}
		state := doc.state.clone()
		for {
			select {
			case sub.ch <- state:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (t *Tracker) closeSubsLocked(doc *docProgress) {
	for id, sub := range doc.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		delete(doc.subs, id)
	}
}
