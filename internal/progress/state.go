// Package progress tracks per-document ingestion state and streams it to
// subscribers. It is ephemeral operational telemetry, not the durable
// record of a document: records live until the retention window elapses
// after a terminal state.
package progress

import "time"

// Stage is one discrete phase of the ingestion state machine.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// pipelineStages are the non-terminal stages in execution order.
var pipelineStages = []Stage{
	StageUploading,
	StageExtracting,
	StageChunking,
	StageEmbedding,
	StageIndexing,
}

// stageOrder maps each stage to its position for forward-only enforcement.
var stageOrder = map[Stage]int{
	StageUploading:  0,
	StageExtracting: 1,
	StageChunking:   2,
	StageEmbedding:  3,
	StageIndexing:   4,
	StageCompleted:  5,
}

// Percentage bounds per stage. Embedding gets half the bar: it is the
// slowest remote-call-bound stage, so a time-linear curve would crawl
// through it while the earlier stages flashed by.
var stageStartPercent = map[Stage]int{
	StageUploading:  0,
	StageExtracting: 5,
	StageChunking:   25,
	StageEmbedding:  35,
	StageIndexing:   85,
	StageCompleted:  100,
}

const (
	embedStartPercent = 35
	embedEndPercent   = 85
)

// StepStatus is the status of one stage sub-record.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StageRecord is the per-stage sub-record of a State.
type StageRecord struct {
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Stats are the processing statistics frozen when ingestion completes.
type Stats struct {
	ChunkCount     int `json:"chunk_count"`
	EmbeddingCount int `json:"embedding_count"`
	TextLength     int `json:"text_length"`
}

// State is one point-in-time snapshot of a document's ingestion progress.
// Values delivered to subscribers are copies; mutating them is safe.
type State struct {
	DocumentID   string                `json:"document_id"`
	Filename     string                `json:"filename"`
	CurrentStage Stage                 `json:"current_stage"`
	Percent      int                   `json:"progress_percentage"`
	Stages       map[Stage]StageRecord `json:"stages"`
	Error        string                `json:"error_message,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
	Stats        *Stats                `json:"stats,omitempty"`
}

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s.CurrentStage == StageCompleted || s.CurrentStage == StageFailed
}

// clone deep-copies the state so subscribers never share the stages map
// with the tracker's mutable record.
func (s State) clone() State {
	out := s
	out.Stages = make(map[Stage]StageRecord, len(s.Stages))
	for k, v := range s.Stages {
		out.Stages[k] = v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Stats != nil {
		st := *s.Stats
		out.Stats = &st
	}
	return out
}
