package storage

import "time"

// Document lifecycle statuses. The orchestrator is the only writer after
// upload: uploaded → processing → indexed | failed.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// Document is the durable record of one uploaded file.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Location    string    `json:"-"`
	Status      string    `json:"status"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// DocumentInfo is a Document with its chunk count, for listings.
type DocumentInfo struct {
	Document
	ChunkCount int `json:"chunk_count"`
}

// Chunk is one immutable text fragment of a document. Seq is contiguous
// and monotonic within the document; offsets are rune positions into the
// extracted text.
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Seq         int    `json:"seq"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}
