package retrieval

import "time"

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; an ANN-capable backend can replace it behind this interface
// without touching the orchestrator or retriever.
type VectorStore interface {
	// Upsert adds all records in one transaction: either every chunk of a
	// document becomes searchable or none does.
	Upsert(records []Record) error

	// Search returns the top-K records most similar to vector. A non-empty
	// documentID restricts the search to that document's records.
	Search(vector []float32, topK int, documentID string) ([]ScoredRecord, error)

	// DeleteByDocument removes every record belonging to a document and
	// returns how many were removed.
	DeleteByDocument(documentID string) (int, error)

	// CountByDocument returns the number of records for a document.
	CountByDocument(documentID string) (int, error)
}

// Record is one indexed chunk. Document metadata is denormalized so search
// results can be presented without a join.
type Record struct {
	ChunkID    string
	DocumentID string
	Filename   string
	ChunkSeq   int
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
