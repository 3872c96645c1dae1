package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/progress"
	"github.com/kalambet/docchat/internal/retrieval"
)

// sseWriter wraps a flushable ResponseWriter for event-stream output.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sends the event-stream headers and returns a writer, or an
// error response when the connection cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

// send writes one data event. Payloads that fail to marshal are dropped;
// the stream stays consistent.
func (s *sseWriter) send(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", b)
	s.flusher.Flush()
}

func handleProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sub, err := deps.Tracker.Subscribe(id)
		if errors.Is(err, progress.ErrUnknownDocument) {
			httpError(w, http.StatusNotFound, "not_found", "no progress for document")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "subscribing to progress: %v", err)
			return
		}
		defer sub.Cancel()

		sse, ok := newSSEWriter(w)
		if !ok {
			return
		}

		for {
			select {
			case state, open := <-sub.States:
				if !open {
					return
				}
				sse.send(state)
				if state.Terminal() {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

// AskRequest is the question-answering request body.
type AskRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id,omitempty"`
	K          int    `json:"k,omitempty"`
}

// askEvent is one element of the answer stream. Answer carries the text
// generated so far; the final event sets Done and the diagnostics.
type askEvent struct {
	Answer         string          `json:"answer"`
	Done           bool            `json:"done"`
	Sources        []answer.Source `json:"sources,omitempty"`
	RetrievedCount int             `json:"retrieved_count,omitempty"`
	ContextSize    int             `json:"context_size,omitempty"`
	Incomplete     bool            `json:"incomplete,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		k := req.K
		if k <= 0 {
			k = deps.TopK
		}

		// Retrieval runs before any bytes are streamed; its failures are
		// regular error responses, not stream events.
		chunks, err := deps.Retriever.Retrieve(r.Context(), retrieval.Query{
			Text:          req.Question,
			TopK:          k,
			MinSimilarity: deps.MinSimilarity,
			DocumentID:    req.DocumentID,
		})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "retrieving context: %v", err)
			return
		}

		sse, ok := newSSEWriter(w)
		if !ok {
			return
		}

		var sofar string
		for frag := range deps.Generator.Generate(r.Context(), req.Question, chunks) {
			if frag.Final == nil {
				sofar += frag.Delta
				sse.send(askEvent{Answer: sofar})
				continue
			}

			final := frag.Final
			event := askEvent{
				Answer:         final.Answer,
				Done:           true,
				Sources:        final.Sources,
				RetrievedCount: final.RetrievedCount,
				ContextSize:    final.ContextWords,
				Incomplete:     final.Incomplete,
			}
			if final.Err != nil {
				event.Error = final.Err.Error()
			}
			sse.send(event)
		}
	}
}
