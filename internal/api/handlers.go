// Package api exposes the HTTP surface: document management, ingestion
// progress streams, and question answering.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/blob"
	"github.com/kalambet/docchat/internal/extract"
	"github.com/kalambet/docchat/internal/progress"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

const defaultMaxUploadBytes = 25 << 20 // 25MB

// Ingestor schedules background processing of an uploaded document.
type Ingestor interface {
	Begin(doc storage.Document)
}

// Pinger reports model backend reachability for the health endpoint.
type Pinger interface {
	IsRunning(ctx context.Context) bool
}

// AppDeps holds the collaborators of the HTTP handler.
type AppDeps struct {
	Store     *storage.Store
	Blobs     blob.Store
	Extract   *extract.Registry
	Ingest    Ingestor
	Tracker   *progress.Tracker
	Retriever *retrieval.Retriever
	Generator *answer.Generator
	Ollama    Pinger

	// Token enables bearer auth on /api routes when non-empty.
	Token          string
	MaxUploadBytes int64
	TopK           int
	MinSimilarity  float64
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.TopK <= 0 {
		deps.TopK = 5
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/documents", handleUpload(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/documents/{id}/progress", handleProgress(deps))
		r.Post("/qa/ask", handleAsk(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		running := deps.Ollama != nil && deps.Ollama.IsRunning(ctx)
		if !running {
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"ollama": running,
		})
	}
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the %d byte upload limit", deps.MaxUploadBytes)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "multipart field %q is required: %v", "file", err)
			return
		}
		defer file.Close()

		contentType := resolveContentType(header.Header.Get("Content-Type"), header.Filename)
		if !deps.Extract.Supports(contentType) {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"unsupported content type %q; supported: %s", contentType, strings.Join(deps.Extract.SupportedTypes(), ", "))
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds the %d byte upload limit", deps.MaxUploadBytes)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "uploaded file is empty")
			return
		}

		location, err := deps.Blobs.Put(header.Filename, data)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storing file: %v", err)
			return
		}

		doc := storage.Document{
			ID:          uuid.New().String(),
			Filename:    header.Filename,
			ContentType: contentType,
			SizeBytes:   int64(len(data)),
			Location:    location,
			Status:      storage.StatusUploaded,
			UploadedAt:  time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving document: %v", err)
			return
		}

		deps.Ingest.Begin(doc)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(doc)
	}
}

// extensionTypes covers extensions the platform mime table may not know.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".csv":      "text/csv",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// resolveContentType prefers the declared multipart content type, falling
// back to the filename extension. Browsers send application/octet-stream
// for types they do not recognize, such as markdown.
func resolveContentType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return declared
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.DocumentInfo{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"documents": docs})
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting document: %v", err)
			return
		}

		counts, err := deps.Store.DeleteDocumentCascade(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting document: %v", err)
			return
		}

		resp := map[string]any{
			"status":          "deleted",
			"chunks_deleted":  counts.Chunks,
			"vectors_deleted": counts.Vectors,
		}
		if err := deps.Blobs.Delete(doc.Location); err != nil && !errors.Is(err, blob.ErrNotFound) {
			resp["warning"] = fmt.Sprintf("document records deleted but stored file was not removed: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
