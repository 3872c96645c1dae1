// Package extract converts stored raw documents into plain text,
// dispatched by declared content type.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrUnsupported is returned for content types no extractor handles.
var ErrUnsupported = errors.New("unsupported content type")

// ErrEmpty is returned when extraction yields no text at all.
var ErrEmpty = errors.New("document contains no extractable text")

// Extractor converts raw bytes of one or more content types to plain text.
type Extractor interface {
	ContentTypes() []string
	Extract(ctx context.Context, data []byte) (string, error)
}

// Registry dispatches extraction by content type.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry builds a Registry from the given extractors. Later extractors
// win when content types overlap.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	for _, e := range extractors {
		for _, ct := range e.ContentTypes() {
			r.byType[ct] = e
		}
	}
	return r
}

// DefaultRegistry covers the built-in formats: plain text, markdown, CSV,
// PDF, DOCX, and HTML.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&PlainText{},
		&PDF{},
		&DOCX{},
		&HTML{},
	)
}

// Supports reports whether contentType has a registered extractor.
func (r *Registry) Supports(contentType string) bool {
	_, ok := r.byType[normalise(contentType)]
	return ok
}

// SupportedTypes returns the registered content types, for error messages
// at the upload boundary.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.byType))
	for ct := range r.byType {
		types = append(types, ct)
	}
	return types
}

// Extract dispatches to the extractor registered for contentType. Extracted
// text that is empty after trimming is reported as ErrEmpty so the pipeline
// fails the document with a descriptive message instead of indexing nothing.
func (r *Registry) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	ct := normalise(contentType)
	e, ok := r.byType[ct]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, contentType)
	}
	text, err := e.Extract(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", ct, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// normalise strips parameters ("text/plain; charset=utf-8") and lowercases
// the media type.
func normalise(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
