package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text from PDF documents.
type PDF struct{}

var _ Extractor = (*PDF)(nil)

func (*PDF) ContentTypes() []string {
	return []string{"application/pdf"}
}

func (*PDF) Extract(_ context.Context, data []byte) (text string, err error) {
	// The pdf library panics on some malformed files; report those as
	// extraction errors rather than crashing the pipeline task.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}
