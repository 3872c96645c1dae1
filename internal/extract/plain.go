package extract

import (
	"bytes"
	"context"
	"errors"
	"unicode/utf8"
)

// PlainText handles text formats that need no structural parsing.
type PlainText struct{}

var _ Extractor = (*PlainText)(nil)

func (*PlainText) ContentTypes() []string {
	return []string{"text/plain", "text/markdown", "text/csv"}
}

func (*PlainText) Extract(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}) // UTF-8 BOM
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8")
	}
	return string(data), nil
}
