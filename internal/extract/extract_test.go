package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatch(t *testing.T) {
	r := DefaultRegistry()

	text, err := r.Extract(context.Background(), []byte("plain body"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain body", text)
}

func TestRegistryStripsContentTypeParameters(t *testing.T) {
	r := DefaultRegistry()

	text, err := r.Extract(context.Background(), []byte("body"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "body", text)

	assert.True(t, r.Supports("TEXT/PLAIN; charset=UTF-8"))
}

func TestRegistryUnsupportedType(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Extract(context.Background(), []byte("x"), "application/zip")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, r.Supports("application/zip"))
}

func TestRegistryEmptyOutput(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Extract(context.Background(), []byte("   \n\t  "), "text/plain")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPlainTextRejectsInvalidUTF8(t *testing.T) {
	p := &PlainText{}

	_, err := p.Extract(context.Background(), []byte{0xff, 0xfe, 0x00})
	assert.Error(t, err)
}

func TestPlainTextStripsBOM(t *testing.T) {
	p := &PlainText{}

	text, err := p.Extract(context.Background(), []byte{0xEF, 0xBB, 0xBF, 'h', 'i'})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestPDFRejectsGarbage(t *testing.T) {
	p := &PDF{}

	_, err := p.Extract(context.Background(), []byte("this is not a pdf"))
	assert.Error(t, err)
}

// makeDocx builds a minimal .docx archive with the given paragraph texts.
func makeDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write(body.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDOCXExtractsParagraphs(t *testing.T) {
	d := &DOCX{}

	text, err := d.Extract(context.Background(), makeDocx(t, "first paragraph", "second paragraph"))
	require.NoError(t, err)
	assert.Equal(t, "first paragraph\nsecond paragraph", text)
}

func TestDOCXRejectsNonZip(t *testing.T) {
	d := &DOCX{}

	_, err := d.Extract(context.Background(), []byte("not a zip"))
	assert.Error(t, err)
}

func TestHTMLStripsMarkup(t *testing.T) {
	h := &HTML{}

	input := `<html><head><title>skip me</title><style>p{color:red}</style></head>
<body><h1>Heading</h1><p>One paragraph.</p><script>alert(1)</script><p>Two.</p></body></html>`

	text, err := h.Extract(context.Background(), []byte(input))
	require.NoError(t, err)
	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "One paragraph.")
	assert.Contains(t, text, "Two.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "skip me")
}
