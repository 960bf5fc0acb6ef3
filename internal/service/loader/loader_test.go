package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-rag/backend/internal/model/document"
	"github.com/zhouzirui/persona-rag/backend/internal/testutil"
)

func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(xmlDoc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRegistryExtension(t *testing.T) {
	r := NewRegistry()

	for _, name := range []string{"a.pdf", "B.DOCX", "notes.txt", "README.md"} {
		_, ok := r.Extension(name)
		assert.True(t, ok, name)
	}
	for _, name := range []string{"image.png", "archive.tar.gz", "noext"} {
		_, ok := r.Extension(name)
		assert.False(t, ok, name)
	}
	assert.Equal(t, []string{".docx", ".md", ".pdf", ".txt"}, r.Extensions())
}

func TestRegistryParseText(t *testing.T) {
	docs, err := NewRegistry().Parse(context.Background(), strings.NewReader("Hello world."),
		parser.WithURI("/scratch/a.txt"))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hello world.", docs[0].Content)
	_, hasPage := docs[0].MetaData["page"]
	assert.False(t, hasPage)
}

func TestRegistryParseAddsExtraMeta(t *testing.T) {
	docs, err := NewRegistry().Parse(context.Background(), strings.NewReader("# Title"),
		parser.WithURI("notes.MD"),
		parser.WithExtraMeta(map[string]any{"source": "notes.MD"}))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes.MD", docs[0].MetaData["source"])
}

func TestRegistryParseUnsupported(t *testing.T) {
	_, err := NewRegistry().Parse(context.Background(), strings.NewReader("x"), parser.WithURI("x.png"))

	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestTextParserDecodesUTF16(t *testing.T) {
	utf16 := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}

	docs, err := TextParser{}.Parse(context.Background(), bytes.NewReader(utf16), parser.WithURI("a.txt"))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "hi", docs[0].Content)
}

func TestTextParserStripsUTF8BOM(t *testing.T) {
	docs, err := TextParser{}.Parse(context.Background(), bytes.NewReader([]byte("\xEF\xBB\xBFhey")), parser.WithURI("a.txt"))

	require.NoError(t, err)
	assert.Equal(t, "hey", docs[0].Content)
}

func TestDocxParser(t *testing.T) {
	data := buildDocx(t, "First paragraph.", "Second paragraph.")

	docs, err := NewRegistry().Parse(context.Background(), bytes.NewReader(data), parser.WithURI("/scratch/memo.docx"))

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", docs[0].Content)
	assert.Equal(t, "/scratch/memo.docx", docs[0].MetaData["source"])
}

func TestDocxParserRejectsNonZip(t *testing.T) {
	_, err := DocxParser{}.Parse(context.Background(), strings.NewReader("plain"), parser.WithURI("x.docx"))

	assert.Error(t, err)
}

func TestDocxParserMissingBody(t *testing.T) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	_, err := zw.Create("docProps/core.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = DocxParser{}.Parse(context.Background(), buf, parser.WithURI("x.docx"))

	assert.ErrorIs(t, err, errMissingDocumentXML)
}

func TestPDFParserRejectsGarbage(t *testing.T) {
	_, err := PDFParser{}.Parse(context.Background(), strings.NewReader("not a pdf"), parser.WithURI("x.pdf"))

	assert.Error(t, err)
}

func TestPDFParserEmitsZeroIndexedPages(t *testing.T) {
	data := testutil.BuildPDF("The first page speaks of ships.", "The second page speaks of storms.")

	docs, err := NewRegistry().Parse(context.Background(), bytes.NewReader(data),
		parser.WithURI("/scratch/book.pdf"))

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "The first page speaks of ships.", docs[0].Content)
	assert.Equal(t, "The second page speaks of storms.", docs[1].Content)
	for i, doc := range docs {
		page, ok := document.Page(doc)
		require.True(t, ok)
		assert.Equal(t, i, page)
		source, ok := document.Source(doc)
		require.True(t, ok)
		assert.Equal(t, "/scratch/book.pdf", source)
	}
}

func TestNormalizePlainText(t *testing.T) {
	assert.Equal(t, "a\nb\n\nc", normalizePlainText("a  \r\nb\r\rc\t"))
}
