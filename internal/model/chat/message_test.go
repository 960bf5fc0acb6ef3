package chat

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCitationUsesBasenameAndOneIndexedPage(t *testing.T) {
	doc := &schema.Document{
		Content:  "The treaty was signed at dawn.",
		MetaData: map[string]any{"source": "/tmp/rag_abc_/letters.pdf", "page": 4},
	}

	citation := NewCitation(doc)

	require.NotNil(t, citation.Source)
	assert.Equal(t, "letters.pdf", *citation.Source)
	assert.Equal(t, 5, citation.Page)
	assert.Equal(t, "The treaty was signed at dawn.", citation.Snippet)
}

func TestNewCitationWithoutProvenance(t *testing.T) {
	citation := NewCitation(&schema.Document{Content: "orphan"})

	assert.Nil(t, citation.Source)
	assert.Nil(t, citation.Page)
}

func TestNewCitationPassesThroughUnconvertiblePage(t *testing.T) {
	doc := &schema.Document{
		Content:  "x",
		MetaData: map[string]any{"source": "a.pdf", "page": "iv"},
	}

	assert.Equal(t, "iv", NewCitation(doc).Page)
}

func TestNewCitationNumericStringPage(t *testing.T) {
	doc := &schema.Document{
		Content:  "x",
		MetaData: map[string]any{"source": "a.pdf", "page": "2"},
	}

	assert.Equal(t, 3, NewCitation(doc).Page)
}

func TestNewCitationTruncatesSnippetByCharacter(t *testing.T) {
	content := strings.Repeat("é", SnippetLength+25)

	citation := NewCitation(&schema.Document{Content: content})

	assert.Equal(t, SnippetLength, len([]rune(citation.Snippet)))
}

func TestCitationsForCapsAtThree(t *testing.T) {
	docs := make([]*schema.Document, 0, 4)
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		docs = append(docs, &schema.Document{Content: name, MetaData: map[string]any{"source": name}})
	}

	citations := CitationsFor(docs)

	require.Len(t, citations, MaxCitations)
	for i, citation := range citations {
		assert.Equal(t, docs[i].Content, *citation.Source)
	}
}
