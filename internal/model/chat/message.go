package chat

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/persona-rag/backend/internal/model/document"
)

const (
	// MaxCitations bounds the citations attached to a reply.
	MaxCitations = 3
	// SnippetLength is the number of characters of chunk text quoted in a citation.
	SnippetLength = 400
)

// Citation attributes part of an answer to a source chunk.
type Citation struct {
	Source  *string `json:"source"`
	Page    any     `json:"page"`
	Snippet string  `json:"snippet"`
}

// Reply is the answer to one question.
type Reply struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// NewCitation projects a chunk into its response-facing citation.
func NewCitation(doc *schema.Document) Citation {
	citation := Citation{Snippet: truncateRunes(doc.Content, SnippetLength)}

	if source, ok := document.Source(doc); ok {
		base := filepath.Base(source)
		citation.Source = &base
	}

	if raw, ok := document.Page(doc); ok {
		if page, err := pageNumber(raw); err == nil {
			citation.Page = page + 1
		} else {
			citation.Page = raw
		}
	}

	return citation
}

// CitationsFor builds citations for the first MaxCitations documents.
func CitationsFor(docs []*schema.Document) []Citation {
	limit := min(len(docs), MaxCitations)
	citations := make([]Citation, 0, limit)
	for _, doc := range docs[:limit] {
		if doc == nil {
			continue
		}
		citations = append(citations, NewCitation(doc))
	}
	return citations
}

func pageNumber(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float32:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("page %v (%T) is not numeric", raw, raw)
	}
}

func truncateRunes(s string, limit int) string {
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
