// Package document holds the provenance metadata conventions shared by loaders,
// the splitter and citation formatting.
package document

import (
	"maps"

	"github.com/cloudwego/eino/schema"
)

// Metadata keys carried on every chunk.
const (
	MetaSource     = "source"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
)

// Source returns the provenance filename of doc, if any.
func Source(doc *schema.Document) (string, bool) {
	if doc == nil || doc.MetaData == nil {
		return "", false
	}
	source, ok := doc.MetaData[MetaSource].(string)
	if !ok || source == "" {
		return "", false
	}
	return source, true
}

// Page returns the raw page value stored by the loader. Pages are zero-indexed.
func Page(doc *schema.Document) (any, bool) {
	if doc == nil || doc.MetaData == nil {
		return nil, false
	}
	page, ok := doc.MetaData[MetaPage]
	if !ok || page == nil {
		return nil, false
	}
	return page, true
}

// ChunkIndex returns the chunk sequence index assigned by the splitter.
func ChunkIndex(doc *schema.Document) (int, bool) {
	if doc == nil || doc.MetaData == nil {
		return 0, false
	}
	idx, ok := doc.MetaData[MetaChunkIndex].(int)
	return idx, ok
}

// CopyMetadata returns a shallow copy of meta, never nil.
func CopyMetadata(meta map[string]any) map[string]any {
	dst := make(map[string]any, len(meta)+2)
	maps.Copy(dst, meta)
	return dst
}

// Clone copies doc so callers can attach scores or metadata without touching
// the stored chunk.
func Clone(doc *schema.Document) *schema.Document {
	if doc == nil {
		return nil
	}
	return &schema.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		MetaData: CopyMetadata(doc.MetaData),
	}
}
