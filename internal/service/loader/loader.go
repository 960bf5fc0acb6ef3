// Package loader turns raw uploaded bytes into text segments with provenance
// metadata. Each supported extension maps to an eino parser.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
)

// ErrUnsupportedType is returned for extensions without a registered parser.
var ErrUnsupportedType = errors.New("unsupported file type")

var _ parser.Parser = (*Registry)(nil)

// Registry dispatches parsing on the lower-cased extension of the parse URI.
type Registry struct {
	parsers map[string]parser.Parser
}

// NewRegistry returns a registry for .pdf, .docx, .txt and .md uploads.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]parser.Parser)}
	r.Register(".pdf", PDFParser{})
	r.Register(".docx", DocxParser{})
	r.Register(".txt", TextParser{})
	r.Register(".md", TextParser{})
	return r
}

// Register binds ext (with or without the leading dot) to p.
func (r *Registry) Register(ext string, p parser.Parser) {
	r.parsers[normalizeExt(ext)] = p
}

// Extension returns the normalised extension of filename and whether a
// parser is registered for it.
func (r *Registry) Extension(filename string) (string, bool) {
	ext := normalizeExt(filepath.Ext(filename))
	_, ok := r.parsers[ext]
	return ext, ok
}

// Extensions lists the supported extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse reads a document whose name is given via parser.WithURI.
func (r *Registry) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	options := parser.GetCommonOptions(&parser.Options{}, opts...)
	ext, ok := r.Extension(options.URI)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	docs, err := r.parsers[ext].Parse(ctx, reader, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(options.URI), err)
	}

	for _, doc := range docs {
		if doc.MetaData == nil {
			doc.MetaData = make(map[string]any, len(options.ExtraMeta))
		}
		for k, v := range options.ExtraMeta {
			if _, exists := doc.MetaData[k]; !exists {
				doc.MetaData[k] = v
			}
		}
	}
	return docs, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
