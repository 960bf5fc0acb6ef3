package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"

	"github.com/zhouzirui/persona-rag/backend/internal/model/document"
)

// PDFParser emits one segment per page with a zero-indexed page number.
type PDFParser struct{}

func (PDFParser) Parse(_ context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	options := parser.GetCommonOptions(&parser.Options{}, opts...)

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]*schema.Document, 0, doc.NumPage())
	for num := 1; num <= doc.NumPage(); num++ {
		page := doc.Page(num)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", num, err)
		}

		meta := document.CopyMetadata(options.ExtraMeta)
		meta[document.MetaSource] = options.URI
		meta[document.MetaPage] = num - 1
		pages = append(pages, &schema.Document{
			Content:  strings.TrimSpace(normalizePlainText(text)),
			MetaData: meta,
		})
	}
	return pages, nil
}
