package loader

import (
	"context"
	"io"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// TextParser reads plain text and markdown. A UTF-8 or UTF-16 byte order mark
// selects the decoding; without one the input is taken as UTF-8.
type TextParser struct{}

func (TextParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	decoded := transform.NewReader(reader, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	return parser.TextParser{}.Parse(ctx, decoded, opts...)
}
