// Package splitter cuts loaded document segments into bounded, overlapping
// chunks at the coarsest boundary that fits.
package splitter

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	docmeta "github.com/zhouzirui/persona-rag/backend/internal/model/document"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1200
	// DefaultChunkOverlap is the number of characters shared by adjacent chunks.
	DefaultChunkOverlap = 150
)

// DefaultSeparators are tried in order: paragraphs, lines, sentences, words,
// then arbitrary characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ErrEmptyInput is returned when there are no segments to split.
var ErrEmptyInput = errors.New("no document segments to split")

var _ document.Transformer = (*Splitter)(nil)

// Splitter recursively splits segments so every chunk fits within chunkSize.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the maximum chunk length in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between adjacent chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator hierarchy. The empty separator should
// come last so oversized runs can still be cut.
func WithSeparators(separators ...string) Option {
	return func(s *Splitter) {
		if len(separators) > 0 {
			s.separators = append([]string(nil), separators...)
		}
	}
}

// New creates a Splitter with the default 1200/150 geometry.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// Transform splits every segment in src. Each chunk inherits its segment's
// metadata plus a chunk_index counting from zero within that segment.
func (s *Splitter) Transform(_ context.Context, src []*schema.Document, _ ...document.TransformerOption) ([]*schema.Document, error) {
	if len(src) == 0 {
		return nil, ErrEmptyInput
	}

	chunks := make([]*schema.Document, 0, len(src))
	for _, segment := range src {
		if segment == nil {
			continue
		}
		for idx, text := range s.SplitText(segment.Content) {
			meta := docmeta.CopyMetadata(segment.MetaData)
			meta[docmeta.MetaChunkIndex] = idx
			chunks = append(chunks, &schema.Document{
				ID:       uuid.NewString(),
				Content:  text,
				MetaData: meta,
			})
		}
	}
	return chunks, nil
}

// SplitText splits a single text into chunks.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var remaining []string
	for i, candidate := range separators {
		if candidate == "" {
			separator = candidate
			break
		}
		if strings.Contains(text, candidate) {
			separator = candidate
			remaining = separators[i+1:]
			break
		}
	}

	var (
		final []string
		good  []string
	)
	for _, piece := range splitOn(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(remaining) == 0 {
			final = append(final, s.hardCut(piece)...)
			continue
		}
		final = append(final, s.split(piece, remaining)...)
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge greedily packs pieces into chunks, carrying up to overlap characters
// of trailing pieces into the next chunk. Pieces already end with their
// separator, so they are concatenated as is.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	flush := func() {
		if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range pieces {
		length := runeLen(piece)
		if total+length > s.chunkSize && len(current) > 0 {
			flush()
			for total > s.overlap || (total+length > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += length
	}

	flush()
	return chunks
}

// hardCut slices an unbreakable run into overlapping windows.
func (s *Splitter) hardCut(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := min(start+s.chunkSize, len(runes))
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func splitOn(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	// the separator stays on the end of the piece it terminates
	for _, part := range strings.SplitAfter(text, separator) {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
