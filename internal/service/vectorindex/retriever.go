package vectorindex

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// DefaultTopK is the number of chunks a retriever returns.
const DefaultTopK = 4

var _ retriever.Retriever = (*Retriever)(nil)

// Retriever is a read-only view over an Index as of one generation. Once the
// index grows the retriever refuses to serve and a new one must be derived.
type Retriever struct {
	index      *Index
	embedder   embedding.Embedder
	topK       int
	generation uint64
}

// NewRetriever derives a retriever for the index's current contents.
func (x *Index) NewRetriever(embedder embedding.Embedder, topK int) *Retriever {
	if embedder == nil {
		embedder = x.embedder
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		index:      x,
		embedder:   embedder,
		topK:       topK,
		generation: x.Generation(),
	}
}

// Valid reports whether the index has not been appended to since derivation.
func (r *Retriever) Valid() bool {
	return r.generation == r.index.Generation()
}

// Retrieve embeds query and returns the nearest chunks, nearest first.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, Embedding: r.embedder}, opts...)
	if options.Embedding == nil {
		return nil, ErrNoEmbedder
	}
	if !r.Valid() {
		return nil, ErrStaleRetriever
	}

	vectors, err := options.Embedding.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: 1 query, %d embeddings", ErrEmbeddingCount, len(vectors))
	}

	k := r.topK
	if options.TopK != nil {
		k = *options.TopK
	}
	docs, err := r.index.Search(vectors[0], k)
	if err != nil {
		return nil, err
	}

	if options.ScoreThreshold != nil {
		filtered := docs[:0]
		for _, doc := range docs {
			if doc.Score() >= *options.ScoreThreshold {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
	}
	return docs, nil
}
