// Package vectorindex is an append-only, in-memory nearest-neighbour index over
// chunk embeddings, exposed through the eino indexer and retriever contracts.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/persona-rag/backend/internal/model/document"
)

var (
	ErrNoEmbedder          = errors.New("vector index: embedder not configured")
	ErrDimensionMismatch   = errors.New("vector index: embedding dimension mismatch")
	ErrEmbeddingCount      = errors.New("vector index: embedding count mismatch")
	ErrStaleRetriever      = errors.New("vector index: retriever predates the latest append")
	ErrEmptyQueryEmbedding = errors.New("vector index: empty query embedding")
)

var _ indexer.Indexer = (*Index)(nil)

type entry struct {
	doc    *schema.Document
	vector []float64
}

// Index stores chunks with their embeddings. Entries are never updated or
// removed; the dimension is fixed by the first batch.
type Index struct {
	mu         sync.RWMutex
	embedder   embedding.Embedder
	dimension  int
	entries    []entry
	generation uint64
}

// New creates an empty index that embeds through embedder.
func New(embedder embedding.Embedder) *Index {
	return &Index{embedder: embedder}
}

// Store embeds docs and appends them. Either every document is added or none is.
func (x *Index) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) ([]string, error) {
	options := indexer.GetCommonOptions(&indexer.Options{Embedding: x.embedder}, opts...)
	if options.Embedding == nil {
		return nil, ErrNoEmbedder
	}
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := options.Embedding.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(docs), err)
	}

	if err := x.Add(docs, vectors); err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

// Add appends pre-computed embeddings. All vectors are validated before any
// entry is written.
func (x *Index) Add(docs []*schema.Document, vectors [][]float64) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d embeddings", ErrEmbeddingCount, len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	dimension := x.dimension
	if dimension == 0 {
		dimension = len(vectors[0])
	}
	for i, vec := range vectors {
		if len(vec) == 0 || len(vec) != dimension {
			return fmt.Errorf("%w: chunk %d has %d, index expects %d", ErrDimensionMismatch, i, len(vec), dimension)
		}
	}

	for i, doc := range docs {
		x.entries = append(x.entries, entry{
			doc:    document.Clone(doc),
			vector: append([]float64(nil), vectors[i]...),
		})
	}
	x.dimension = dimension
	x.generation++
	return nil
}

// Len reports the number of indexed chunks.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Dimension reports the embedding width, zero while empty.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

// Generation increases with every successful append.
func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation
}

// Search returns the k entries nearest to query by squared euclidean
// distance, nearest first. Returned documents are copies carrying a score of
// 1/(1+distance).
func (x *Index) Search(query []float64, k int) ([]*schema.Document, error) {
	if len(query) == 0 {
		return nil, ErrEmptyQueryEmbedding
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.entries) == 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), x.dimension)
	}

	type hit struct {
		pos      int
		distance float64
	}
	hits := make([]hit, len(x.entries))
	for i, e := range x.entries {
		hits[i] = hit{pos: i, distance: squaredL2(e.vector, query)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	if k <= 0 || k > len(hits) {
		k = len(hits)
	}
	results := make([]*schema.Document, 0, k)
	for _, h := range hits[:k] {
		doc := document.Clone(x.entries[h.pos].doc)
		results = append(results, doc.WithScore(1/(1+h.distance)))
	}
	return results, nil
}

func squaredL2(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
