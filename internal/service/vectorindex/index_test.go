package vectorindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbedder maps text to normalised letter frequencies over a-z.
type letterEmbedder struct {
	calls [][]string
	err   error
	width int
}

func (e *letterEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls = append(e.calls, append([]string(nil), texts...))
	if e.err != nil {
		return nil, e.err
	}
	width := e.width
	if width == 0 {
		width = 26
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, width)
		total := 0.0
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' && int(r-'a') < width {
				vec[r-'a']++
				total++
			}
		}
		if total > 0 {
			for j := range vec {
				vec[j] /= total
			}
		}
		out[i] = vec
	}
	return out, nil
}

func docs(texts ...string) []*schema.Document {
	out := make([]*schema.Document, len(texts))
	for i, text := range texts {
		out[i] = &schema.Document{ID: text, Content: text, MetaData: map[string]any{"source": text + ".txt"}}
	}
	return out
}

func TestStoreAndRetrieveNearestFirst(t *testing.T) {
	ctx := context.Background()
	emb := &letterEmbedder{}
	idx := New(emb)

	ids, err := idx.Store(ctx, docs("aaaa", "bbbb", "abab", "zzzz", "cccc"))
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb", "abab", "zzzz", "cccc"}, ids)
	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, 26, idx.Dimension())

	got, err := idx.NewRetriever(nil, 0).Retrieve(ctx, "aaa")
	require.NoError(t, err)
	require.Len(t, got, DefaultTopK)
	assert.Equal(t, "aaaa", got[0].Content)
	assert.Equal(t, "abab", got[1].Content)
	assert.InDelta(t, 1.0, got[0].Score(), 1e-9)
}

func TestStoreAppendsWithoutReembedding(t *testing.T) {
	ctx := context.Background()
	emb := &letterEmbedder{}
	idx := New(emb)

	_, err := idx.Store(ctx, docs("aaaa"))
	require.NoError(t, err)
	_, err = idx.Store(ctx, docs("bbbb", "cccc"))
	require.NoError(t, err)

	assert.Equal(t, 3, idx.Len())
	require.Len(t, emb.calls, 2)
	assert.Equal(t, []string{"bbbb", "cccc"}, emb.calls[1])
}

func TestStoreFailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	emb := &letterEmbedder{}
	idx := New(emb)
	_, err := idx.Store(ctx, docs("aaaa"))
	require.NoError(t, err)
	generation := idx.Generation()

	emb.err = errors.New("upstream down")
	_, err = idx.Store(ctx, docs("bbbb"))

	require.Error(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, generation, idx.Generation())
}

func TestAddRejectsDimensionMismatchAtomically(t *testing.T) {
	idx := New(nil)
	require.NoError(t, idx.Add(docs("a"), [][]float64{{1, 0}}))

	err := idx.Add(docs("b", "c"), [][]float64{{1, 0}, {1, 0, 0}})

	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len())
}

func TestAddRejectsCountMismatch(t *testing.T) {
	err := New(nil).Add(docs("a", "b"), [][]float64{{1}})

	assert.ErrorIs(t, err, ErrEmbeddingCount)
}

func TestStoreWithoutEmbedder(t *testing.T) {
	_, err := New(nil).Store(context.Background(), docs("a"))

	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestRetrieverGoesStaleAfterAppend(t *testing.T) {
	ctx := context.Background()
	idx := New(&letterEmbedder{})
	_, err := idx.Store(ctx, docs("aaaa"))
	require.NoError(t, err)
	old := idx.NewRetriever(nil, 4)

	_, err = idx.Store(ctx, docs("bbbb"))
	require.NoError(t, err)

	assert.False(t, old.Valid())
	_, err = old.Retrieve(ctx, "bbb")
	assert.ErrorIs(t, err, ErrStaleRetriever)

	got, err := idx.NewRetriever(nil, 4).Retrieve(ctx, "bbb")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bbbb", got[0].Content)
}

func TestRetrieveHonoursTopKOption(t *testing.T) {
	ctx := context.Background()
	idx := New(&letterEmbedder{})
	_, err := idx.Store(ctx, docs("aaaa", "bbbb", "cccc"))
	require.NoError(t, err)

	got, err := idx.NewRetriever(nil, 4).Retrieve(ctx, "c", retriever.WithTopK(1))

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cccc", got[0].Content)
}

func TestRetrieveQueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := New(&letterEmbedder{})
	_, err := idx.Store(ctx, docs("aaaa"))
	require.NoError(t, err)

	_, err = idx.NewRetriever(&letterEmbedder{width: 3}, 4).Retrieve(ctx, "a")

	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	idx := New(&letterEmbedder{})
	_, err := idx.Store(ctx, docs("aaaa"))
	require.NoError(t, err)

	got, err := idx.NewRetriever(nil, 1).Retrieve(ctx, "a")
	require.NoError(t, err)
	got[0].MetaData["source"] = "mutated"

	again, err := idx.NewRetriever(nil, 1).Retrieve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "aaaa.txt", again[0].MetaData["source"])
}
