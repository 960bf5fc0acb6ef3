package openai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is used when no embedding model is configured.
	DefaultEmbeddingModel = "text-embedding-3-small"

	maxBatchSize = 512
)

var _ embedding.Embedder = (*Embedder)(nil)

// EmbedderConfig configures Embedder.
type EmbedderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Embedder computes embeddings with the embeddings API.
type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder creates an Embedder. The API key is required.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}

	return &Embedder{
		client: openai.NewClientWithConfig(clientConfig(cfg.APIKey, cfg.BaseURL)),
		model:  cfg.Model,
	}, nil
}

// EmbedStrings embeds texts in batches, preserving input order.
func (e *Embedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	modelName := e.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	results := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(modelName),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("create openai embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), end-start)
		}

		for i, datum := range resp.Data {
			pos := start + i
			if datum.Index >= 0 && datum.Index < end-start {
				pos = start + datum.Index
			}
			results[pos] = toFloat64(datum.Embedding)
		}
	}
	return results, nil
}

func toFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
