package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/persona-rag/backend/internal/config"
)

// NewLimiter builds the token bucket shared by every upstream call. It returns
// nil when no rate is configured.
func NewLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RPS <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}

// LimitChatModel waits on limiter before each model call.
func LimitChatModel(m model.ChatModel, limiter *rate.Limiter) model.ChatModel {
	if limiter == nil {
		return m
	}
	return &limitedChatModel{inner: m, limiter: limiter}
}

// LimitEmbedder waits on limiter before each embedding call.
func LimitEmbedder(e embedding.Embedder, limiter *rate.Limiter) embedding.Embedder {
	if limiter == nil {
		return e
	}
	return &limitedEmbedder{inner: e, limiter: limiter}
}

type limitedChatModel struct {
	inner   model.ChatModel
	limiter *rate.Limiter
}

func (m *limitedChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return m.inner.Generate(ctx, input, opts...)
}

func (m *limitedChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return m.inner.Stream(ctx, input, opts...)
}

func (m *limitedChatModel) BindTools(tools []*schema.ToolInfo) error {
	return m.inner.BindTools(tools)
}

type limitedEmbedder struct {
	inner   embedding.Embedder
	limiter *rate.Limiter
}

func (e *limitedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return e.inner.EmbedStrings(ctx, texts, opts...)
}
