// Package openai adapts the OpenAI API (or a compatible endpoint) to the eino
// chat model and embedder contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultChatModel is used when no chat model is configured.
const DefaultChatModel = "gpt-4o-mini"

var errToolsUnsupported = errors.New("openai: tool calling is not supported by this adapter")

var _ model.ChatModel = (*ChatModel)(nil)

// ChatModelConfig configures ChatModel.
type ChatModelConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// ChatModel generates completions through the chat completions API.
type ChatModel struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewChatModel creates a ChatModel. The API key is required.
func NewChatModel(cfg ChatModelConfig) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}

	return &ChatModel{
		client:      openai.NewClientWithConfig(clientConfig(cfg.APIKey, cfg.BaseURL)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate returns the first completion choice as an assistant message.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{}, opts...)

	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    toOpenAIMessages(input),
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	// A zero temperature is dropped by omitempty and the API default of 1 applies.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion returned no choices")
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream delivers the full completion as a single chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is not supported.
func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errToolsUnsupported
}

func toOpenAIMessages(input []*schema.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return messages
}

func clientConfig(apiKey, baseURL string) openai.ClientConfig {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return cfg
}
