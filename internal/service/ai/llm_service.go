package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/persona-rag/backend/internal/config"
	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
)

// Service turns retrieved excerpts and a transcript into an in-character answer.
type Service struct {
	chatModel model.ChatModel
	cfg       config.RAGConfig
	prompts   *PersonaPromptBuilder
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *slog.Logger
}

// AnswerRequest carries everything the language model is grounded on.
type AnswerRequest struct {
	Persona  string
	History  []chat.Turn
	Excerpts []*schema.Document
	Question string
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg config.RAGConfig, logger *slog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		prompts:   NewPersonaPromptBuilder(cfg.HistoryLimit),
		chain:     runnable,
		logger:    logger.With("component", "ai"),
	}, nil
}

// Answer runs the chain once and returns the model's reply text.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(req.Persona, req.Excerpts),
		"history": s.prompts.BuildHistoryMessages(req.History),
		"query":   req.Question,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.Debug("generated answer",
		"excerpts", len(req.Excerpts),
		"history", len(req.History),
		"length", len(response.Content))
	return response.Content, nil
}

// CondenseEnabled reports whether follow-ups are rewritten before retrieval.
func (s *Service) CondenseEnabled() bool {
	return s.cfg.CondenseQuestion
}

// CondenseQuestion rewrites a follow-up into a standalone question. The
// question is returned unchanged when condensing is disabled, there is no
// history, or the model replies with nothing.
func (s *Service) CondenseQuestion(ctx context.Context, history []chat.Turn, question string) (string, error) {
	if !s.CondenseEnabled() || len(history) == 0 {
		return question, nil
	}

	input := map[string]any{
		"system":  s.prompts.BuildCondenseSystemPrompt(),
		"history": s.prompts.BuildHistoryMessages(history),
		"query":   "Follow-up question: " + question,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to condense question: %w", err)
	}

	standalone := strings.TrimSpace(response.Content)
	if standalone == "" {
		return question, nil
	}
	s.logger.Debug("condensed question", "original", question, "standalone", standalone)
	return standalone, nil
}
