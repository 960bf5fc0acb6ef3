package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-rag/backend/internal/config"
	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/testutil"
)

func TestAnswerBuildsGroundedPrompt(t *testing.T) {
	fake := &testutil.ChatModel{Replies: []string{"I was a sailor."}}
	svc, err := NewService(context.Background(), fake, config.RAGConfig{}, nil)
	require.NoError(t, err)

	answer, err := svc.Answer(context.Background(), AnswerRequest{
		Persona: "Captain Ahab",
		History: []chat.Turn{{Question: "Who are you?", Answer: "A captain."}},
		Excerpts: []*schema.Document{
			{Content: "Ahab sailed the Pequod."},
			{Content: "The whale was white."},
		},
		Question: "What did you do?",
	})
	require.NoError(t, err)
	assert.Equal(t, "I was a sailor.", answer)

	msgs := fake.LastPrompt()
	require.Len(t, msgs, 4)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "You are Captain Ahab speaking with a curious visitor.")
	assert.Contains(t, msgs[0].Content, "first person")
	assert.Contains(t, msgs[0].Content, "admit you cannot recall")
	assert.Contains(t, msgs[0].Content, "[1] Ahab sailed the Pequod.")
	assert.Contains(t, msgs[0].Content, "[2] The whale was white.")

	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "Who are you?", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, "A captain.", msgs[2].Content)
	assert.Equal(t, schema.User, msgs[3].Role)
	assert.Equal(t, "What did you do?", msgs[3].Content)
}

func TestAnswerDefaultPersona(t *testing.T) {
	fake := &testutil.ChatModel{}
	svc, err := NewService(context.Background(), fake, config.RAGConfig{}, nil)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), AnswerRequest{Persona: "   ", Question: "hi"})
	require.NoError(t, err)

	system := fake.LastPrompt()[0].Content
	assert.True(t, strings.HasPrefix(system, "You are the individual described in the provided sources"))
}

func TestAnswerKeepsBracesInExcerpts(t *testing.T) {
	fake := &testutil.ChatModel{}
	svc, err := NewService(context.Background(), fake, config.RAGConfig{}, nil)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), AnswerRequest{
		Excerpts: []*schema.Document{{Content: "func main() { fmt.Println(\"{query}\") }"}},
		Question: "what is {this}?",
	})
	require.NoError(t, err)

	msgs := fake.LastPrompt()
	assert.Contains(t, msgs[0].Content, "{query}")
	assert.Equal(t, "what is {this}?", msgs[len(msgs)-1].Content)
}

func TestAnswerUpstreamError(t *testing.T) {
	fake := &testutil.ChatModel{}
	fake.SetErr(errors.New("boom"))
	svc, err := NewService(context.Background(), fake, config.RAGConfig{}, nil)
	require.NoError(t, err)

	_, err = svc.Answer(context.Background(), AnswerRequest{Question: "hi"})
	require.Error(t, err)
}

func TestHistoryLimit(t *testing.T) {
	builder := NewPersonaPromptBuilder(2)
	turns := []chat.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
	}

	msgs := builder.BuildHistoryMessages(turns)
	require.Len(t, msgs, 4)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a3", msgs[3].Content)

	assert.Len(t, NewPersonaPromptBuilder(0).BuildHistoryMessages(turns), 6)
	assert.Nil(t, builder.BuildHistoryMessages(nil))
}

func TestCondenseQuestion(t *testing.T) {
	history := []chat.Turn{{Question: "Where were you born?", Answer: "Nantucket."}}

	t.Run("disabled", func(t *testing.T) {
		fake := &testutil.ChatModel{}
		svc, err := NewService(context.Background(), fake, config.RAGConfig{}, nil)
		require.NoError(t, err)

		got, err := svc.CondenseQuestion(context.Background(), history, "And when?")
		require.NoError(t, err)
		assert.Equal(t, "And when?", got)
		assert.Zero(t, fake.Calls())
	})

	t.Run("no history", func(t *testing.T) {
		fake := &testutil.ChatModel{}
		svc, err := NewService(context.Background(), fake, config.RAGConfig{CondenseQuestion: true}, nil)
		require.NoError(t, err)

		got, err := svc.CondenseQuestion(context.Background(), nil, "And when?")
		require.NoError(t, err)
		assert.Equal(t, "And when?", got)
		assert.Zero(t, fake.Calls())
	})

	t.Run("rewritten", func(t *testing.T) {
		fake := &testutil.ChatModel{Replies: []string{"  When were you born in Nantucket?\n"}}
		svc, err := NewService(context.Background(), fake, config.RAGConfig{CondenseQuestion: true}, nil)
		require.NoError(t, err)

		got, err := svc.CondenseQuestion(context.Background(), history, "And when?")
		require.NoError(t, err)
		assert.Equal(t, "When were you born in Nantucket?", got)

		msgs := fake.LastPrompt()
		assert.Contains(t, msgs[0].Content, "standalone question")
		assert.Equal(t, "Follow-up question: And when?", msgs[len(msgs)-1].Content)
	})

	t.Run("blank reply", func(t *testing.T) {
		fake := &testutil.ChatModel{Replies: []string{"   "}}
		svc, err := NewService(context.Background(), fake, config.RAGConfig{CondenseQuestion: true}, nil)
		require.NoError(t, err)

		got, err := svc.CondenseQuestion(context.Background(), history, "And when?")
		require.NoError(t, err)
		assert.Equal(t, "And when?", got)
	})
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewService(context.Background(), nil, config.RAGConfig{}, nil)
	require.Error(t, err)
}

func TestRateLimiting(t *testing.T) {
	assert.Nil(t, NewLimiter(config.RateLimitConfig{}))

	fake := &testutil.ChatModel{}
	emb := &testutil.LetterEmbedder{}
	assert.Same(t, fake, LimitChatModel(fake, nil))
	assert.Same(t, emb, LimitEmbedder(emb, nil))

	limiter := NewLimiter(config.RateLimitConfig{RPS: 1000, Burst: 2})
	require.NotNil(t, limiter)

	limitedModel := LimitChatModel(fake, limiter)
	_, err := limitedModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)

	limitedEmb := LimitEmbedder(emb, limiter)
	_, err = limitedEmb.EmbedStrings(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.Calls())
}

func TestRateLimitingHonoursContext(t *testing.T) {
	limiter := NewLimiter(config.RateLimitConfig{RPS: 0.001, Burst: 1})
	emb := LimitEmbedder(&testutil.LetterEmbedder{}, limiter)

	// drain the single token
	_, err := emb.EmbedStrings(context.Background(), []string{"a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = emb.EmbedStrings(ctx, []string{"b"})
	require.Error(t, err)
}
