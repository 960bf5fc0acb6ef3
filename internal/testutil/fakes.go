// Package testutil provides in-memory stand-ins for the upstream embedding and
// chat model APIs.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// DefaultReply is what ChatModel answers when Reply is empty.
const DefaultReply = "I recall what the sources say."

// LetterEmbedder embeds text as letter counts over a-z.
type LetterEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *LetterEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, 26)
		for _, r := range strings.ToLower(text) {
			if r >= 'a' && r <= 'z' {
				vec[r-'a']++
			}
		}
		out[i] = vec
	}
	return out, nil
}

// SetErr makes subsequent calls fail with err; nil restores normal behaviour.
func (e *LetterEmbedder) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many embedding requests were made.
func (e *LetterEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// ChatModel records every prompt. It answers with the queued Replies first,
// then Reply, then DefaultReply.
type ChatModel struct {
	Reply   string
	Replies []string

	mu      sync.Mutex
	prompts [][]*schema.Message
	err     error
}

func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, input)
	if m.err != nil {
		return nil, m.err
	}
	reply := m.Reply
	if len(m.Replies) > 0 {
		reply, m.Replies = m.Replies[0], m.Replies[1:]
	}
	if reply == "" {
		reply = DefaultReply
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error { return nil }

// SetErr makes subsequent calls fail with err; nil restores normal behaviour.
func (m *ChatModel) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many prompts were generated.
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// LastPrompt returns the most recent prompt, or nil before the first call.
func (m *ChatModel) LastPrompt() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return nil
	}
	return m.prompts[len(m.prompts)-1]
}
