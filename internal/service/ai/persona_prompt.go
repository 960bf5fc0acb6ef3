package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/model/persona"
)

// PersonaPromptBuilder renders the grounding instructions for an answer.
type PersonaPromptBuilder struct {
	historyLimit int
}

// NewPersonaPromptBuilder creates a builder. A historyLimit of zero keeps every turn.
func NewPersonaPromptBuilder(historyLimit int) *PersonaPromptBuilder {
	if historyLimit < 0 {
		historyLimit = 0
	}
	return &PersonaPromptBuilder{historyLimit: historyLimit}
}

// BuildSystemPrompt creates the in-character instructions followed by the
// numbered source excerpts.
func (pb *PersonaPromptBuilder) BuildSystemPrompt(personaLabel string, excerpts []*schema.Document) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "You are %s speaking with a curious visitor.\n", persona.Label(personaLabel))
	builder.WriteString("Stay strictly in character and speak in the first person.\n")
	builder.WriteString("Use only the information from the source excerpts to answer.\n")
	builder.WriteString("If the excerpts do not contain the answer, admit you cannot recall.\n")
	builder.WriteString("Keep the reply vivid yet concise and avoid inventing facts.\n")
	builder.WriteString("Let the answer be accurate and concise.\n\n")
	builder.WriteString("Source excerpts:\n")

	if len(excerpts) == 0 {
		builder.WriteString("(none)\n")
		return builder.String()
	}

	for i, doc := range excerpts {
		if doc == nil {
			continue
		}
		fmt.Fprintf(&builder, "[%d] %s\n\n", i+1, strings.TrimSpace(doc.Content))
	}
	return strings.TrimRight(builder.String(), "\n") + "\n"
}

// BuildHistoryMessages replays the transcript as alternating user and
// assistant messages, oldest first.
func (pb *PersonaPromptBuilder) BuildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if pb.historyLimit > 0 && len(turns) > pb.historyLimit {
		startIdx = len(turns) - pb.historyLimit
	}

	history := make([]*schema.Message, 0, 2*(len(turns)-startIdx))
	for _, turn := range turns[startIdx:] {
		history = append(history,
			schema.UserMessage(turn.Question),
			schema.AssistantMessage(turn.Answer, nil),
		)
	}
	return history
}

// BuildCondenseSystemPrompt instructs the model to rewrite a follow-up into a
// standalone question.
func (pb *PersonaPromptBuilder) BuildCondenseSystemPrompt() string {
	return "Given the conversation so far and a follow-up question, rephrase the follow-up " +
		"into a standalone question that can be understood without the conversation. " +
		"Reply with the standalone question only."
}
