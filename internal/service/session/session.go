package session

import (
	"sync"
	"time"

	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/service/vectorindex"
)

// Turn is re-exported for callers that only deal with sessions.
type Turn = chat.Turn

// Session is the state of one visitor. Everything except ID, CreatedAt and
// Dir must be accessed between Lock and Unlock.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	destroyed bool
	dir       string
	persona   string
	history   []Turn
	index     *vectorindex.Index
	retriever *vectorindex.Retriever
}

// Lock acquires the session exclusively. It fails with ErrSessionNotFound when
// the session was destroyed while the caller waited.
func (s *Session) Lock() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	return nil
}

func (s *Session) Unlock() {
	s.mu.Unlock()
}

// Dir is the session's scratch directory.
func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) Persona() string {
	return s.persona
}

func (s *Session) SetPersona(label string) {
	s.persona = label
}

// Ready reports whether documents have been ingested.
func (s *Session) Ready() bool {
	return s.index != nil && s.index.Len() > 0
}

func (s *Session) Index() *vectorindex.Index {
	return s.index
}

func (s *Session) Retriever() *vectorindex.Retriever {
	return s.retriever
}

// SetIndex installs the index and the retriever derived from its latest state.
func (s *Session) SetIndex(index *vectorindex.Index, retriever *vectorindex.Retriever) {
	s.index = index
	s.retriever = retriever
}

// History returns a copy of the transcript, oldest first.
func (s *Session) History() []Turn {
	copied := make([]Turn, len(s.history))
	copy(copied, s.history)
	return copied
}

// AppendTurn records one answered question.
func (s *Session) AppendTurn(turn Turn) {
	if turn.AskedAt.IsZero() {
		turn.AskedAt = time.Now().UTC()
	}
	s.history = append(s.history, turn)
}
