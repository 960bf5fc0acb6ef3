// Package session keeps per-visitor RAG state in memory, each session owning an
// exclusive scratch directory for its uploads.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or destroyed session ids.
var ErrSessionNotFound = errors.New("session not found")

// Store is the registry of live sessions. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	root     string
	logger   *slog.Logger
}

// NewStore creates a registry whose scratch directories live under root. An
// empty root uses the OS temp dir.
func NewStore(root string, logger *slog.Logger) *Store {
	if root == "" {
		root = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		root:     root,
		logger:   logger.With("component", "session"),
	}
}

// Create provisions an empty session and its scratch directory.
func (s *Store) Create(_ context.Context) (*Session, error) {
	id := uuid.NewString()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(s.root, "rag_"+id+"_")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	session := &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		dir:       dir,
		history:   make([]Turn, 0, 16),
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.logger.Debug("session created", "session_id", id, "dir", dir)
	return session, nil
}

// Get retrieves a session by identifier.
func (s *Store) Get(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Destroy unregisters a session and removes its scratch directory. Removal
// errors are logged, never returned. Unknown ids are a no-op.
func (s *Store) Destroy(_ context.Context, sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return
	}

	// Waits for an in-flight ingest or ask to finish.
	session.mu.Lock()
	session.destroyed = true
	dir := session.dir
	session.index = nil
	session.retriever = nil
	session.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove scratch dir", "session_id", sessionID, "dir", dir, "error", err)
	}
	s.logger.Debug("session destroyed", "session_id", sessionID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close destroys every remaining session.
func (s *Store) Close() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Destroy(context.Background(), id)
	}
	if len(ids) > 0 {
		s.logger.Info("destroyed remaining sessions", "count", len(ids))
	}
}
