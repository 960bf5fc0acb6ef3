// Package rag orchestrates per-session ingestion and in-character question
// answering over uploaded documents.
package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/model/document"
	"github.com/zhouzirui/persona-rag/backend/internal/service/ai"
	"github.com/zhouzirui/persona-rag/backend/internal/service/loader"
	"github.com/zhouzirui/persona-rag/backend/internal/service/session"
	"github.com/zhouzirui/persona-rag/backend/internal/service/splitter"
	"github.com/zhouzirui/persona-rag/backend/internal/service/vectorindex"
)

const instrumentationName = "github.com/zhouzirui/persona-rag/backend/internal/service/rag"

// Answerer produces the language-model side of Ask.
type Answerer interface {
	Answer(ctx context.Context, req ai.AnswerRequest) (string, error)
	CondenseQuestion(ctx context.Context, history []chat.Turn, question string) (string, error)
}

// Options wires the engine's collaborators. A nil Embedder or Answerer means
// the upstream credentials are missing.
type Options struct {
	Sessions *session.Store
	Loaders  *loader.Registry
	Splitter *splitter.Splitter
	Embedder embedding.Embedder
	Answerer Answerer
	TopK     int
	Logger   *slog.Logger
}

// Engine implements CreateSession, Ingest, Ask, Reset and History.
type Engine struct {
	sessions *session.Store
	loaders  *loader.Registry
	splitter *splitter.Splitter
	embedder embedding.Embedder
	answerer Answerer
	topK     int
	logger   *slog.Logger

	tracer         trace.Tracer
	ingestDocs     metric.Int64Counter
	ingestChunks   metric.Int64Counter
	askRequests    metric.Int64Counter
	errorsRecorded metric.Int64Counter
}

// Status summarises engine readiness for health checks.
type Status struct {
	LLM        bool `json:"llm"`
	Embeddings bool `json:"embeddings"`
	Sessions   int  `json:"sessions"`
}

// NewEngine validates opts and registers the engine's instruments.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Loaders == nil {
		opts.Loaders = loader.NewRegistry()
	}
	if opts.Splitter == nil {
		opts.Splitter = splitter.New()
	}
	if opts.TopK <= 0 {
		opts.TopK = vectorindex.DefaultTopK
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	ingestDocs, err := meter.Int64Counter("rag.ingest.documents",
		metric.WithDescription("Document segments loaded by ingestion"))
	if err != nil {
		return nil, fmt.Errorf("create ingest documents counter: %w", err)
	}
	ingestChunks, err := meter.Int64Counter("rag.ingest.chunks",
		metric.WithDescription("Chunks added to session indexes"))
	if err != nil {
		return nil, fmt.Errorf("create ingest chunks counter: %w", err)
	}
	askRequests, err := meter.Int64Counter("rag.ask.requests",
		metric.WithDescription("Questions answered"))
	if err != nil {
		return nil, fmt.Errorf("create ask counter: %w", err)
	}
	errorsRecorded, err := meter.Int64Counter("rag.errors",
		metric.WithDescription("Failed engine operations by kind"))
	if err != nil {
		return nil, fmt.Errorf("create errors counter: %w", err)
	}

	return &Engine{
		sessions:       opts.Sessions,
		loaders:        opts.Loaders,
		splitter:       opts.Splitter,
		embedder:       opts.Embedder,
		answerer:       opts.Answerer,
		topK:           opts.TopK,
		logger:         opts.Logger.With("component", "rag"),
		tracer:         otel.Tracer(instrumentationName),
		ingestDocs:     ingestDocs,
		ingestChunks:   ingestChunks,
		askRequests:    askRequests,
		errorsRecorded: errorsRecorded,
	}, nil
}

// Status reports which upstreams are configured and how many sessions are live.
func (e *Engine) Status() Status {
	return Status{
		LLM:        e.answerer != nil,
		Embeddings: e.embedder != nil,
		Sessions:   e.sessions.Len(),
	}
}

// CreateSession provisions an empty session and returns its id.
func (e *Engine) CreateSession(ctx context.Context) (string, error) {
	s, err := e.sessions.Create(ctx)
	if err != nil {
		return "", newError(KindUpstreamFailure, "could not provision session storage", err)
	}
	e.logger.Info("session created", "session_id", s.ID)
	return s.ID, nil
}

// Ingest loads, splits and indexes uploads in order. The session's index is
// only touched once every upload has been loaded and every chunk embedded.
// A non-nil persona replaces the session's persona when ingestion succeeds.
func (e *Engine) Ingest(ctx context.Context, sessionID string, uploads []chat.Upload, persona *string) (result chat.IngestResult, err error) {
	ctx, span := e.tracer.Start(ctx, "rag.ingest", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("uploads", len(uploads)),
	))
	defer func() { e.finish(ctx, span, err) }()

	if e.embedder == nil {
		return chat.IngestResult{}, ErrMissingCredentials
	}

	s, err := e.getSession(ctx, sessionID)
	if err != nil {
		return chat.IngestResult{}, err
	}

	names := make([]string, len(uploads))
	for i, upload := range uploads {
		names[i] = uploadName(upload.Filename)
		if _, ok := e.loaders.Extension(names[i]); !ok {
			return chat.IngestResult{}, newError(KindUnsupportedFileType,
				fmt.Sprintf("unsupported file type: %s", strings.ToLower(filepath.Ext(names[i]))), nil)
		}
	}

	if err := s.Lock(); err != nil {
		return chat.IngestResult{}, ErrNotFound
	}
	defer s.Unlock()

	var docs []*schema.Document
	for i, upload := range uploads {
		loaded, err := e.load(ctx, s.Dir(), names[i], upload.Data)
		if err != nil {
			return chat.IngestResult{}, err
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		return chat.IngestResult{}, ErrEmptyIngestion
	}

	chunks, err := e.splitter.Transform(ctx, docs)
	if err != nil {
		if errors.Is(err, splitter.ErrEmptyInput) {
			return chat.IngestResult{}, ErrEmptyIngestion
		}
		return chat.IngestResult{}, newError(KindUpstreamFailure, "failed to split documents", err)
	}
	if len(chunks) == 0 {
		return chat.IngestResult{}, ErrEmptyIngestion
	}

	index := s.Index()
	if index == nil {
		index = vectorindex.New(e.embedder)
	}
	if _, err := index.Store(ctx, chunks); err != nil {
		return chat.IngestResult{}, newError(KindUpstreamFailure, "failed to embed chunks", err)
	}
	s.SetIndex(index, index.NewRetriever(nil, e.topK))

	if persona != nil {
		s.SetPersona(strings.TrimSpace(*persona))
	}

	e.ingestDocs.Add(ctx, int64(len(docs)))
	e.ingestChunks.Add(ctx, int64(len(chunks)))
	span.SetAttributes(attribute.Int("documents", len(docs)), attribute.Int("chunks", len(chunks)))
	e.logger.Info("documents ingested",
		"session_id", sessionID,
		"documents", len(docs),
		"chunks", len(chunks),
		"indexed", index.Len())

	return chat.IngestResult{Status: "ok", Documents: len(docs), Chunks: len(chunks)}, nil
}

// load persists one upload into the scratch dir and parses it.
func (e *Engine) load(ctx context.Context, dir, name string, data []byte) ([]*schema.Document, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, newError(KindUpstreamFailure, fmt.Sprintf("failed to store %s", name), err)
	}

	docs, err := e.loaders.Parse(ctx, bytes.NewReader(data),
		parser.WithURI(path),
		parser.WithExtraMeta(map[string]any{document.MetaSource: name}),
	)
	if err != nil {
		if errors.Is(err, loader.ErrUnsupportedType) {
			return nil, newError(KindUnsupportedFileType, fmt.Sprintf("unsupported file type: %s", filepath.Ext(name)), err)
		}
		return nil, newError(KindUpstreamFailure, fmt.Sprintf("failed to load %s", name), err)
	}
	return docs, nil
}

// Ask answers message in the session's persona, grounded on the nearest
// chunks, and appends the exchange to the transcript.
func (e *Engine) Ask(ctx context.Context, sessionID, message string) (reply chat.Reply, err error) {
	ctx, span := e.tracer.Start(ctx, "rag.ask", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer func() { e.finish(ctx, span, err) }()

	if e.embedder == nil || e.answerer == nil {
		return chat.Reply{}, ErrMissingCredentials
	}

	s, err := e.getSession(ctx, sessionID)
	if err != nil {
		return chat.Reply{}, err
	}

	if strings.TrimSpace(message) == "" {
		return chat.Reply{}, newError(KindInvalidRequest, "message is required", nil)
	}

	if err := s.Lock(); err != nil {
		return chat.Reply{}, ErrNotFound
	}
	defer s.Unlock()

	if !s.Ready() {
		return chat.Reply{}, ErrPreconditionNotReady
	}

	history := s.History()
	query, err := e.answerer.CondenseQuestion(ctx, history, message)
	if err != nil {
		return chat.Reply{}, newError(KindUpstreamFailure, "failed to condense question", err)
	}

	retriever := s.Retriever()
	if retriever == nil || !retriever.Valid() {
		retriever = s.Index().NewRetriever(nil, e.topK)
		s.SetIndex(s.Index(), retriever)
	}

	excerpts, err := retriever.Retrieve(ctx, query)
	if err != nil {
		return chat.Reply{}, newError(KindUpstreamFailure, "failed to retrieve excerpts", err)
	}

	answer, err := e.answerer.Answer(ctx, ai.AnswerRequest{
		Persona:  s.Persona(),
		History:  history,
		Excerpts: excerpts,
		Question: message,
	})
	if err != nil {
		return chat.Reply{}, newError(KindUpstreamFailure, "failed to generate answer", err)
	}

	s.AppendTurn(chat.Turn{Question: message, Answer: answer})

	e.askRequests.Add(ctx, 1)
	span.SetAttributes(attribute.Int("excerpts", len(excerpts)))
	e.logger.Info("question answered",
		"session_id", sessionID,
		"excerpts", len(excerpts),
		"answer_length", len(answer))

	return chat.Reply{Answer: answer, Citations: chat.CitationsFor(excerpts)}, nil
}

// Reset destroys the session. Unknown ids succeed.
func (e *Engine) Reset(ctx context.Context, sessionID string) {
	_, span := e.tracer.Start(ctx, "rag.reset", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	e.sessions.Destroy(ctx, sessionID)
	e.logger.Info("session reset", "session_id", sessionID)
}

// History returns the session transcript, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]chat.Turn, error) {
	s, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.Lock(); err != nil {
		return nil, ErrNotFound
	}
	defer s.Unlock()
	return s.History(), nil
}

func (e *Engine) getSession(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, ErrNotFound
	}
	return s, nil
}

func (e *Engine) finish(ctx context.Context, span trace.Span, err error) {
	if err != nil {
		kind := KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		e.errorsRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		e.logger.Warn("operation failed", "kind", kind, "error", err)
	}
	span.End()
}

// uploadName reduces a client-supplied filename to its base name. Missing
// names get a random one, which then fails extension validation.
func uploadName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return name
}
