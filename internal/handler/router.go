package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/persona-rag/backend/internal/handler/session"
	"github.com/zhouzirui/persona-rag/backend/internal/handler/stream"
	"github.com/zhouzirui/persona-rag/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/persona-rag/backend/internal/middleware"
	"github.com/zhouzirui/persona-rag/backend/internal/service/rag"
	"github.com/zhouzirui/persona-rag/backend/pkg/utils"
)

// RouterConfig carries the transport settings the router needs.
type RouterConfig struct {
	AllowedOrigins []string
	UploadMaxBytes int64
	Logger         *slog.Logger
}

// NewRouter wires HTTP routes to the RAG engine.
func NewRouter(engine *rag.Engine, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))

	sessionHandler := session.New(engine, cfg.UploadMaxBytes, cfg.Logger)
	wsHandler := ws.New(engine, cfg.AllowedOrigins, cfg.Logger)
	streamHandler := stream.New(engine, cfg.Logger)

	sessionHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)
	streamHandler.RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := engine.Status()
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"llm":        status.LLM,
			"embeddings": status.Embeddings,
			"sessions":   status.Sessions,
		})
	})

	return r
}
