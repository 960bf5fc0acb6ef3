package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/service/rag"
	"github.com/zhouzirui/persona-rag/backend/pkg/utils"
)

// Asker answers one question for a session.
type Asker interface {
	Ask(ctx context.Context, sessionID, message string) (chat.Reply, error)
}

// Handler serves questions as Server-Sent Events for EventSource clients.
// The answer is delivered whole in a single "reply" event.
type Handler struct {
	asker  Asker
	logger *slog.Logger
}

// New creates a new stream handler
func New(asker Asker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{asker: asker, logger: logger.With("component", "sse")}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondKindError(w, http.StatusBadRequest, "message query parameter is required", string(rag.KindInvalidRequest), string(rag.CategoryInput))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"sessionId": sessionID, "stage": "answering"}); err != nil {
		return
	}

	reply, err := h.asker.Ask(r.Context(), sessionID, message)
	if err != nil {
		kind := rag.KindOf(err)
		msg := err.Error()
		var engineErr *rag.Error
		if errors.As(err, &engineErr) {
			msg = engineErr.Message
		}
		h.logger.Debug("stream ask failed", "session_id", sessionID, "kind", kind, "error", err)
		_ = utils.SendSSEEvent(w, flusher, "error", utils.ErrorBody{Error: msg, Kind: string(kind), Category: string(kind.Category())})
		return
	}

	if reply.Citations == nil {
		reply.Citations = []chat.Citation{}
	}
	if err := utils.SendSSEEvent(w, flusher, "reply", reply); err != nil {
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "done", map[string]bool{"finished": true})
}
