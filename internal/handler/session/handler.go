package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/service/rag"
	"github.com/zhouzirui/persona-rag/backend/pkg/utils"
)

// Engine is the RAG surface served over HTTP.
type Engine interface {
	CreateSession(ctx context.Context) (string, error)
	Ingest(ctx context.Context, sessionID string, uploads []chat.Upload, persona *string) (chat.IngestResult, error)
	Ask(ctx context.Context, sessionID, message string) (chat.Reply, error)
	Reset(ctx context.Context, sessionID string)
	History(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Handler 会话、上传与问答的HTTP处理器
type Handler struct {
	engine         Engine
	uploadMaxBytes int64
	logger         *slog.Logger
}

// New 创建处理器
func New(engine Engine, uploadMaxBytes int64, logger *slog.Logger) *Handler {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = 32 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:         engine,
		uploadMaxBytes: uploadMaxBytes,
		logger:         logger.With("component", "http"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Post("/upload", h.handleUpload)
	r.Post("/chat", h.handleChat)
	r.Post("/reset", h.handleReset)
	r.Get("/session/{sessionID}/history", h.handleHistory)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.engine.CreateSession(r.Context())
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleUpload 接收 multipart 上传：session_id、files（可多个）、可选 persona
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
	if err := r.ParseMultipartForm(h.uploadMaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondKindError(w, http.StatusRequestEntityTooLarge, "upload too large", string(rag.KindInvalidRequest), string(rag.CategoryInput))
			return
		}
		utils.RespondKindError(w, http.StatusBadRequest, "invalid multipart form", string(rag.KindInvalidRequest), string(rag.CategoryInput))
		return
	}
	defer r.MultipartForm.RemoveAll()

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		utils.RespondKindError(w, http.StatusBadRequest, "session_id is required", string(rag.KindInvalidRequest), string(rag.CategoryInput))
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		utils.RespondKindError(w, http.StatusBadRequest, "files are required", string(rag.KindInvalidRequest), string(rag.CategoryInput))
		return
	}

	uploads := make([]chat.Upload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			utils.RespondKindError(w, http.StatusBadRequest, "failed to read upload", string(rag.KindInvalidRequest), string(rag.CategoryInput))
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			utils.RespondKindError(w, http.StatusBadRequest, "failed to read upload", string(rag.KindInvalidRequest), string(rag.CategoryInput))
			return
		}
		uploads = append(uploads, chat.Upload{Filename: header.Filename, Data: data})
	}

	var persona *string
	if values, ok := r.MultipartForm.Value["persona"]; ok && len(values) > 0 {
		persona = &values[0]
	}

	result, err := h.engine.Ingest(r.Context(), sessionID, uploads, persona)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleChat 针对会话提问
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondKindError(w, http.StatusBadRequest, "invalid request body", string(rag.KindInvalidRequest), string(rag.CategoryInput))
		return
	}

	reply, err := h.engine.Ask(r.Context(), payload.SessionID, payload.Message)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	if reply.Citations == nil {
		reply.Citations = []chat.Citation{}
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleReset 销毁会话，未知会话同样返回 ok
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondKindError(w, http.StatusBadRequest, "invalid request body", string(rag.KindInvalidRequest), string(rag.CategoryInput))
		return
	}

	h.engine.Reset(r.Context(), payload.SessionID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHistory 返回会话的问答记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	kind := rag.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "kind", kind, "error", err)
	}

	message := err.Error()
	var engineErr *rag.Error
	if errors.As(err, &engineErr) {
		// upstream causes may carry provider details
		message = engineErr.Message
	}
	utils.RespondKindError(w, status, message, string(kind), string(kind.Category()))
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind rag.Kind) int {
	switch kind {
	case rag.KindNotFound:
		return http.StatusNotFound
	case rag.KindUnsupportedFileType, rag.KindEmptyIngestion, rag.KindPreconditionNotReady, rag.KindInvalidRequest:
		return http.StatusBadRequest
	case rag.KindMissingCredentials:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
