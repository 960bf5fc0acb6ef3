package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/persona-rag/backend/internal/model/chat"
	"github.com/zhouzirui/persona-rag/backend/internal/service/rag"
	"github.com/zhouzirui/persona-rag/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Engine is the subset of the RAG engine used over a websocket.
type Engine interface {
	Ask(ctx context.Context, sessionID, message string) (chat.Reply, error)
	History(ctx context.Context, sessionID string) ([]chat.Turn, error)
}

// Handler WebSocket问答处理器，每条 ask 消息对应一条 reply 或 error 消息
type Handler struct {
	engine   Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type inboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// New 创建WebSocket处理器，allowedOrigins 为空或包含 "*" 时不校验来源
func New(engine Engine, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.engine.History(r.Context(), sessionID); err != nil {
		kind := rag.KindOf(err)
		utils.RespondKindError(w, http.StatusNotFound, "invalid session_id", string(kind), string(kind.Category()))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("connection opened", "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	out := h.newWriter(conn, sessionID)
	go h.pingLoop(ctx, conn)

	out.send(outgoingMessage{Type: "connected", SessionID: sessionID})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !h.handleMessage(ctx, out, sessionID, msg) {
			return
		}
	}
}

// handleMessage answers one frame. It returns false when the session is gone
// and the connection should close.
func (h *Handler) handleMessage(ctx context.Context, out *writer, sessionID string, msg inboundMessage) bool {
	switch msg.Type {
	case "ask":
		reply, err := h.engine.Ask(ctx, sessionID, msg.Message)
		if err != nil {
			kind := rag.KindOf(err)
			out.sendError(sessionID, kind, errorMessage(err))
			return kind != rag.KindNotFound
		}
		if reply.Citations == nil {
			reply.Citations = []chat.Citation{}
		}
		out.send(outgoingMessage{Type: "reply", SessionID: sessionID, Data: reply})
	case "ping":
		out.send(outgoingMessage{Type: "pong", SessionID: sessionID})
	default:
		out.sendError(sessionID, rag.KindInvalidRequest, "unsupported message type: "+msg.Type)
	}
	return true
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// writer serialises data frames; gorilla allows one concurrent writer.
type writer struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func (h *Handler) newWriter(conn *websocket.Conn, sessionID string) *writer {
	return &writer{conn: conn, logger: h.logger.With("session_id", sessionID)}
}

func (w *writer) send(msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteJSON(msg); err != nil {
		w.logger.Debug("write failed", "type", msg.Type, "error", err)
	}
}

func (w *writer) sendError(sessionID string, kind rag.Kind, message string) {
	w.send(outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      utils.ErrorBody{Error: message, Kind: string(kind), Category: string(kind.Category())},
	})
}

func errorMessage(err error) string {
	var engineErr *rag.Error
	if errors.As(err, &engineErr) {
		return engineErr.Message
	}
	return err.Error()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}
}
