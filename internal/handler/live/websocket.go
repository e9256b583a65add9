package live

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/lm-dialogue/internal/model/chat"
	chatservice "github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// WebSocketHandler pushes conversation views to the page and accepts input and send frames.
type WebSocketHandler struct {
	chatSvc  *chatservice.Service
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(chatSvc *chatservice.Service) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *connection) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *connection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	log := logger.Component("ws").With().Str(logger.FieldSession, sessionID).Logger()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	views, unsubscribe, err := h.chatSvc.Subscribe(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("subscribe failed")
		return
	}
	defer unsubscribe()

	conn := &connection{conn: ws, sessionID: sessionID}
	log.Info().Msg("connection opened")

	current, err := h.chatSvc.Snapshot(ctx, sessionID)
	if err != nil {
		return
	}
	if err := conn.send("view", current); err != nil {
		return
	}

	go h.writeLoop(ctx, cancel, conn, views, log)

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("read error")
			}
			log.Info().Msg("connection closed")
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, conn, &msg, log)
	}
}

// writeLoop forwards published views and keeps the connection alive.
func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *connection, views <-chan chat.View, log zerolog.Logger) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				_ = conn.send("closed", nil)
				_ = conn.conn.Close()
				return
			}
			if err := conn.send("view", view); err != nil {
				log.Debug().Err(err).Msg("write view failed")
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *connection, msg *inboundMessage, log zerolog.Logger) {
	switch msg.Type {
	case "input":
		if err := h.chatSvc.SetInput(ctx, conn.sessionID, msg.Text); err != nil {
			h.sendError(conn, err)
		}
	case "send":
		if _, err := h.chatSvc.Submit(ctx, conn.sessionID, msg.Text); err != nil {
			if !errors.Is(err, chatservice.ErrEmptyMessage) {
				h.sendError(conn, err)
			}
			return
		}
		// detached from the connection; the reply reaches the page through the subscription
		go func() {
			if _, err := h.chatSvc.Respond(context.Background(), conn.sessionID); err != nil {
				log.Warn().Err(err).Msg("respond failed")
			}
		}()
	case "ping":
		_ = conn.send("pong", nil)
	default:
		h.sendError(conn, errors.New("unknown message type: "+msg.Type))
	}
}

func (h *WebSocketHandler) sendError(conn *connection, err error) {
	_ = conn.send("error", map[string]string{"message": err.Error()})
}

