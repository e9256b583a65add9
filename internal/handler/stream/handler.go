package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatHandler "github.com/zhouzirui/lm-dialogue/internal/handler/chat"
	chatService "github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
	"github.com/zhouzirui/lm-dialogue/pkg/utils"
)

// Handler sends a message and reports its progress via Server-Sent Events.
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// StreamResponse represents one event payload.
type StreamResponse struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes registers the streaming endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil {
		log := logger.Ctx(r.Context())
		log.Warn().Err(err).Str(logger.FieldSession, sessionID).Msg("stream request failed")
	}
}

// HandleStreamRequest submits userMessage to the session and streams start, user, message
// and end events. Rejections that happen before the user message is stored are answered
// with a plain JSON error.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID string, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	user, err := h.chatSvc.Submit(ctx, sessionID, userMessage)
	if err != nil {
		utils.RespondError(w, chatHandler.StatusFor(err), err.Error())
		return err
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.sendSSE(w, flusher, StreamResponse{Event: "start", SessionID: sessionID})
	h.sendSSE(w, flusher, StreamResponse{
		Event:     "user",
		SessionID: sessionID,
		MessageID: user.ID,
		Sender:    string(user.Sender),
		Content:   user.Text,
	})

	// the reply must land even if the client goes away mid-request
	reply, err := h.chatSvc.Respond(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		h.sendSSE(w, flusher, StreamResponse{Event: "error", SessionID: sessionID, Error: err.Error()})
		return err
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		MessageID: reply.ID,
		Sender:    string(reply.Sender),
		Content:   reply.Text,
	})
	h.sendSSE(w, flusher, StreamResponse{Event: "end", SessionID: sessionID, Finished: true})

	log := logger.Ctx(ctx)
	log.Info().Str(logger.FieldSession, sessionID).Msg("stream completed")
	return nil
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEEvent(w, flusher, response.Event, response)
}
