package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/lm-dialogue/internal/model/chat"
	chatService "github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
	"github.com/zhouzirui/lm-dialogue/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetView)
	r.Put("/sessions/{sessionID}/input", h.handleSetInput)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
}

type textPayload struct {
	Text string `json:"text"`
}

// SendResult is the response of a completed send.
type SendResult struct {
	User  chat.Message `json:"user"`
	Reply chat.Message `json:"reply"`
}

// handleCreateSession 创建会话，personaId 为空时使用默认角色
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.PersonaID)
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetView 返回会话当前视图
func (h *Handler) handleGetView(w http.ResponseWriter, r *http.Request) {
	view, err := h.chatSvc.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleSetInput 保存输入框内容
func (h *Handler) handleSetInput(w http.ResponseWriter, r *http.Request) {
	var payload textPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.SetInput(r.Context(), chi.URLParam(r, "sessionID"), payload.Text); err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 发送消息并同步等待回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload textPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	user, reply, err := h.chatSvc.Send(r.Context(), sessionID, payload.Text)
	if err != nil {
		log := logger.Ctx(r.Context())
		log.Debug().Err(err).Str(logger.FieldSession, sessionID).Msg("send rejected")
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, SendResult{User: user, Reply: reply})
}

// StatusFor maps chat service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrPersonaNotFound),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, chatService.ErrInvalidSender):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrRequestPending),
		errors.Is(err, chatService.ErrNotPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
