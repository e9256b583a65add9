package web

import (
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/lm-dialogue/internal/model/chat"
	chatservice "github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler renders the conversation page.
type Handler struct {
	chatSvc *chatservice.Service
	page    *template.Template
}

// New parses the embedded templates.
func New(chatSvc *chatservice.Service) (*Handler, error) {
	page, err := template.New("page.html").Funcs(template.FuncMap{
		"bubble": bubbleVariant,
		"avatar": avatar,
	}).ParseFS(templateFS, "templates/page.html")
	if err != nil {
		return nil, err
	}
	return &Handler{chatSvc: chatSvc, page: page}, nil
}

// RegisterRoutes registers the page routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleNew)
	r.Get("/c/{sessionID}", h.handlePage)
}

// handleNew opens a fresh conversation, optionally for ?persona=.
func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context(), r.URL.Query().Get("persona"))
	if err != nil {
		if errors.Is(err, chatservice.ErrPersonaNotFound) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/c/"+session.ID, http.StatusSeeOther)
}

type pageData struct {
	View        chat.View
	PersonaName string
}

func (h *Handler) handlePage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	view, err := h.chatSvc.Snapshot(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	p, err := h.chatSvc.Persona(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.page.Execute(w, pageData{View: view, PersonaName: p.Name}); err != nil {
		log := logger.Ctx(r.Context())
		log.Error().Err(err).Msg("render page")
	}
}

func bubbleVariant(s chat.Sender) string {
	if s == chat.SenderUser {
		return "sent"
	}
	return "received"
}

func avatar(s chat.Sender) string {
	if s == chat.SenderUser {
		return "US"
	}
	return "AI"
}
