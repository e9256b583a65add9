package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/lm-dialogue/internal/handler/chat"
	"github.com/zhouzirui/lm-dialogue/internal/handler/live"
	"github.com/zhouzirui/lm-dialogue/internal/handler/persona"
	"github.com/zhouzirui/lm-dialogue/internal/handler/stream"
	"github.com/zhouzirui/lm-dialogue/internal/handler/web"
	middlewarePkg "github.com/zhouzirui/lm-dialogue/internal/middleware"
	personaModel "github.com/zhouzirui/lm-dialogue/internal/model/persona"
	chatService "github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/internal/version"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
	"github.com/zhouzirui/lm-dialogue/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, chatSvc *chatService.Service) (http.Handler, error) {
	pages, err := web.New(chatSvc)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger.Component("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		persona.New(personas).RegisterRoutes(api)
		chat.New(chatSvc).RegisterRoutes(api)
		stream.New(chatSvc).RegisterRoutes(api)
		live.NewWebSocketHandler(chatSvc).RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	pages.RegisterRoutes(r)

	return r, nil
}
