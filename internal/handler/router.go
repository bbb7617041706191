package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	conversationHandler "github.com/apollolytics/dialogue-backend/internal/handler/conversation"
	middlewarePkg "github.com/apollolytics/dialogue-backend/internal/middleware"
	"github.com/apollolytics/dialogue-backend/pkg/utils"
)

// Deps collects the handlers the router exposes.
type Deps struct {
	WebSocket *conversationHandler.WebSocketHandler
	HTTP      *conversationHandler.HTTPHandler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	deps.WebSocket.RegisterWebSocketRoutes(r)
	deps.HTTP.RegisterRoutes(r)

	return r
}
