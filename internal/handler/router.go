package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/studybuddy-ai/server/internal/handler/chat"
	middlewarePkg "github.com/studybuddy-ai/server/internal/middleware"
	chatservice "github.com/studybuddy-ai/server/internal/service/chat"
)

// NewRouter wires HTTP routes to the lifecycle manager. The rate limit
// applies per authenticated user to the message and retrieval routes.
func NewRouter(chatSvc *chatservice.Service, rateLimitMax int, rateLimitWindow time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc)

	r.Route("/api/chat", func(api chi.Router) {
		api.Use(middlewarePkg.Auth)
		chatHandler.RegisterRoutes(api, middlewarePkg.RateLimit(rateLimitMax, rateLimitWindow))
	})

	return r
}
