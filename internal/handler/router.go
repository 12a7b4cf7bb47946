// Package handler wires HTTP routes to the core services.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	chathandler "github.com/qiwenz/parley/backend/internal/handler/chat"
	"github.com/qiwenz/parley/backend/internal/handler/ws"
	"github.com/qiwenz/parley/backend/internal/middleware"
	chatservice "github.com/qiwenz/parley/backend/internal/service/chat"
	"github.com/qiwenz/parley/backend/internal/service/stream"
	"github.com/qiwenz/parley/backend/pkg/utils"
)

// NewRouter builds the HTTP handler. bridge may be nil when no model
// provider is configured; streaming routes then respond 503.
func NewRouter(store *chatservice.Store, bridge *stream.Bridge, authToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chathandler.New(store, bridge)

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.BearerAuth(authToken))

		chatHandler.RegisterRoutes(api)

		if bridge != nil {
			ws.New(bridge).RegisterRoutes(api)
		}
	})

	return r
}
