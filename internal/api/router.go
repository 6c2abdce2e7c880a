// Package api assembles the chi router for the control plane, grounded on
// the teacher's internal/api/router.go middleware stack and route layout.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/SolLabsHQ/solserver/internal/api/handlers"
	"github.com/SolLabsHQ/solserver/internal/api/middleware"
	"github.com/SolLabsHQ/solserver/internal/config"
)

// NewRouter builds the HTTP handler for the control plane.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "x-sol-internal-token"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health)
	r.Get("/version", handlers.Version(cfg))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Get("/chat/stream/{transmissionId}", h.Stream)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.InternalTokenGuard(cfg.InternalToken))
		r.Get("/topology", h.Topology)
	})

	return r
}
