package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RegisterRoutes registers optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Get("/", h.HandleGetStatus)

		// Large multi-start runs can take a while
		r.With(middleware.Timeout(5*time.Minute)).Post("/run", h.HandleRun)

		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{id}", h.HandleGetRun)
	})
}
