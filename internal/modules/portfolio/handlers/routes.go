package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all agent and position routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", h.HandleListAgents)
		r.Route("/{agentID}", func(r chi.Router) {
			r.Get("/", h.HandleGetAgent)
			r.Get("/positions", h.HandleGetPositions)
			r.Post("/active", h.HandleSetActive)
		})
	})
}
