package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *TradingHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/trades", h.HandleGetTrades)

	r.Route("/safety", func(r chi.Router) {
		r.Get("/status", h.HandleGetSafetyStatus)
		r.Post("/reset", h.HandleResetHalt)
		r.Post("/manual-approval", h.HandleSetManualApproval)
	})

	r.Post("/trade-validation/validate-trade", h.HandleValidateTrade)
}
