package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers currency routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/exchange-rates", h.HandleGetExchangeRates)
}
