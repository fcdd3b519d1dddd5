package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers market data routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/update-market-data", h.HandleUpdateMarketData)
	r.Post("/refresh-live-prices", h.HandleRefreshLivePrices)
}
