package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers price history routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/market-data-status", h.HandleGetMarketDataStatus)
	r.Get("/stock/{id}/prices", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetPrices(w, r, chi.URLParam(r, "id"))
	})
}
