package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio valuation routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/holdings", h.HandleGetHoldings)
	r.Get("/portfolio-valuation-history", h.HandleGetValuationHistory)
	r.Get("/portfolio-performance", h.HandleGetPortfolioPerformance)

	r.Get("/stock/{id}/performance", h.withID(h.HandleGetPerformance))
	r.Get("/stock/{id}/position", h.withID(h.HandleGetPosition))
	r.Get("/stock/{id}/normalized", h.withID(h.HandleGetNormalized))
	r.Get("/stock/{id}/chart-data", h.withID(h.HandleGetChartData))
}

func (h *Handler) withID(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, chi.URLParam(r, "id"))
	}
}
