package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload-transactions", h.HandleUploadTransactions)
	r.Post("/purge-database", h.HandlePurgeDatabase)
	r.Get("/stock/{id}/transactions", func(w http.ResponseWriter, r *http.Request) {
		h.HandleGetTransactions(w, r, chi.URLParam(r, "id"))
	})
}
