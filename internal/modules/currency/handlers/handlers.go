// Package handlers provides HTTP handlers for exchange rates.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/degiro-portfolio/internal/modules/currency"
	"github.com/rs/zerolog"
)

// Handler handles currency HTTP requests
type Handler struct {
	service *currency.Service
	log     zerolog.Logger
}

// NewHandler creates a new currency handler
func NewHandler(service *currency.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "currency").Logger(),
	}
}

// HandleGetExchangeRates handles GET /api/exchange-rates
func (h *Handler) HandleGetExchangeRates(w http.ResponseWriter, r *http.Request) {
	rates := h.service.CurrentRates(r.Context())

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"rates":   rates.Rates,
		"cached":  rates.Cached,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
