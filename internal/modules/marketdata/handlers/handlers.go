// Package handlers provides HTTP handlers for market data updates.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/degiro-portfolio/internal/modules/marketdata"
	"github.com/rs/zerolog"
)

// Handler handles market data HTTP requests
type Handler struct {
	service *marketdata.Service
	log     zerolog.Logger
}

// NewHandler creates a new market data handler
func NewHandler(service *marketdata.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "marketdata").Logger(),
	}
}

// HandleUpdateMarketData handles POST /api/update-market-data
func (h *Handler) HandleUpdateMarketData(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.UpdateMarketData(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Market data update failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Error updating market data: " + err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Updated %d stocks and %d indices using %s",
			result.StocksUpdated, result.IndicesUpdated, h.service.Provider()),
		"stocks_updated":  result.StocksUpdated,
		"indices_updated": result.IndicesUpdated,
		"errors":          result.Errors,
	})
}

// HandleRefreshLivePrices handles POST /api/refresh-live-prices
func (h *Handler) HandleRefreshLivePrices(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RefreshLiveQuotes(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Live price refresh failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Error fetching live prices: " + err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"quotes":    result.Quotes,
		"count":     len(result.Quotes),
		"errors":    result.Errors,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"provider":  h.service.Provider(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
