// Package handlers provides HTTP handlers for stored price history.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// InstrumentLookup resolves instruments by id
type InstrumentLookup interface {
	GetInstrument(ctx context.Context, id int64) (*domain.Instrument, error)
}

// Handler handles price history HTTP requests
type Handler struct {
	historyDB   *history.HistoryDB
	instruments InstrumentLookup
	log         zerolog.Logger
}

// NewHandler creates a new history handler
func NewHandler(historyDB *history.HistoryDB, instruments InstrumentLookup, log zerolog.Logger) *Handler {
	return &Handler{
		historyDB:   historyDB,
		instruments: instruments,
		log:         log.With().Str("handler", "history").Logger(),
	}
}

type priceResponse struct {
	Date     string          `json:"date"`
	Currency domain.Currency `json:"currency"`
	Open     float64         `json:"open"`
	High     float64         `json:"high"`
	Low      float64         `json:"low"`
	Close    float64         `json:"close"`
	Volume   int64           `json:"volume"`
}

// HandleGetPrices handles GET /api/stock/{id}/prices
func (h *Handler) HandleGetPrices(w http.ResponseWriter, r *http.Request, idParam string) {
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		http.Error(w, "Invalid stock id", http.StatusBadRequest)
		return
	}

	inst, err := h.instruments.GetInstrument(r.Context(), id)
	if errors.Is(err, ledger.ErrInstrumentNotFound) {
		http.Error(w, "Stock not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("stock_id", id).Msg("Failed to get instrument")
		http.Error(w, "Failed to get stock", http.StatusInternalServerError)
		return
	}

	prices, err := h.historyDB.ListPrices(r.Context(), id, nil)
	if err != nil {
		h.log.Error().Err(err).Int64("stock_id", id).Msg("Failed to get prices")
		http.Error(w, "Failed to get prices", http.StatusInternalServerError)
		return
	}

	items := make([]priceResponse, 0, len(prices))
	for _, p := range prices {
		items = append(items, priceResponse{
			Date:     domain.FormatDate(p.Date),
			Open:     p.Open,
			High:     p.High,
			Low:      p.Low,
			Close:    p.Close,
			Volume:   p.Volume,
			Currency: p.Currency,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stock": map[string]interface{}{
			"id":       inst.ID,
			"name":     inst.Name,
			"symbol":   inst.Symbol,
			"currency": inst.Currency,
		},
		"prices": items,
	})
}

// HandleGetMarketDataStatus handles GET /api/market-data-status
func (h *Handler) HandleGetMarketDataStatus(w http.ResponseWriter, r *http.Request) {
	latest, err := h.historyDB.LatestPriceDate(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get latest price date")
		http.Error(w, "Failed to get market data status", http.StatusInternalServerError)
		return
	}

	var latestDate *string
	if latest != nil {
		s := domain.FormatDate(*latest)
		latestDate = &s
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"latest_date": latestDate,
		"has_data":    latest != nil,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
