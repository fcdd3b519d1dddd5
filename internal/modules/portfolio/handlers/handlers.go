// Package handlers provides HTTP handlers for portfolio valuation views.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/aristath/degiro-portfolio/internal/modules/portfolio"
	"github.com/rs/zerolog"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetHoldings handles GET /api/holdings
func (h *Handler) HandleGetHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.service.Holdings(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get holdings")
		http.Error(w, "Failed to get holdings", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"holdings": holdings})
}

// HandleGetValuationHistory handles GET /api/portfolio-valuation-history
func (h *Handler) HandleGetValuationHistory(w http.ResponseWriter, r *http.Request) {
	timeline, err := h.service.ComputePortfolioTimeline(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute valuation history")
		http.Error(w, "Failed to compute valuation history", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, timeline)
}

// HandleGetPortfolioPerformance handles GET /api/portfolio-performance
func (h *Handler) HandleGetPortfolioPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.service.ComputeAllPerformance(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute portfolio performance")
		http.Error(w, "Failed to compute portfolio performance", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, perf)
}

// HandleGetPerformance handles GET /api/stock/{id}/performance
func (h *Handler) HandleGetPerformance(w http.ResponseWriter, r *http.Request, idParam string) {
	id, ok := h.parseID(w, idParam)
	if !ok {
		return
	}
	perf, err := h.service.ComputeInstrumentPerformance(r.Context(), id)
	if err != nil {
		h.writeError(w, err, id, "Failed to compute performance")
		return
	}
	h.writeJSON(w, http.StatusOK, perf)
}

// HandleGetPosition handles GET /api/stock/{id}/position
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request, idParam string) {
	id, ok := h.parseID(w, idParam)
	if !ok {
		return
	}
	pos, err := h.service.ComputeInstrumentPosition(r.Context(), id)
	if err != nil {
		h.writeError(w, err, id, "Failed to compute position")
		return
	}
	h.writeJSON(w, http.StatusOK, pos)
}

// HandleGetNormalized handles GET /api/stock/{id}/normalized?benchmarks=1,2
func (h *Handler) HandleGetNormalized(w http.ResponseWriter, r *http.Request, idParam string) {
	id, ok := h.parseID(w, idParam)
	if !ok {
		return
	}

	var benchmarks []int64
	if raw := r.URL.Query().Get("benchmarks"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			bid, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				http.Error(w, "Invalid benchmark id: "+part, http.StatusBadRequest)
				return
			}
			benchmarks = append(benchmarks, bid)
		}
	}

	norm, err := h.service.ComputeInstrumentNormalized(r.Context(), id, benchmarks)
	if err != nil {
		h.writeError(w, err, id, "Failed to compute normalized series")
		return
	}
	h.writeJSON(w, http.StatusOK, norm)
}

// HandleGetChartData handles GET /api/stock/{id}/chart-data
func (h *Handler) HandleGetChartData(w http.ResponseWriter, r *http.Request, idParam string) {
	id, ok := h.parseID(w, idParam)
	if !ok {
		return
	}
	data, err := h.service.ChartData(r.Context(), id)
	if err != nil {
		h.writeError(w, err, id, "Failed to build chart data")
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

func (h *Handler) parseID(w http.ResponseWriter, idParam string) (int64, bool) {
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		http.Error(w, "Invalid stock id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error, id int64, message string) {
	if errors.Is(err, ledger.ErrInstrumentNotFound) {
		http.Error(w, "Stock not found", http.StatusNotFound)
		return
	}
	h.log.Error().Err(err).Int64("stock_id", id).Msg(message)
	http.Error(w, message, http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
