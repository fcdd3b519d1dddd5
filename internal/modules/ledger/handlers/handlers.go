// Package handlers provides HTTP handlers for the transaction ledger.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

const maxUploadBytes = 32 << 20

// ImportFollowUp backfills market data for instruments touched by an import.
type ImportFollowUp interface {
	AfterImport(ctx context.Context, instrumentIDs []int64) (ledger.FollowUpResult, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	repo     *ledger.Repository
	importer *ledger.Importer
	followUp ImportFollowUp
	log      zerolog.Logger
}

// NewHandler creates a new ledger handler. followUp may be nil.
func NewHandler(repo *ledger.Repository, importer *ledger.Importer, followUp ImportFollowUp, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		importer: importer,
		followUp: followUp,
		log:      log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleUploadTransactions handles POST /api/upload-transactions
func (h *Handler) HandleUploadTransactions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeResult(w, http.StatusBadRequest, false, "A transactions file is required in form field 'file'", nil)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		h.writeResult(w, http.StatusBadRequest, false, "Please upload a DEGIRO transactions export (.csv)", nil)
		return
	}

	result, err := h.importer.Import(r.Context(), file)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidFile) {
			h.writeResult(w, http.StatusBadRequest, false, err.Error(), nil)
			return
		}
		h.log.Error().Err(err).Str("file", header.Filename).Msg("Failed to import transactions")
		h.writeResult(w, http.StatusInternalServerError, false, "Error processing file: "+err.Error(), nil)
		return
	}

	var follow ledger.FollowUpResult
	if h.followUp != nil && len(result.Touched) > 0 {
		follow, err = h.followUp.AfterImport(r.Context(), result.Touched)
		if err != nil {
			// The import itself is committed; market data can be fetched later
			h.log.Warn().Err(err).Msg("Market data follow-up after import failed")
		}
	}

	message := fmt.Sprintf("Successfully imported %d new transactions", result.NewTransactions)
	if result.NewInstruments > 0 {
		message += fmt.Sprintf(" for %d new stocks", result.NewInstruments)
	}
	if follow.PricesFetched > 0 {
		message += fmt.Sprintf(", fetched %d historical price records", follow.PricesFetched)
	}
	if follow.IndicesCreated > 0 {
		message += fmt.Sprintf(", created %d market indices", follow.IndicesCreated)
	}

	h.writeResult(w, http.StatusOK, true, message, map[string]interface{}{
		"import_id":        result.ImportID,
		"new_transactions": result.NewTransactions,
		"new_stocks":       result.NewInstruments,
		"duplicates":       result.Duplicates,
		"ignored":          result.Ignored,
		"prices_fetched":   follow.PricesFetched,
		"indices_created":  follow.IndicesCreated,
		"indices_updated":  follow.IndicesUpdated,
	})
}

// HandleGetTransactions handles GET /api/stock/{id}/transactions
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request, idParam string) {
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		http.Error(w, "Invalid stock id", http.StatusBadRequest)
		return
	}

	inst, err := h.repo.GetInstrument(r.Context(), id)
	if errors.Is(err, ledger.ErrInstrumentNotFound) {
		http.Error(w, "Stock not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("stock_id", id).Msg("Failed to get instrument")
		http.Error(w, "Failed to get stock", http.StatusInternalServerError)
		return
	}

	txs, err := h.repo.ListTransactionsFor(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("stock_id", id).Msg("Failed to get transactions")
		http.Error(w, "Failed to get transactions", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		fees := 0.0
		if tx.FeesEUR != nil {
			fees = *tx.FeesEUR
		}
		items = append(items, map[string]interface{}{
			"id":               tx.ID,
			"date":             tx.ExecutedAt.Format("2006-01-02 15:04"),
			"quantity":         tx.Quantity,
			"price":            tx.Price,
			"currency":         tx.Currency,
			"total_eur":        tx.TotalEUR,
			"fees_eur":         fees,
			"exchange_rate":    tx.ExchangeRate,
			"transaction_type": tx.Side(),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stock":        stockInfo(inst),
		"transactions": items,
	})
}

// HandlePurgeDatabase handles POST /api/purge-database
func (h *Handler) HandlePurgeDatabase(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.Purge(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to purge database")
		h.writeResult(w, http.StatusInternalServerError, false, "Error purging database: "+err.Error(), nil)
		return
	}

	h.writeResult(w, http.StatusOK, true, "Database purged successfully", map[string]interface{}{
		"deleted": counts,
	})
}

func stockInfo(inst *domain.Instrument) map[string]interface{} {
	return map[string]interface{}{
		"id":       inst.ID,
		"name":     inst.Name,
		"symbol":   inst.Symbol,
		"currency": inst.Currency,
	}
}

// writeResult writes the {success, message, ...} body used by mutating endpoints
func (h *Handler) writeResult(w http.ResponseWriter, status int, success bool, message string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"success": success,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
