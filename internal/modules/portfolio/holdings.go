package portfolio

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
)

// Holding is a currently held instrument with its latest stored price.
// Currency is the quote currency of the latest price when one exists;
// DegiroCurrency is the instrument's transaction currency.
type Holding struct {
	PriceChangePct    *float64        `json:"price_change_pct"`
	LatestPrice       *float64        `json:"latest_price"`
	PriceDate         *string         `json:"price_date"`
	Symbol            string          `json:"symbol"`
	Name              string          `json:"name"`
	ISIN              string          `json:"isin"`
	Exchange          string          `json:"exchange"`
	Currency          domain.Currency `json:"currency"`
	PriceCurrency     domain.Currency `json:"price_currency"`
	DegiroCurrency    domain.Currency `json:"degiro_currency"`
	MarketSymbol      string          `json:"market_symbol,omitempty"`
	DataProvider      string          `json:"data_provider,omitempty"`
	ID                int64           `json:"id"`
	Shares            int64           `json:"shares"`
	TransactionsCount int             `json:"transactions_count"`
}

// Holdings returns every instrument with a positive net quantity, ordered by
// name, with its latest close and the change against the close before it.
func (s *Service) Holdings(ctx context.Context) ([]Holding, error) {
	var (
		instruments []domain.Instrument
		summaries   map[int64]ledger.HoldingSummary
		latest      map[int64]history.LatestPrice
	)
	err := s.db.ReadSnapshot(ctx, func(tx *sql.Tx) error {
		ledgerRepo := s.ledger.WithTx(tx)

		var err error
		if instruments, err = ledgerRepo.ListInstruments(ctx); err != nil {
			return err
		}
		if summaries, err = ledgerRepo.Holdings(ctx); err != nil {
			return err
		}
		latest, err = s.history.WithTx(tx).LatestPrices(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}

	out := []Holding{}
	for _, inst := range instruments {
		summary := summaries[inst.ID]
		if summary.Quantity <= 0 {
			continue
		}

		h := Holding{
			ID:                inst.ID,
			Symbol:            inst.Symbol,
			Name:              inst.Name,
			ISIN:              inst.ISIN,
			Exchange:          inst.Exchange,
			Currency:          inst.Currency,
			PriceCurrency:     inst.Currency,
			DegiroCurrency:    inst.Currency,
			MarketSymbol:      inst.MarketSymbol,
			DataProvider:      inst.DataProvider,
			Shares:            summary.Quantity,
			TransactionsCount: summary.Transactions,
		}
		if lp, ok := latest[inst.ID]; ok {
			closePrice := lp.Close
			date := domain.FormatDate(lp.Date)
			h.LatestPrice = &closePrice
			h.PriceDate = &date
			h.PriceChangePct = lp.ChangePct()
			if lp.Currency != "" {
				h.Currency = lp.Currency
				h.PriceCurrency = lp.Currency
			}
		}
		out = append(out, h)
	}
	return out, nil
}
