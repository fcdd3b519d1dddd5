// Package marketdata keeps stored prices current: it resolves market-data
// symbols, backfills and updates daily history through a provider fallback
// chain, refreshes live quotes and bootstraps the benchmark indices.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// DefaultIndices are the benchmarks every portfolio is compared against
var DefaultIndices = []domain.Index{
	{Symbol: "^GSPC", Name: "S&P 500"},
	{Symbol: "^STOXX50E", Name: "Euro Stoxx 50"},
}

// Periods are the lookback windows used when fetching history.
type Periods struct {
	Initial string // new instruments without transactions
	Index   string // benchmark backfill
	Update  string // incremental updates
}

// UpdateResult summarises a market data update run.
type UpdateResult struct {
	Errors         []string `json:"errors"`
	StocksUpdated  int      `json:"stocks_updated"`
	IndicesUpdated int      `json:"indices_updated"`
}

// Quote is a live price for a held instrument.
type Quote struct {
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	Ticker        string          `json:"ticker"`
	Timestamp     string          `json:"timestamp"`
	Currency      domain.Currency `json:"currency"`
	Provider      string          `json:"provider"`
	StockID       int64           `json:"stock_id"`
	Price         float64         `json:"price"`
	Change        float64         `json:"change"`
	ChangePercent float64         `json:"change_percent"`
	Open          float64         `json:"open"`
	High          float64         `json:"high"`
	Low           float64         `json:"low"`
	Volume        int64           `json:"volume"`
}

// QuotesResult is the outcome of a live quote refresh.
type QuotesResult struct {
	Quotes []Quote  `json:"quotes"`
	Errors []string `json:"errors"`
}

// Service fetches and stores market data
type Service struct {
	ledger      *ledger.Repository
	history     *history.HistoryDB
	chain       *Chain
	indexSource domain.PriceSource
	resolver    *TickerResolver
	periods     Periods
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates a market data service. Index symbols are provider
// specific, so benchmarks are always fetched from indexSource rather than
// through the chain.
func NewService(
	ledgerRepo *ledger.Repository,
	historyDB *history.HistoryDB,
	chain *Chain,
	indexSource domain.PriceSource,
	resolver *TickerResolver,
	periods Periods,
	log zerolog.Logger,
) *Service {
	return &Service{
		ledger:      ledgerRepo,
		history:     historyDB,
		chain:       chain,
		indexSource: indexSource,
		resolver:    resolver,
		periods:     periods,
		now:         time.Now,
		log:         log.With().Str("service", "marketdata").Logger(),
	}
}

// SetClock overrides the service's notion of "now". Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Provider returns the name of the primary price provider.
func (s *Service) Provider() string {
	return s.chain.Primary()
}

// resolveSymbol returns the instrument's market symbol, resolving and
// persisting it when not yet known.
func (s *Service) resolveSymbol(ctx context.Context, inst *domain.Instrument) (string, error) {
	if inst.HasMarketSymbol() {
		return inst.MarketSymbol, nil
	}
	symbol := s.resolver.Resolve(ctx, *inst)
	if symbol == "" {
		return "", nil
	}
	if err := s.ledger.UpdateMarketSymbol(ctx, inst.ID, symbol, inst.DataProvider); err != nil {
		return "", err
	}
	inst.MarketSymbol = symbol
	return symbol, nil
}

func (s *Service) storePrices(ctx context.Context, inst *domain.Instrument, symbol string, start time.Time) (int, error) {
	points, provider, err := s.chain.FetchHistory(ctx, symbol, start, s.now())
	if err != nil {
		return 0, err
	}
	for i := range points {
		points[i].InstrumentID = inst.ID
		if points[i].Currency == "" {
			points[i].Currency = inst.Currency
		}
	}

	inserted, err := s.history.InsertPricesIfMissing(ctx, inst.ID, points)
	if err != nil {
		return 0, err
	}
	if provider != inst.DataProvider {
		if err := s.ledger.UpdateMarketSymbol(ctx, inst.ID, symbol, provider); err != nil {
			return inserted, err
		}
		inst.DataProvider = provider
	}
	return inserted, nil
}

// FetchInstrumentHistory backfills daily prices from the instrument's first
// transaction until today. Existing days are left untouched. Returns the
// number of new price rows.
func (s *Service) FetchInstrumentHistory(ctx context.Context, inst domain.Instrument) (int, error) {
	symbol, err := s.resolveSymbol(ctx, &inst)
	if err != nil {
		return 0, err
	}
	if symbol == "" {
		return 0, fmt.Errorf("no market symbol resolved for %s (ISIN: %s)", inst.Name, inst.ISIN)
	}

	txs, err := s.ledger.ListTransactionsFor(ctx, inst.ID)
	if err != nil {
		return 0, err
	}
	var start time.Time
	if len(txs) > 0 {
		start = txs[0].Day()
	} else if start, err = PeriodStart(s.periods.Initial, s.now()); err != nil {
		return 0, err
	}

	inserted, err := s.storePrices(ctx, &inst, symbol, start)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch history for %s: %w", inst.Name, err)
	}
	s.log.Info().
		Str("symbol", symbol).
		Str("provider", inst.DataProvider).
		Int("inserted", inserted).
		Msg("Fetched instrument history")
	return inserted, nil
}

// UpdateMarketData fetches the recent update period for every held
// instrument and every benchmark index. Per-item failures are collected,
// not returned.
func (s *Service) UpdateMarketData(ctx context.Context) (UpdateResult, error) {
	result := UpdateResult{Errors: []string{}}

	held, err := s.ledger.HeldInstruments(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load holdings: %w", err)
	}
	start, err := PeriodStart(s.periods.Update, s.now())
	if err != nil {
		return result, err
	}

	for i := range held {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		inst := &held[i]

		symbol, err := s.resolveSymbol(ctx, inst)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Error updating %s: %v", inst.Name, err))
			continue
		}
		if symbol == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("No ticker resolved for %s (ISIN: %s)", inst.Name, inst.ISIN))
			continue
		}

		inserted, err := s.storePrices(ctx, inst, symbol, start)
		if errors.Is(err, ErrNoData) {
			result.Errors = append(result.Errors, fmt.Sprintf("No data available for %s", inst.Name))
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Error updating %s: %v", inst.Name, err))
			continue
		}
		if inserted > 0 {
			result.StocksUpdated++
		}
	}

	indices, err := s.history.ListIndices(ctx)
	if err != nil {
		return result, err
	}
	for _, idx := range indices {
		inserted, err := s.fetchIndex(ctx, idx, start)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Error updating %s: %v", idx.Name, err))
			continue
		}
		if inserted > 0 {
			result.IndicesUpdated++
		}
	}

	s.log.Info().
		Int("stocks_updated", result.StocksUpdated).
		Int("indices_updated", result.IndicesUpdated).
		Int("errors", len(result.Errors)).
		Msg("Market data update completed")
	return result, nil
}

func (s *Service) fetchIndex(ctx context.Context, idx domain.Index, start time.Time) (int, error) {
	if s.indexSource == nil {
		return 0, fmt.Errorf("no index data source configured")
	}
	points, err := s.indexSource.FetchHistory(ctx, idx.Symbol, start, s.now())
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("%w for %s", ErrNoData, idx.Symbol)
	}
	return s.history.InsertIndexPricesIfMissing(ctx, idx.ID, points)
}

// EnsureIndices creates the default benchmarks and backfills history for
// any that have none. Returns how many indices were created and how many
// index prices were stored.
func (s *Service) EnsureIndices(ctx context.Context) (created, pricesFetched int, err error) {
	start, err := PeriodStart(s.periods.Index, s.now())
	if err != nil {
		return 0, 0, err
	}

	for _, def := range DefaultIndices {
		idx, isNew, err := s.history.EnsureIndex(ctx, def.Symbol, def.Name)
		if err != nil {
			return created, pricesFetched, err
		}
		if isNew {
			created++
		}

		existing, err := s.history.ListIndexPrices(ctx, idx.ID, time.Time{}, time.Time{})
		if err != nil {
			return created, pricesFetched, err
		}
		if len(existing) > 0 {
			continue
		}

		inserted, err := s.fetchIndex(ctx, idx, start)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", def.Symbol).Msg("Failed to backfill index")
			continue
		}
		pricesFetched += inserted
	}
	return created, pricesFetched, nil
}

// AfterImport backfills history for imported instruments that have no
// stored prices yet and ensures the benchmark indices exist.
func (s *Service) AfterImport(ctx context.Context, instrumentIDs []int64) (ledger.FollowUpResult, error) {
	var result ledger.FollowUpResult
	var errs []error

	for _, id := range instrumentIDs {
		count, err := s.history.CountPrices(ctx, id)
		if err != nil {
			return result, err
		}
		if count > 0 {
			continue
		}
		inst, err := s.ledger.GetInstrument(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		inserted, err := s.FetchInstrumentHistory(ctx, *inst)
		if err != nil {
			s.log.Warn().Err(err).Int64("instrument_id", id).Msg("Post-import history fetch failed")
			errs = append(errs, err)
			continue
		}
		result.PricesFetched += inserted
	}

	created, fetched, err := s.EnsureIndices(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	result.IndicesCreated = created
	if fetched > 0 {
		result.IndicesUpdated = len(DefaultIndices)
	}
	return result, errors.Join(errs...)
}

// RefreshLiveQuotes fetches the latest quote for every held instrument. A
// quote dated today replaces today's row; an older quote (weekend, holiday,
// before the open) is only stored when that day is missing.
func (s *Service) RefreshLiveQuotes(ctx context.Context) (QuotesResult, error) {
	result := QuotesResult{Quotes: []Quote{}, Errors: []string{}}

	held, err := s.ledger.HeldInstruments(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load holdings: %w", err)
	}
	latest, err := s.history.LatestPrices(ctx)
	if err != nil {
		return result, err
	}

	for i := range held {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		inst := &held[i]

		symbol, err := s.resolveSymbol(ctx, inst)
		if err != nil || symbol == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("No ticker for %s", inst.Name))
			continue
		}

		point, provider, err := s.chain.FetchLatest(ctx, symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("No live quote")
			result.Errors = append(result.Errors, fmt.Sprintf("No quote for %s", inst.Name))
			continue
		}

		quote := s.buildQuote(*inst, symbol, provider, *point, latest[inst.ID])

		point.InstrumentID = inst.ID
		point.Date = domain.Day(point.Date)
		point.Currency = quote.Currency
		if err := s.storeQuote(ctx, *point); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Error storing quote for %s: %v", inst.Name, err))
		}
		result.Quotes = append(result.Quotes, quote)
	}

	s.log.Info().Int("quotes", len(result.Quotes)).Int("errors", len(result.Errors)).Msg("Live quotes refreshed")
	return result, nil
}

func (s *Service) storeQuote(ctx context.Context, p domain.PricePoint) error {
	today := domain.Day(s.now())
	if p.Date.Equal(today) {
		return s.history.UpsertPrice(ctx, p, today)
	}
	_, err := s.history.InsertPricesIfMissing(ctx, p.InstrumentID, []domain.PricePoint{p})
	return err
}

// buildQuote computes the change against the last close before the quote's day.
func (s *Service) buildQuote(inst domain.Instrument, symbol, provider string, p domain.PricePoint, stored history.LatestPrice) Quote {
	currency := p.Currency
	if currency == "" {
		currency = inst.Currency
	}
	q := Quote{
		StockID:   inst.ID,
		Name:      inst.Name,
		Symbol:    inst.Symbol,
		Ticker:    symbol,
		Price:     p.Close,
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Volume:    p.Volume,
		Timestamp: p.Date.Format("2006-01-02 15:04:05"),
		Currency:  currency,
		Provider:  provider,
	}

	var prevClose float64
	switch {
	case stored.Date.IsZero():
	case stored.Date.Equal(domain.Day(p.Date)):
		if stored.PreviousClose != nil {
			prevClose = *stored.PreviousClose
		}
	default:
		prevClose = stored.Close
	}
	if prevClose > 0 {
		q.Change = p.Close - prevClose
		q.ChangePercent = q.Change / prevClose * 100
	}
	return q
}
