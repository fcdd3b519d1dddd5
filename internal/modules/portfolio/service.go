// Package portfolio serves valuation views over a consistent snapshot of the
// ledger, price history and exchange-rate cache.
package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/degiro-portfolio/internal/database"
	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/aristath/degiro-portfolio/internal/valuation"
	"github.com/rs/zerolog"
)

// Service orchestrates portfolio valuation.
//
// Every computation loads one snapshot inside a single read transaction on
// portfolio.db and then runs the valuation engine over it in memory, so a
// concurrent import or price update is either fully visible or not at all.
type Service struct {
	db      *database.DB
	ledger  *ledger.Repository
	history *history.HistoryDB
	now     func() time.Time
	log     zerolog.Logger
}

// NewService creates a new portfolio service
func NewService(db *database.DB, ledgerRepo *ledger.Repository, historyDB *history.HistoryDB, log zerolog.Logger) *Service {
	return &Service{
		db:      db,
		ledger:  ledgerRepo,
		history: historyDB,
		now:     time.Now,
		log:     log.With().Str("service", "portfolio").Logger(),
	}
}

// SetClock overrides the service's notion of "now". Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) loadSnapshot(ctx context.Context) (valuation.Snapshot, error) {
	snap := valuation.Snapshot{Today: domain.Day(s.now())}

	err := s.db.ReadSnapshot(ctx, func(tx *sql.Tx) error {
		ledgerRepo := s.ledger.WithTx(tx)
		historyDB := s.history.WithTx(tx)

		var err error
		if snap.Instruments, err = ledgerRepo.ListInstruments(ctx); err != nil {
			return err
		}
		if snap.Transactions, err = ledgerRepo.ListTransactions(ctx); err != nil {
			return err
		}
		if snap.Prices, err = historyDB.AllPrices(ctx); err != nil {
			return err
		}
		if snap.Indices, err = historyDB.ListIndices(ctx); err != nil {
			return err
		}
		if snap.IndexPrices, err = historyDB.AllIndexPrices(ctx); err != nil {
			return err
		}
		if snap.Rates, err = historyDB.ListRates(ctx, ""); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return valuation.Snapshot{}, fmt.Errorf("failed to load portfolio snapshot: %w", err)
	}
	return snap, nil
}

func (s *Service) engine(ctx context.Context) (*valuation.Engine, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return valuation.NewEngine(snap), nil
}

func (s *Service) instrumentEngine(ctx context.Context, id int64) (*valuation.Engine, domain.Instrument, error) {
	engine, err := s.engine(ctx)
	if err != nil {
		return nil, domain.Instrument{}, err
	}
	inst, ok := engine.Instrument(id)
	if !ok {
		return nil, domain.Instrument{}, fmt.Errorf("instrument %d: %w", id, ledger.ErrInstrumentNotFound)
	}
	return engine, inst, nil
}

func (s *Service) logWarnings(op string, warnings []valuation.Warning) {
	if len(warnings) == 0 {
		return
	}
	s.log.Debug().Str("operation", op).Int("warnings", len(warnings)).Msg("Valuation completed with data gaps")
}

// ComputePortfolioTimeline returns invested capital and market value of the
// currently held instruments over time.
func (s *Service) ComputePortfolioTimeline(ctx context.Context) (valuation.Timeline, error) {
	engine, err := s.engine(ctx)
	if err != nil {
		return valuation.Timeline{}, err
	}
	timeline := engine.PortfolioTimeline()
	s.logWarnings("portfolio_timeline", timeline.Warnings)
	return timeline, nil
}

// ComputeInstrumentPerformance returns an instrument's return over its
// average buy cost.
func (s *Service) ComputeInstrumentPerformance(ctx context.Context, id int64) (valuation.Performance, error) {
	engine, _, err := s.instrumentEngine(ctx, id)
	if err != nil {
		return valuation.Performance{}, err
	}
	perf := engine.InstrumentPerformance(id)
	s.logWarnings("instrument_performance", perf.Warnings)
	return perf, nil
}

// PerformancePoint is one date of a return series.
type PerformancePoint struct {
	Date   string  `json:"date"`
	Return float64 `json:"return"`
}

// StockPerformance is the return series of one held instrument.
type StockPerformance struct {
	Name        string                        `json:"name"`
	Symbol      string                        `json:"symbol"`
	Currency    domain.Currency               `json:"currency"`
	Performance []PerformancePoint            `json:"performance"`
	Summary     *valuation.PerformanceSummary `json:"summary,omitempty"`
	StockID     int64                         `json:"stock_id"`
	Shares      int64                         `json:"shares"`
}

// AllPerformance is the return series of every held instrument.
type AllPerformance struct {
	Stocks   []StockPerformance  `json:"stocks"`
	Warnings []valuation.Warning `json:"warnings,omitempty"`
}

// ComputeAllPerformance returns the return series of every currently held
// instrument that has at least one buy and one price.
func (s *Service) ComputeAllPerformance(ctx context.Context) (AllPerformance, error) {
	engine, err := s.engine(ctx)
	if err != nil {
		return AllPerformance{}, err
	}

	out := AllPerformance{Stocks: []StockPerformance{}}
	for _, id := range engine.HeldIDs() {
		inst, ok := engine.Instrument(id)
		if !ok {
			continue
		}
		perf := engine.InstrumentPerformance(id)
		out.Warnings = append(out.Warnings, perf.Warnings...)
		if len(perf.Dates) == 0 {
			continue
		}

		points := make([]PerformancePoint, len(perf.Dates))
		for i, d := range perf.Dates {
			points[i] = PerformancePoint{Date: d, Return: perf.ReturnPct[i]}
		}
		out.Stocks = append(out.Stocks, StockPerformance{
			StockID:     inst.ID,
			Name:        inst.Name,
			Symbol:      inst.Symbol,
			Currency:    inst.Currency,
			Shares:      engine.Holding(id),
			Performance: points,
			Summary:     perf.Summary,
		})
	}

	s.logWarnings("all_performance", out.Warnings)
	return out, nil
}

// ComputeInstrumentPosition returns an instrument's value as a percentage of
// the net capital invested in it.
func (s *Service) ComputeInstrumentPosition(ctx context.Context, id int64) (valuation.Position, error) {
	engine, _, err := s.instrumentEngine(ctx, id)
	if err != nil {
		return valuation.Position{}, err
	}
	pos := engine.InstrumentPosition(id)
	s.logWarnings("instrument_position", pos.Warnings)
	return pos, nil
}

// ComputeInstrumentNormalized overlays an instrument on benchmark indices.
// With no benchmark ids every known index is used.
func (s *Service) ComputeInstrumentNormalized(ctx context.Context, id int64, benchmarkIDs []int64) (valuation.Normalized, error) {
	engine, _, err := s.instrumentEngine(ctx, id)
	if err != nil {
		return valuation.Normalized{}, err
	}
	if len(benchmarkIDs) == 0 {
		benchmarkIDs = engine.IndexIDs()
	}
	norm := engine.InstrumentNormalized(id, benchmarkIDs)
	s.logWarnings("instrument_normalized", norm.Warnings)
	return norm, nil
}
