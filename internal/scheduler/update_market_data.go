package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/degiro-portfolio/internal/modules/marketdata"
	"github.com/rs/zerolog"
)

// MarketDataUpdater refreshes stored prices for held instruments and indices.
type MarketDataUpdater interface {
	UpdateMarketData(ctx context.Context) (marketdata.UpdateResult, error)
}

// UpdateMarketDataJob fetches recent prices on a schedule
type UpdateMarketDataJob struct {
	updater MarketDataUpdater
	log     zerolog.Logger
}

// NewUpdateMarketDataJob creates a new UpdateMarketDataJob
func NewUpdateMarketDataJob(updater MarketDataUpdater, log zerolog.Logger) *UpdateMarketDataJob {
	return &UpdateMarketDataJob{
		updater: updater,
		log:     log.With().Str("job", "update_market_data").Logger(),
	}
}

// Name returns the job name
func (j *UpdateMarketDataJob) Name() string {
	return "update_market_data"
}

// Run updates market data. Per-instrument failures are logged; only a
// failure to start the update fails the job.
func (j *UpdateMarketDataJob) Run(ctx context.Context) error {
	result, err := j.updater.UpdateMarketData(ctx)
	if err != nil {
		return fmt.Errorf("market data update failed: %w", err)
	}

	for _, msg := range result.Errors {
		j.log.Warn().Msg(msg)
	}
	j.log.Info().
		Int("stocks_updated", result.StocksUpdated).
		Int("indices_updated", result.IndicesUpdated).
		Int("errors", len(result.Errors)).
		Msg("Market data update completed")

	return nil
}
