package di

import (
	"context"
	"fmt"

	"github.com/aristath/degiro-portfolio/internal/clients/exchangerate"
	"github.com/aristath/degiro-portfolio/internal/clients/fmp"
	"github.com/aristath/degiro-portfolio/internal/clients/openfigi"
	"github.com/aristath/degiro-portfolio/internal/clients/ratelimit"
	"github.com/aristath/degiro-portfolio/internal/clients/twelvedata"
	"github.com/aristath/degiro-portfolio/internal/clients/yahoo"
	"github.com/aristath/degiro-portfolio/internal/config"
	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/currency"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/aristath/degiro-portfolio/internal/modules/marketdata"
	"github.com/aristath/degiro-portfolio/internal/modules/portfolio"
	"github.com/aristath/degiro-portfolio/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates clients and services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.LedgerRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	// Clients
	container.YahooClient = yahoo.NewClient(ratelimit.New(cfg.YahooMinInterval, log), log)
	if cfg.TwelveDataAPIKey != "" {
		container.TwelveDataClient = twelvedata.NewClient(cfg.TwelveDataAPIKey, log)
	}
	if cfg.FMPAPIKey != "" {
		container.FMPClient = fmp.NewClient(cfg.FMPAPIKey, log)
	}
	container.ExchangeRateClient = exchangerate.NewClient(container.ClientDataRepo, log)
	container.OpenFIGIClient = openfigi.NewClient(cfg.OpenFIGIAPIKey, container.ClientDataRepo, log)

	container.PriceChain = marketdata.NewChain(log, priceSources(container, cfg)...)

	// Services
	container.Importer = ledger.NewImporter(container.LedgerRepo, cfg.IsIgnoredISIN, log)
	container.MarketDataService = marketdata.NewService(
		container.LedgerRepo,
		container.HistoryDB,
		container.PriceChain,
		container.YahooClient, // indices are only quoted on Yahoo
		marketdata.NewTickerResolver(log, container.YahooClient, container.OpenFIGIClient),
		marketdata.Periods{
			Initial: cfg.InitialFetchPeriod,
			Index:   cfg.IndexFetchPeriod,
			Update:  cfg.UpdateFetchPeriod,
		},
		log,
	)
	container.PortfolioService = portfolio.NewService(container.PortfolioDB, container.LedgerRepo, container.HistoryDB, log)
	container.CurrencyService = currency.NewService(container.HistoryDB, container.YahooClient, container.ExchangeRateClient, log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.BackupService = reliability.NewBackupService(store, cfg.DataDir, log, container.Databases()...)
	}

	log.Info().
		Strs("price_sources", container.PriceChain.Names()).
		Bool("backups", container.BackupService != nil).
		Msg("Services initialized")
	return nil
}

// priceSources orders the chain: the configured provider first, then the
// other keyed providers, Yahoo last as the keyless fallback.
func priceSources(container *Container, cfg *config.Config) []domain.PriceSource {
	var primary domain.PriceSource
	var others []domain.PriceSource

	if container.TwelveDataClient != nil {
		if cfg.PriceDataProvider == config.ProviderTwelveData {
			primary = container.TwelveDataClient
		} else {
			others = append(others, container.TwelveDataClient)
		}
	}
	if container.FMPClient != nil {
		if cfg.PriceDataProvider == config.ProviderFMP {
			primary = container.FMPClient
		} else {
			others = append(others, container.FMPClient)
		}
	}

	sources := make([]domain.PriceSource, 0, len(others)+2)
	if primary != nil {
		sources = append(sources, primary)
	}
	sources = append(sources, others...)
	return append(sources, container.YahooClient)
}
