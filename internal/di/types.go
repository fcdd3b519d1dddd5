// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/degiro-portfolio/internal/clientdata"
	"github.com/aristath/degiro-portfolio/internal/clients/exchangerate"
	"github.com/aristath/degiro-portfolio/internal/clients/fmp"
	"github.com/aristath/degiro-portfolio/internal/clients/openfigi"
	"github.com/aristath/degiro-portfolio/internal/clients/twelvedata"
	"github.com/aristath/degiro-portfolio/internal/clients/yahoo"
	"github.com/aristath/degiro-portfolio/internal/database"
	"github.com/aristath/degiro-portfolio/internal/modules/currency"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	"github.com/aristath/degiro-portfolio/internal/modules/marketdata"
	"github.com/aristath/degiro-portfolio/internal/modules/portfolio"
	"github.com/aristath/degiro-portfolio/internal/reliability"
	"github.com/aristath/degiro-portfolio/internal/scheduler"
)

// Container holds all application dependencies. It is created by Wire and
// handed to the server and the scheduler.
type Container struct {
	// Databases
	PortfolioDB  *database.DB // instruments, transactions, prices, indices, exchange rates
	ClientDataDB *database.DB // external API response cache

	// Repositories
	LedgerRepo     *ledger.Repository
	HistoryDB      *history.HistoryDB
	ClientDataRepo *clientdata.Repository

	// Clients
	YahooClient        *yahoo.Client
	TwelveDataClient   *twelvedata.Client // nil unless configured
	FMPClient          *fmp.Client        // nil unless configured
	ExchangeRateClient *exchangerate.Client
	OpenFIGIClient     *openfigi.Client

	// Services
	Importer          *ledger.Importer
	PriceChain        *marketdata.Chain
	MarketDataService *marketdata.Service
	PortfolioService  *portfolio.Service
	CurrencyService   *currency.Service
	BackupService     *reliability.BackupService // nil when backups are disabled
}

// Databases returns the open databases
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.PortfolioDB, c.ClientDataDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close closes all databases
func (c *Container) Close() error {
	var firstErr error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// JobInstances holds the background jobs for scheduling and manual runs
type JobInstances struct {
	UpdateMarketData  *scheduler.UpdateMarketDataJob
	CheckDatabases    *scheduler.CheckDatabasesJob
	ClientDataCleanup *clientdata.CleanupJob
	DailyMaintenance  *reliability.DailyMaintenanceJob
	Backup            *reliability.BackupJob // nil when backups are disabled
}
