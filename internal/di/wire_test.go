package di

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/config"
	"github.com/aristath/degiro-portfolio/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:            t.TempDir(),
		Port:               8000,
		PriceDataProvider:  config.ProviderYahoo,
		InitialFetchPeriod: "max",
		IndexFetchPeriod:   "5y",
		UpdateFetchPeriod:  "7d",
		YahooMinInterval:   500 * time.Millisecond,
		MarketDataSchedule: "0 30 22 * * MON-FRI",
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.NotNil(t, container.LedgerRepo)
	assert.NotNil(t, container.HistoryDB)
	assert.NotNil(t, container.MarketDataService)
	assert.NotNil(t, container.PortfolioService)
	assert.NotNil(t, container.CurrencyService)
	assert.Nil(t, container.BackupService)
	assert.Equal(t, []string{"yahoo"}, container.PriceChain.Names())

	assert.NotNil(t, jobs.UpdateMarketData)
	assert.NotNil(t, jobs.CheckDatabases)
	assert.Nil(t, jobs.Backup)

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, RegisterJobs(sched, jobs, cfg))
	assert.Len(t, sched.Entries(), 4)
}

func TestWire_ProviderOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceDataProvider = config.ProviderFMP
	cfg.FMPAPIKey = "fmp-key"
	cfg.TwelveDataAPIKey = "td-key"

	container, _, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.Equal(t, []string{"fmp", "twelvedata", "yahoo"}, container.PriceChain.Names())
	assert.Equal(t, "fmp", container.MarketDataService.Provider())
}

func TestRegisterJobs_EmptyScheduleDisablesJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.MarketDataSchedule = ""

	container, jobs, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	sched := scheduler.New(zerolog.Nop())
	require.NoError(t, RegisterJobs(sched, jobs, cfg))
	sched.Start()
	defer sched.Stop()

	names := make([]string, 0)
	for _, e := range sched.Entries() {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"check_databases", "client_data_cleanup", "daily_maintenance"}, names)
}
