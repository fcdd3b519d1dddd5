package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	testingpkg "github.com/aristath/degiro-portfolio/internal/testing"
)

type serviceFixture struct {
	service *Service
	db      *sql.DB
	ledger  *ledger.Repository
	history *history.HistoryDB
	primary *testingpkg.MockPriceSource
	yahoo   *testingpkg.MockPriceSource
	airbus  int64
}

// newServiceFixture seeds an Airbus holding bought on 2024-01-02 with a
// failing primary provider in front of a working Yahoo source. The clock is
// 2024-01-10.
func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	db := testingpkg.NewMemoryDB(t, "portfolio")

	airbus := testingpkg.SeedInstrument(t, db, testingpkg.NewInstrumentFixtures()[0])
	testingpkg.SeedTransaction(t, db, domain.Transaction{
		InstrumentID: airbus,
		ExecutedAt:   time.Date(2024, 1, 2, 9, 5, 0, 0, time.UTC),
		Quantity:     10,
		Price:        100,
		Currency:     domain.CurrencyEUR,
		TotalEUR:     -1000,
	})

	primary := testingpkg.NewMockPriceSource("twelvedata")
	primary.SetError(errors.New("HTTP 503"))
	yahoo := testingpkg.NewMockPriceSource("yahoo")

	var bars []domain.PricePoint
	for d := 1; d <= 10; d++ {
		bars = append(bars, domain.PricePoint{Date: testingpkg.Date(2024, 1, d), Close: 100 + float64(d), Currency: domain.CurrencyEUR})
	}
	yahoo.SetHistory("AIR.PA", bars)
	yahoo.SetHistory("^GSPC", []domain.PricePoint{{Date: testingpkg.Date(2024, 1, 9), Close: 4700}})
	yahoo.SetHistory("^STOXX50E", []domain.PricePoint{{Date: testingpkg.Date(2024, 1, 9), Close: 4500}})

	ledgerRepo := ledger.NewRepository(db, logger)
	historyDB := history.NewHistoryDB(db, logger)
	service := NewService(
		ledgerRepo,
		historyDB,
		NewChain(logger, primary, yahoo),
		yahoo,
		NewTickerResolver(logger),
		Periods{Initial: "1y", Index: "5y", Update: "7d"},
		logger,
	)
	service.SetClock(func() time.Time { return time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC) })

	return serviceFixture{
		service: service,
		db:      db,
		ledger:  ledgerRepo,
		history: historyDB,
		primary: primary,
		yahoo:   yahoo,
		airbus:  airbus,
	}
}

func TestService_FetchInstrumentHistoryStartsAtFirstTransaction(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	inst, err := f.ledger.GetInstrument(ctx, f.airbus)
	require.NoError(t, err)

	inserted, err := f.service.FetchInstrumentHistory(ctx, *inst)
	require.NoError(t, err)
	assert.Equal(t, 9, inserted)

	prices, err := f.history.ListPrices(ctx, f.airbus, nil)
	require.NoError(t, err)
	require.Len(t, prices, 9)
	assert.Equal(t, "2024-01-02", domain.FormatDate(prices[0].Date))
	assert.Equal(t, "yahoo", prices[0].Provider)

	// Re-running never duplicates existing days
	inserted, err = f.service.FetchInstrumentHistory(ctx, *inst)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestService_FetchInstrumentHistoryResolvesAndPersistsSymbol(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := testingpkg.SeedInstrument(t, f.db, domain.Instrument{ISIN: "DE0007030009", Symbol: "RHEINMETALL", Name: "RHEINMETALL AG", Currency: domain.CurrencyEUR})
	f.yahoo.SetHistory("RHM.DE", []domain.PricePoint{{Date: testingpkg.Date(2024, 1, 9), Close: 290}})

	inst, err := f.ledger.GetInstrument(ctx, id)
	require.NoError(t, err)

	inserted, err := f.service.FetchInstrumentHistory(ctx, *inst)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	inst, err = f.ledger.GetInstrument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "RHM.DE", inst.MarketSymbol)
	assert.Equal(t, "yahoo", inst.DataProvider)

	prices, err := f.history.ListPrices(ctx, id, nil)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	// Provider did not report a currency
	assert.Equal(t, domain.CurrencyEUR, prices[0].Currency)
}

func TestService_FetchInstrumentHistoryUnresolved(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.FetchInstrumentHistory(context.Background(), domain.Instrument{ID: 99, ISIN: "XX0000000000", Name: "UNKNOWN"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no market symbol")
}

func TestService_UpdateMarketData(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	unresolved := testingpkg.SeedInstrument(t, f.db, domain.Instrument{ISIN: "XX0000000000", Symbol: "MYSTERY", Name: "MYSTERY CORP"})
	testingpkg.SeedTransaction(t, f.db, domain.Transaction{InstrumentID: unresolved, ExecutedAt: testingpkg.Date(2024, 1, 3), Quantity: 1, Price: 10, TotalEUR: -10})

	_, _, err := f.history.EnsureIndex(ctx, "^GSPC", "S&P 500")
	require.NoError(t, err)

	result, err := f.service.UpdateMarketData(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.StocksUpdated)
	assert.Equal(t, 1, result.IndicesUpdated)
	assert.Equal(t, []string{"No ticker resolved for MYSTERY CORP (ISIN: XX0000000000)"}, result.Errors)

	// 7-day window ending 2024-01-10
	prices, err := f.history.ListPrices(ctx, f.airbus, nil)
	require.NoError(t, err)
	require.Len(t, prices, 8)
	assert.Equal(t, "2024-01-03", domain.FormatDate(prices[0].Date))

	// Nothing new on a second run
	result, err = f.service.UpdateMarketData(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.StocksUpdated)
	assert.Zero(t, result.IndicesUpdated)
}

func TestService_UpdateMarketDataReportsMissingData(t *testing.T) {
	f := newServiceFixture(t)
	f.yahoo.SetHistory("AIR.PA", nil)

	result, err := f.service.UpdateMarketData(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.StocksUpdated)
	assert.Equal(t, []string{"No data available for AIRBUS SE"}, result.Errors)
}

func TestService_EnsureIndices(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, fetched, err := f.service.EnsureIndices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, fetched)

	indices, err := f.history.ListIndices(ctx)
	require.NoError(t, err)
	require.Len(t, indices, 2)

	// Existing indices with data are left alone
	created, fetched, err = f.service.EnsureIndices(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, fetched)
}

func TestService_AfterImport(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.AfterImport(context.Background(), []int64{f.airbus})
	require.NoError(t, err)
	assert.Equal(t, 9, result.PricesFetched)
	assert.Equal(t, 2, result.IndicesCreated)
	assert.Equal(t, 2, result.IndicesUpdated)

	// Instruments that already have prices are skipped
	result, err = f.service.AfterImport(context.Background(), []int64{f.airbus})
	require.NoError(t, err)
	assert.Zero(t, result.PricesFetched)
	assert.Zero(t, result.IndicesCreated)
}

func TestService_AfterImportCollectsErrors(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.AfterImport(context.Background(), []int64{f.airbus, 404})
	assert.ErrorIs(t, err, ledger.ErrInstrumentNotFound)
	assert.Equal(t, 9, result.PricesFetched)
}

func TestService_RefreshLiveQuotes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	testingpkg.SeedPrice(t, f.db, domain.PricePoint{InstrumentID: f.airbus, Date: testingpkg.Date(2024, 1, 8), Close: 100})
	testingpkg.SeedPrice(t, f.db, domain.PricePoint{InstrumentID: f.airbus, Date: testingpkg.Date(2024, 1, 9), Close: 110})
	f.yahoo.SetLatest("AIR.PA", domain.PricePoint{
		Date:  time.Date(2024, 1, 10, 14, 30, 0, 0, time.UTC),
		Open:  111,
		High:  122,
		Low:   109,
		Close: 121,
	})

	result, err := f.service.RefreshLiveQuotes(ctx)
	require.NoError(t, err)
	require.Len(t, result.Quotes, 1)
	assert.Empty(t, result.Errors)

	q := result.Quotes[0]
	assert.Equal(t, "AIR.PA", q.Ticker)
	assert.Equal(t, "yahoo", q.Provider)
	assert.Equal(t, domain.CurrencyEUR, q.Currency)
	assert.Equal(t, "2024-01-10 14:30:00", q.Timestamp)
	assert.InDelta(t, 11.0, q.Change, 1e-9)
	assert.InDelta(t, 10.0, q.ChangePercent, 1e-9)

	latest, err := f.history.LatestPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10", domain.FormatDate(latest[f.airbus].Date))
	assert.Equal(t, 121.0, latest[f.airbus].Close)

	// Today's row now exists; the change is still measured against yesterday
	result, err = f.service.RefreshLiveQuotes(ctx)
	require.NoError(t, err)
	require.Len(t, result.Quotes, 1)
	assert.InDelta(t, 11.0, result.Quotes[0].Change, 1e-9)

	count, err := f.history.CountPrices(ctx, f.airbus)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestService_RefreshLiveQuotesKeepsClosedDays(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// Clock is 2024-01-10; the latest bar is from a closed earlier session
	testingpkg.SeedPrice(t, f.db, domain.PricePoint{InstrumentID: f.airbus, Date: testingpkg.Date(2024, 1, 8), Close: 100})
	f.yahoo.SetLatest("AIR.PA", domain.PricePoint{Date: testingpkg.Date(2024, 1, 8), Close: 999})

	result, err := f.service.RefreshLiveQuotes(ctx)
	require.NoError(t, err)
	require.Len(t, result.Quotes, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 999.0, result.Quotes[0].Price)

	prices, err := f.history.ListPrices(ctx, f.airbus, nil)
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "2024-01-08", domain.FormatDate(prices[0].Date))
	assert.Equal(t, 100.0, prices[0].Close)

	// A missing closed day is still filled in
	f.yahoo.SetLatest("AIR.PA", domain.PricePoint{Date: testingpkg.Date(2024, 1, 9), Close: 105})
	_, err = f.service.RefreshLiveQuotes(ctx)
	require.NoError(t, err)

	prices, err = f.history.ListPrices(ctx, f.airbus, nil)
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, 105.0, prices[1].Close)
}

func TestService_RefreshLiveQuotesWithoutQuote(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.RefreshLiveQuotes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Quotes)
	assert.Equal(t, []string{"No quote for AIRBUS SE"}, result.Errors)
}
