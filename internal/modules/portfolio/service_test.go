package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/modules/history"
	"github.com/aristath/degiro-portfolio/internal/modules/ledger"
	testingpkg "github.com/aristath/degiro-portfolio/internal/testing"
	"github.com/aristath/degiro-portfolio/internal/valuation"
)

type fixture struct {
	service *Service
	history *history.HistoryDB
	airbus  int64
	apple   int64
}

// newFixture seeds an EUR holding (Airbus), a USD holding with a cached
// rate (Apple) and a fully sold instrument (Saab).
func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	db, cleanup := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanup)
	conn := db.Conn()
	ctx := context.Background()

	instruments := testingpkg.NewInstrumentFixtures()
	airbus := testingpkg.SeedInstrument(t, conn, instruments[0])
	apple := testingpkg.SeedInstrument(t, conn, instruments[1])
	saab := testingpkg.SeedInstrument(t, conn, instruments[2])

	at := func(d int) time.Time { return testingpkg.Date(2024, 1, d).Add(10 * time.Hour) }

	testingpkg.SeedTransaction(t, conn, domain.Transaction{InstrumentID: airbus, ExecutedAt: at(2), Quantity: 10, Price: 100, Currency: "EUR", TotalEUR: -1000})
	testingpkg.SeedTransaction(t, conn, domain.Transaction{InstrumentID: apple, ExecutedAt: at(3), Quantity: 5, Price: 200, Currency: "USD", TotalEUR: -900})
	testingpkg.SeedTransaction(t, conn, domain.Transaction{InstrumentID: saab, ExecutedAt: at(2), Quantity: 3, Price: 100, Currency: "SEK", TotalEUR: -30})
	testingpkg.SeedTransaction(t, conn, domain.Transaction{InstrumentID: saab, ExecutedAt: at(3), Quantity: -3, Price: 100, Currency: "SEK", TotalEUR: 30})

	for d, closePrice := range map[int]float64{2: 100, 3: 110, 4: 120} {
		testingpkg.SeedPrice(t, conn, domain.PricePoint{InstrumentID: airbus, Date: testingpkg.Date(2024, 1, d), Close: closePrice, Currency: "EUR"})
	}
	for d, closePrice := range map[int]float64{3: 200, 4: 210} {
		testingpkg.SeedPrice(t, conn, domain.PricePoint{InstrumentID: apple, Date: testingpkg.Date(2024, 1, d), Close: closePrice, Currency: "USD"})
	}

	historyDB := history.NewHistoryDB(conn, logger)
	require.NoError(t, historyDB.UpsertRate(ctx, domain.ExchangeRate{From: "USD", To: "EUR", Date: testingpkg.Date(2024, 1, 1), Rate: 0.9}))

	idx, _, err := historyDB.EnsureIndex(ctx, "^GSPC", "S&P 500")
	require.NoError(t, err)
	_, err = historyDB.InsertIndexPricesIfMissing(ctx, idx.ID, []domain.PricePoint{
		{Date: testingpkg.Date(2024, 1, 2), Close: 4000},
		{Date: testingpkg.Date(2024, 1, 4), Close: 4400},
	})
	require.NoError(t, err)

	service := NewService(db, ledger.NewRepository(conn, logger), historyDB, logger)
	service.SetClock(func() time.Time { return testingpkg.Date(2024, 1, 4).Add(15 * time.Hour) })

	return fixture{service: service, history: historyDB, airbus: airbus, apple: apple}
}

func TestService_ComputePortfolioTimeline(t *testing.T) {
	f := newFixture(t)

	tl, err := f.service.ComputePortfolioTimeline(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, tl.Dates)
	// Saab was sold out and contributes nothing, not even invested capital
	assert.Equal(t, []float64{1000, 1900, 1900}, tl.Invested)
	// 10 Airbus in EUR plus 5 Apple at 0.9 EUR per USD
	assert.Equal(t, []float64{1000, 2000, 2145}, tl.Values)
	assert.Empty(t, tl.Warnings)
}

func TestService_ComputeInstrumentPerformance(t *testing.T) {
	f := newFixture(t)

	perf, err := f.service.ComputeInstrumentPerformance(context.Background(), f.apple)
	require.NoError(t, err)

	assert.Equal(t, 180.0, perf.AverageCost)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, perf.Dates)
	assert.Equal(t, []float64{0, 5}, perf.ReturnPct)
	require.NotNil(t, perf.Summary)
	assert.Equal(t, 5.0, perf.Summary.Latest)

	_, err = f.service.ComputeInstrumentPerformance(context.Background(), 999)
	assert.ErrorIs(t, err, ledger.ErrInstrumentNotFound)
}

func TestService_ComputeAllPerformance(t *testing.T) {
	f := newFixture(t)

	all, err := f.service.ComputeAllPerformance(context.Background())
	require.NoError(t, err)

	require.Len(t, all.Stocks, 2)
	assert.Equal(t, f.airbus, all.Stocks[0].StockID)
	assert.Equal(t, int64(10), all.Stocks[0].Shares)
	require.Len(t, all.Stocks[0].Performance, 3)
	assert.Equal(t, PerformancePoint{Date: "2024-01-04", Return: 20}, all.Stocks[0].Performance[2])
	assert.Equal(t, f.apple, all.Stocks[1].StockID)
}

func TestService_ComputeInstrumentPosition(t *testing.T) {
	f := newFixture(t)

	pos, err := f.service.ComputeInstrumentPosition(context.Background(), f.airbus)
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, pos.Dates)
	assert.Equal(t, []float64{100, 110, 120}, pos.Percentage)
	assert.Equal(t, []float64{1000, 1100, 1200}, pos.Value)
}

func TestService_ComputeInstrumentNormalized(t *testing.T) {
	f := newFixture(t)

	norm, err := f.service.ComputeInstrumentNormalized(context.Background(), f.airbus, nil)
	require.NoError(t, err)

	require.Len(t, norm.InstrumentSeries, 3)
	assert.Equal(t, 20.0, norm.InstrumentSeries[2].Normalized)
	require.Len(t, norm.BenchmarkSeries, 1)
	assert.Equal(t, "S&P 500", norm.BenchmarkSeries[0].Name)
	assert.Equal(t, []valuation.NormalizedPoint{
		{Date: "2024-01-02", Normalized: 0},
		{Date: "2024-01-04", Normalized: 10},
	}, norm.BenchmarkSeries[0].Data)

	norm, err = f.service.ComputeInstrumentNormalized(context.Background(), f.airbus, []int64{42})
	require.NoError(t, err)
	assert.Empty(t, norm.BenchmarkSeries)
}

func TestService_ChartData(t *testing.T) {
	f := newFixture(t)

	data, err := f.service.ChartData(context.Background(), f.airbus)
	require.NoError(t, err)

	assert.Equal(t, "AIRBUS SE", data.Stock.Name)
	assert.Equal(t, "yahoo", data.Stock.DataProvider)
	assert.Len(t, data.Prices, 3)
	require.Len(t, data.Transactions, 1)
	assert.Equal(t, ChartTransaction{Date: "2024-01-02", TransactionType: "buy", Currency: "EUR", Shares: 10, Quantity: 10, Price: 100}, data.Transactions[0])
	assert.Len(t, data.StockNormalized, 3)
	assert.Len(t, data.Indices, 1)
	assert.Len(t, data.PositionPercentage, 3)
	// Too few closes for either window
	assert.Empty(t, data.MovingAverages["sma20"])
	assert.Empty(t, data.MovingAverages["sma50"])

	_, err = f.service.ChartData(context.Background(), 999)
	assert.ErrorIs(t, err, ledger.ErrInstrumentNotFound)
}

func TestService_Holdings(t *testing.T) {
	f := newFixture(t)

	holdings, err := f.service.Holdings(context.Background())
	require.NoError(t, err)

	require.Len(t, holdings, 2)
	assert.Equal(t, "AIRBUS SE", holdings[0].Name)
	assert.Equal(t, int64(10), holdings[0].Shares)
	assert.Equal(t, 1, holdings[0].TransactionsCount)
	require.NotNil(t, holdings[0].LatestPrice)
	assert.Equal(t, 120.0, *holdings[0].LatestPrice)
	require.NotNil(t, holdings[0].PriceDate)
	assert.Equal(t, "2024-01-04", *holdings[0].PriceDate)
	require.NotNil(t, holdings[0].PriceChangePct)
	assert.InDelta(t, 9.0909, *holdings[0].PriceChangePct, 1e-3)

	assert.Equal(t, "APPLE INC", holdings[1].Name)
	assert.Equal(t, domain.CurrencyUSD, holdings[1].PriceCurrency)
}

func TestMovingAverage(t *testing.T) {
	points := make([]domain.PricePoint, 25)
	closes := make([]float64, 25)
	for i := range points {
		points[i] = domain.PricePoint{Date: testingpkg.Date(2024, 1, 1).AddDate(0, 0, i)}
		closes[i] = float64(i + 1)
	}

	sma := movingAverage(points, closes, 20)

	require.Len(t, sma, 6)
	assert.Equal(t, "2024-01-20", sma[0].Date)
	assert.Equal(t, 10.5, sma[0].Value)
	assert.Equal(t, 15.5, sma[5].Value)
}

func TestMovingAverage_RoundsHalfAwayFromZero(t *testing.T) {
	points := []domain.PricePoint{
		{Date: testingpkg.Date(2024, 1, 1)},
		{Date: testingpkg.Date(2024, 1, 2)},
	}

	// 1.005 sits just below the midpoint in binary; output rounding must
	// still agree with every other rounded figure
	sma := movingAverage(points, []float64{1.0, 1.01}, 2)

	require.Len(t, sma, 1)
	assert.Equal(t, 1.01, sma[0].Value)
	assert.Equal(t, valuation.Round2(1.005), sma[0].Value)
}

func TestMergeWarnings(t *testing.T) {
	a := []valuation.Warning{{Kind: valuation.WarningRateUnavailable, InstrumentID: 1, Currency: "USD"}}
	b := []valuation.Warning{
		{Kind: valuation.WarningRateUnavailable, InstrumentID: 1, Currency: "USD"},
		{Kind: valuation.WarningPriceMissing, InstrumentID: 1},
	}

	merged := mergeWarnings(a, b)

	require.Len(t, merged, 2)
	assert.Equal(t, valuation.WarningPriceMissing, merged[1].Kind)
	assert.Nil(t, mergeWarnings())
}
