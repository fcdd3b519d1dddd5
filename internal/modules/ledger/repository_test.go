package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/domain"
	testingpkg "github.com/aristath/degiro-portfolio/internal/testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanup)
	return NewRepository(db.Conn(), zerolog.New(nil).Level(zerolog.Disabled))
}

func TestRepository_InstrumentLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	inst := &domain.Instrument{ISIN: "NL0000235190", Symbol: "AIRBUS", Name: "AIRBUS SE", Exchange: "EPA"}
	require.NoError(t, repo.CreateInstrument(ctx, inst))
	assert.NotZero(t, inst.ID)
	assert.Equal(t, domain.CurrencyEUR, inst.Currency)

	got, err := repo.GetInstrumentByISIN(ctx, "NL0000235190")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
	assert.False(t, got.HasMarketSymbol())

	require.NoError(t, repo.UpdateMarketSymbol(ctx, inst.ID, "AIR.PA", "yahoo"))
	got, err = repo.GetInstrument(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "AIR.PA", got.MarketSymbol)
	assert.Equal(t, "yahoo", got.DataProvider)

	_, err = repo.GetInstrument(ctx, 999)
	assert.ErrorIs(t, err, ErrInstrumentNotFound)
	_, err = repo.GetInstrumentByISIN(ctx, "XX0000000000")
	assert.ErrorIs(t, err, ErrInstrumentNotFound)
	assert.ErrorIs(t, repo.UpdateMarketSymbol(ctx, 999, "X", "yahoo"), ErrInstrumentNotFound)
}

func TestRepository_TransactionsAndHoldings(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	a := &domain.Instrument{ISIN: "A", Symbol: "A", Name: "Alpha"}
	b := &domain.Instrument{ISIN: "B", Symbol: "B", Name: "Beta"}
	require.NoError(t, repo.CreateInstrument(ctx, a))
	require.NoError(t, repo.CreateInstrument(ctx, b))

	rate := 1.08
	at := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)
	fills := []*domain.Transaction{
		{InstrumentID: a.ID, ExecutedAt: at.Add(time.Hour), Quantity: 10, Price: 10, Currency: domain.CurrencyUSD, TotalEUR: -93, ExchangeRate: &rate},
		{InstrumentID: a.ID, ExecutedAt: at, Quantity: 5, Price: 9, Currency: domain.CurrencyUSD, TotalEUR: -42},
		{InstrumentID: b.ID, ExecutedAt: at, Quantity: 3, Price: 20, Currency: domain.CurrencyEUR, TotalEUR: -60},
		{InstrumentID: b.ID, ExecutedAt: at.Add(2 * time.Hour), Quantity: -3, Price: 25, Currency: domain.CurrencyEUR, TotalEUR: 75},
	}
	for _, f := range fills {
		require.NoError(t, repo.InsertTransaction(ctx, f))
	}

	all, err := repo.ListTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, at, all[0].ExecutedAt)
	assert.Equal(t, a.ID, all[0].InstrumentID)
	assert.Equal(t, b.ID, all[1].InstrumentID)

	forA, err := repo.ListTransactionsFor(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	require.NotNil(t, forA[1].ExchangeRate)
	assert.Equal(t, 1.08, *forA[1].ExchangeRate)
	assert.Nil(t, forA[0].ExchangeRate)

	exists, err := repo.TransactionExists(ctx, a.ID, at, 5, 9)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.TransactionExists(ctx, a.ID, at, 5, 9.5)
	require.NoError(t, err)
	assert.False(t, exists)

	holdings, err := repo.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), holdings[a.ID].Quantity)
	assert.Equal(t, 2, holdings[a.ID].Transactions)
	assert.Equal(t, int64(0), holdings[b.ID].Quantity)

	held, err := repo.HeldInstruments(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "Alpha", held[0].Name)
}

func TestRepository_Purge(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	inst := &domain.Instrument{ISIN: "A", Symbol: "A", Name: "Alpha"}
	require.NoError(t, repo.CreateInstrument(ctx, inst))
	require.NoError(t, repo.InsertTransaction(ctx, &domain.Transaction{
		InstrumentID: inst.ID, ExecutedAt: time.Now(), Quantity: 1, Price: 1, Currency: domain.CurrencyEUR, TotalEUR: -1,
	}))

	counts, err := repo.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Stocks)
	assert.Equal(t, int64(1), counts.Transactions)

	instruments, err := repo.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Empty(t, instruments)
}
