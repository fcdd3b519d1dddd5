package valuation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func eurInstrument(id int64) domain.Instrument {
	return domain.Instrument{ID: id, ISIN: "NL000000000" + string(rune('0'+id)), Name: "Instrument", Currency: domain.CurrencyEUR, MarketSymbol: "SYM"}
}

func buy(id int64, d time.Time, qty int64, totalEUR float64) domain.Transaction {
	return domain.Transaction{InstrumentID: id, ExecutedAt: d.Add(10 * time.Hour), Quantity: qty, Price: totalEUR / float64(qty), Currency: domain.CurrencyEUR, TotalEUR: -totalEUR}
}

func sell(id int64, d time.Time, qty int64, totalEUR float64) domain.Transaction {
	return domain.Transaction{InstrumentID: id, ExecutedAt: d.Add(11 * time.Hour), Quantity: -qty, Price: totalEUR / float64(qty), Currency: domain.CurrencyEUR, TotalEUR: totalEUR}
}

func price(id int64, d time.Time, close float64) domain.PricePoint {
	return domain.PricePoint{InstrumentID: id, Date: d, Close: close, Currency: domain.CurrencyEUR}
}

func TestScenarioA_SingleBuyTwoPrices(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:        day(2),
		Instruments:  []domain.Instrument{eurInstrument(1)},
		Transactions: []domain.Transaction{buy(1, day(1), 10, 1000)},
		Prices:       map[int64][]domain.PricePoint{1: {price(1, day(2), 110), price(1, day(1), 100)}},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, tl.Dates)
	assert.Equal(t, []float64{1000, 1000}, tl.Invested)
	assert.Equal(t, []float64{1000, 1100}, tl.Values)
	assert.Empty(t, tl.Warnings)
	assert.Empty(t, tl.UnreliableDates)
}

func TestScenarioB_PartialSell(t *testing.T) {
	events := Events([]domain.Transaction{
		sell(1, day(3), 4, 500),
		buy(1, day(1), 10, 1000),
	})
	replay := NewReplay(events)

	assert.Equal(t, 1, replay.AdvanceTo(day(2)))
	assert.Equal(t, int64(10), replay.Holding(1))
	assert.Equal(t, 1000.0, replay.Invested())

	assert.Equal(t, 1, replay.AdvanceTo(day(3)))
	assert.Equal(t, int64(6), replay.Holding(1))
	assert.Equal(t, 500.0, replay.Invested())
	assert.True(t, replay.Done())
}

func TestScenarioC_EmbeddedRate(t *testing.T) {
	rate := 11.5
	txs := []domain.Transaction{{
		InstrumentID: 7, ExecutedAt: day(1), Quantity: 10, Price: 100,
		Currency: domain.CurrencySEK, TotalEUR: -87, ExchangeRate: &rate,
	}}
	r := NewResolver(nil, txs)

	conv := r.EURPrice(115, domain.CurrencySEK, day(10), 7)

	assert.Equal(t, 10.0, conv.EUR)
	assert.Equal(t, RateSourceTransaction, conv.Source)
	assert.True(t, conv.Reliable())
}

func TestScenarioD_HeldWithoutPrices(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:        day(5),
		Instruments:  []domain.Instrument{eurInstrument(1)},
		Transactions: []domain.Transaction{buy(1, day(1), 10, 1000)},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []string{"2024-01-05"}, tl.Dates)
	assert.Equal(t, []float64{1000}, tl.Invested)
	assert.Equal(t, []float64{0}, tl.Values)
	require.Len(t, tl.Warnings, 1)
	assert.Equal(t, WarningPriceMissing, tl.Warnings[0].Kind)
}

func TestScenarioD_MissingOnSomeDates(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:       day(3),
		Instruments: []domain.Instrument{eurInstrument(1), eurInstrument(2)},
		Transactions: []domain.Transaction{
			buy(1, day(1), 1, 100),
			buy(2, day(1), 2, 100),
		},
		Prices: map[int64][]domain.PricePoint{
			1: {price(1, day(1), 100), price(1, day(2), 100), price(1, day(3), 100)},
			2: {price(2, day(2), 60)},
		},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []float64{100, 220, 220}, tl.Values)
	assert.Equal(t, []float64{200, 200, 200}, tl.Invested)
	require.Len(t, tl.Warnings, 1)
	assert.Equal(t, WarningPriceMissing, tl.Warnings[0].Kind)
	assert.Equal(t, "2024-01-01", tl.Warnings[0].FirstDate)
}

func TestScenarioE_ExitedInstrumentIgnored(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:       day(4),
		Instruments: []domain.Instrument{eurInstrument(1), eurInstrument(2)},
		Transactions: []domain.Transaction{
			buy(1, day(1), 10, 1000),
			sell(1, day(2), 10, 1200),
			buy(2, day(3), 5, 500),
		},
		Prices: map[int64][]domain.PricePoint{
			1: {price(1, day(1), 100), price(1, day(2), 120), price(1, day(3), 125), price(1, day(4), 130)},
			2: {price(2, day(3), 100), price(2, day(4), 102)},
		},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, tl.Dates)
	assert.Equal(t, []float64{500, 500}, tl.Invested)
	assert.Equal(t, []float64{500, 510}, tl.Values)
	assert.Equal(t, []int64{2}, e.HeldIDs())
}

func TestTimeline_EmptyWhenNothingHeld(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:        day(4),
		Instruments:  []domain.Instrument{eurInstrument(1)},
		Transactions: []domain.Transaction{buy(1, day(1), 10, 1000), sell(1, day(2), 10, 900)},
		Prices:       map[int64][]domain.PricePoint{1: {price(1, day(1), 100)}},
	})

	tl := e.PortfolioTimeline()

	assert.NotNil(t, tl.Dates)
	assert.Empty(t, tl.Dates)
	assert.Empty(t, tl.Values)
}

func TestTimeline_AppendsToday(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:        day(10),
		Instruments:  []domain.Instrument{eurInstrument(1)},
		Transactions: []domain.Transaction{buy(1, day(1), 2, 200)},
		Prices:       map[int64][]domain.PricePoint{1: {price(1, day(1), 100), price(1, day(2), 105)}},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-10"}, tl.Dates)
	assert.Equal(t, []float64{200, 210, 210}, tl.Values)
}

func TestTimeline_StartsAtFirstTransaction(t *testing.T) {
	e := NewEngine(Snapshot{
		Today:        day(3),
		Instruments:  []domain.Instrument{eurInstrument(1)},
		Transactions: []domain.Transaction{buy(1, day(2), 1, 100)},
		Prices:       map[int64][]domain.PricePoint{1: {price(1, day(1), 90), price(1, day(2), 100), price(1, day(3), 101)}},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, tl.Dates)
}

func TestTimeline_UnresolvedSymbol(t *testing.T) {
	unresolved := eurInstrument(2)
	unresolved.MarketSymbol = ""
	e := NewEngine(Snapshot{
		Today:       day(2),
		Instruments: []domain.Instrument{eurInstrument(1), unresolved},
		Transactions: []domain.Transaction{
			buy(1, day(1), 1, 100),
			buy(2, day(1), 1, 50),
		},
		Prices: map[int64][]domain.PricePoint{
			1: {price(1, day(1), 100), price(1, day(2), 110)},
			2: {price(2, day(1), 999)},
		},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []float64{150, 150}, tl.Invested)
	assert.Equal(t, []float64{100, 110}, tl.Values)
	require.Len(t, tl.Warnings, 1)
	assert.Equal(t, WarningSymbolUnresolved, tl.Warnings[0].Kind)
	assert.Equal(t, int64(2), tl.Warnings[0].InstrumentID)
}

func TestTimeline_RateUnavailable(t *testing.T) {
	inst := eurInstrument(1)
	inst.Currency = domain.CurrencyUSD
	p := price(1, day(1), 50)
	p.Currency = domain.CurrencyUSD
	e := NewEngine(Snapshot{
		Today:        day(1),
		Instruments:  []domain.Instrument{inst},
		Transactions: []domain.Transaction{buy(1, day(1), 2, 90)},
		Prices:       map[int64][]domain.PricePoint{1: {p}},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []float64{100}, tl.Values)
	assert.Equal(t, []string{"2024-01-01"}, tl.UnreliableDates)
	require.Len(t, tl.Warnings, 1)
	assert.Equal(t, WarningRateUnavailable, tl.Warnings[0].Kind)
	assert.Equal(t, "USD", tl.Warnings[0].Currency)
}

func TestTimeline_CachedRateConvertsForeignPrices(t *testing.T) {
	inst := eurInstrument(1)
	inst.Currency = domain.CurrencyUSD
	p1, p2 := price(1, day(1), 100), price(1, day(3), 100)
	p1.Currency, p2.Currency = domain.CurrencyUSD, domain.CurrencyUSD
	e := NewEngine(Snapshot{
		Today:        day(3),
		Instruments:  []domain.Instrument{inst},
		Transactions: []domain.Transaction{buy(1, day(1), 1, 90)},
		Prices:       map[int64][]domain.PricePoint{1: {p1, p2}},
		Rates: []domain.ExchangeRate{
			{From: domain.CurrencyUSD, To: domain.CurrencyEUR, Date: day(2), Rate: 0.8},
			{From: domain.CurrencyUSD, To: domain.CurrencyEUR, Date: day(1), Rate: 0.9},
		},
	})

	tl := e.PortfolioTimeline()

	assert.Equal(t, []float64{90, 80}, tl.Values)
	assert.Empty(t, tl.Warnings)
}

func TestResolver_Priorities(t *testing.T) {
	embedded := 10.0
	txs := []domain.Transaction{{InstrumentID: 1, ExecutedAt: day(1), Quantity: 1, Currency: domain.CurrencyUSD, ExchangeRate: &embedded}}
	rates := []domain.ExchangeRate{
		{From: domain.CurrencyUSD, To: domain.CurrencyEUR, Date: day(5), Rate: 0.5},
		{From: domain.CurrencyGBP, To: domain.CurrencyUSD, Date: day(1), Rate: 2},
		{From: domain.CurrencyUSD, To: domain.CurrencyEUR, Date: day(6), Rate: 0},
	}
	r := NewResolver(rates, txs)

	// before the cached rate exists: embedded transaction rate
	c := r.EURPrice(100, domain.CurrencyUSD, day(3), 1)
	assert.Equal(t, RateSourceTransaction, c.Source)
	assert.Equal(t, 10.0, c.EUR)

	// cache wins once it has an observation; the zero rate is ignored
	c = r.EURPrice(100, domain.CurrencyUSD, day(9), 1)
	assert.Equal(t, RateSourceCache, c.Source)
	assert.Equal(t, 50.0, c.EUR)

	// non-EUR target pairs are not used
	c = r.EURPrice(100, domain.CurrencyGBP, day(9), 2)
	assert.False(t, c.Reliable())
	assert.Equal(t, 100.0, c.EUR)

	// before any observation at all
	c = r.EURPrice(100, domain.CurrencyUSD, day(0), 1)
	assert.Equal(t, RateSourceNone, c.Source)
}

func TestResolver_StepFunctionLatestEmbeddedRate(t *testing.T) {
	r1, r2 := 10.0, 20.0
	txs := []domain.Transaction{
		{InstrumentID: 1, ExecutedAt: day(5), Quantity: 1, ExchangeRate: &r2},
		{InstrumentID: 1, ExecutedAt: day(1), Quantity: 1, ExchangeRate: &r1},
		{InstrumentID: 1, ExecutedAt: day(3), Quantity: 1},
	}
	r := NewResolver(nil, txs)

	assert.Equal(t, 10.0, r.EURPrice(100, domain.CurrencySEK, day(4), 1).EUR)
	assert.Equal(t, 5.0, r.EURPrice(100, domain.CurrencySEK, day(5), 1).EUR)
	assert.Equal(t, 5.0, r.EURPrice(100, domain.CurrencySEK, day(50), 1).EUR)
	// other instruments do not share embedded rates
	assert.False(t, r.EURPrice(100, domain.CurrencySEK, day(50), 2).Reliable())
}

func TestProperty_EURRoundTrip(t *testing.T) {
	r := NewResolver(nil, nil)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		p := rng.Float64() * 1e6
		c := r.EURPrice(p, domain.CurrencyEUR, day(rng.Intn(400)), rng.Int63())
		assert.Equal(t, p, c.EUR)
		assert.Equal(t, RateSourceIdentity, c.Source)
	}
}

func TestProperty_NoLookAhead(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var points []domain.PricePoint
	for i := 0; i < 200; i++ {
		points = append(points, price(1, day(rng.Intn(300)), rng.Float64()*100))
	}
	idx := NewPriceIndex(points)
	cursor := idx.Cursor()

	for d := -5; d < 320; d++ {
		target := day(d)
		p, ok := idx.OnOrBefore(target)
		cp, cok := cursor.OnOrBefore(target)

		require.Equal(t, ok, cok)
		if ok {
			assert.False(t, p.Date.After(target))
			assert.Equal(t, p, cp)
			if next, found := idx.OnOrBefore(target.AddDate(0, 0, 1)); found && next.Date.After(target) {
				assert.True(t, p.Date.Before(next.Date))
			}
		}
	}
}

func TestPriceIndex_DedupesAndPrefersExactMatch(t *testing.T) {
	idx := NewPriceIndex([]domain.PricePoint{
		price(1, day(3), 30),
		price(1, day(1), 10),
		price(1, day(1).Add(15*time.Hour), 11),
	})

	assert.Equal(t, 2, idx.Len())
	p, ok := idx.OnOrBefore(day(1))
	require.True(t, ok)
	assert.Equal(t, 11.0, p.Close)

	p, ok = idx.OnOrBefore(day(2))
	require.True(t, ok)
	assert.Equal(t, 11.0, p.Close)

	p, ok = idx.OnOrBefore(day(3).Add(20 * time.Hour))
	require.True(t, ok)
	assert.Equal(t, 30.0, p.Close)

	_, ok = idx.OnOrBefore(day(0))
	assert.False(t, ok)
}

func TestPriceCursor_BackwardsFallsBackToSearch(t *testing.T) {
	idx := NewPriceIndex([]domain.PricePoint{price(1, day(1), 1), price(1, day(5), 5)})
	c := idx.Cursor()

	p, _ := c.OnOrBefore(day(6))
	assert.Equal(t, 5.0, p.Close)
	p, _ = c.OnOrBefore(day(2))
	assert.Equal(t, 1.0, p.Close)
	p, _ = c.OnOrBefore(day(7))
	assert.Equal(t, 5.0, p.Close)
}

func TestProperty_MonotonicHoldings(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var txs []domain.Transaction
	for i := 0; i < 150; i++ {
		qty := int64(rng.Intn(20) - 8)
		if qty == 0 {
			qty = 1
		}
		txs = append(txs, domain.Transaction{InstrumentID: 1, ExecutedAt: day(rng.Intn(100)).Add(time.Duration(rng.Intn(24)) * time.Hour), Quantity: qty, TotalEUR: float64(qty) * 10})
	}

	replay := NewReplay(Events(txs))
	prev := int64(0)
	for d := 0; d < 100; d++ {
		replay.AdvanceTo(day(d))
		var expectedDelta int64
		for _, tx := range txs {
			if tx.Day().Equal(day(d)) {
				expectedDelta += tx.Quantity
			}
		}
		assert.Equal(t, prev+expectedDelta, replay.Holding(1), "day %d", d)
		prev = replay.Holding(1)
	}
	assert.True(t, replay.Done())
	assert.Equal(t, CurrentHoldings(txs)[1], prev)
}

func TestProperty_IdempotentReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	snap := Snapshot{Today: day(60), Prices: map[int64][]domain.PricePoint{}}
	for id := int64(1); id <= 5; id++ {
		snap.Instruments = append(snap.Instruments, eurInstrument(id))
		for i := 0; i < 10; i++ {
			snap.Transactions = append(snap.Transactions, buy(id, day(rng.Intn(50)), int64(rng.Intn(9)+1), rng.Float64()*1000))
		}
		for d := 0; d < 60; d += 2 {
			snap.Prices[id] = append(snap.Prices[id], price(id, day(d), rng.Float64()*100))
		}
	}

	first := NewEngine(snap).PortfolioTimeline()
	second := NewEngine(snap).PortfolioTimeline()
	e := NewEngine(snap)

	assert.Equal(t, first, second)
	assert.Equal(t, e.PortfolioTimeline(), e.PortfolioTimeline())
	assert.NotEmpty(t, first.Dates)
}

func TestEvents_SignFromQuantity(t *testing.T) {
	events := Events([]domain.Transaction{
		{InstrumentID: 1, ExecutedAt: day(1), Quantity: 5, TotalEUR: 500},   // sign of total is wrong
		{InstrumentID: 1, ExecutedAt: day(1), Quantity: -2, TotalEUR: -210}, // ditto
	})

	require.Len(t, events, 2)
	assert.Equal(t, 500.0, events[0].InvestedDelta)
	assert.Equal(t, -210.0, events[1].InvestedDelta)
	assert.Equal(t, int64(-2), events[1].QuantityDelta)
}

func TestEvents_StableTies(t *testing.T) {
	at := day(1).Add(9 * time.Hour)
	events := Events([]domain.Transaction{
		{InstrumentID: 3, ExecutedAt: at, Quantity: 1},
		{InstrumentID: 1, ExecutedAt: at, Quantity: 1},
		{InstrumentID: 2, ExecutedAt: at.Add(-time.Hour), Quantity: 1},
	})

	ids := []int64{events[0].InstrumentID, events[1].InstrumentID, events[2].InstrumentID}
	assert.Equal(t, []int64{2, 3, 1}, ids)
}
