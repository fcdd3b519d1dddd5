package testing

import (
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// Date returns midnight UTC of the given calendar day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NewInstrumentFixtures returns a set of test instruments covering EUR, USD and SEK listings
func NewInstrumentFixtures() []domain.Instrument {
	return []domain.Instrument{
		{ISIN: "NL0000235190", Symbol: "AIRBUS", Name: "AIRBUS SE", Exchange: "EPA", Currency: domain.CurrencyEUR, MarketSymbol: "AIR.PA", DataProvider: "yahoo"},
		{ISIN: "US0378331005", Symbol: "APPLE", Name: "APPLE INC", Exchange: "NDQ", Currency: domain.CurrencyUSD, MarketSymbol: "AAPL", DataProvider: "yahoo"},
		{ISIN: "SE0021921269", Symbol: "SAAB", Name: "SAAB AB", Exchange: "OMX", Currency: domain.CurrencySEK, MarketSymbol: "SAAB-B.ST", DataProvider: "yahoo"},
	}
}

// SeedInstrument inserts an instrument directly and returns its id
func SeedInstrument(t *testing.T, db *sql.DB, inst domain.Instrument) int64 {
	t.Helper()

	if inst.Currency == "" {
		inst.Currency = domain.CurrencyEUR
	}
	res, err := db.Exec(`
		INSERT INTO instruments (isin, symbol, name, exchange, currency, market_symbol, data_provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ISIN, inst.Symbol, inst.Name, inst.Exchange, string(inst.Currency),
		nullString(inst.MarketSymbol), nullString(inst.DataProvider), time.Now().Unix())
	if err != nil {
		t.Fatalf("Failed to seed instrument %s: %v", inst.ISIN, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read instrument id: %v", err)
	}
	return id
}

// SeedTransaction inserts a transaction directly
func SeedTransaction(t *testing.T, db *sql.DB, tx domain.Transaction) {
	t.Helper()

	if tx.Currency == "" {
		tx.Currency = domain.CurrencyEUR
	}
	_, err := db.Exec(`
		INSERT INTO transactions (instrument_id, executed_at, time_text, quantity, price, currency,
			value_eur, total_eur, venue, exchange_rate, fees_eur, order_id, import_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.InstrumentID, tx.ExecutedAt.Unix(), tx.ExecutedAt.Format("15:04"), tx.Quantity, tx.Price,
		string(tx.Currency), tx.ValueEUR, tx.TotalEUR, tx.Venue, nullFloat(tx.ExchangeRate),
		nullFloat(tx.FeesEUR), tx.OrderID, tx.ImportID)
	if err != nil {
		t.Fatalf("Failed to seed transaction: %v", err)
	}
}

// SeedPrice inserts a daily price directly
func SeedPrice(t *testing.T, db *sql.DB, p domain.PricePoint) {
	t.Helper()

	if p.Currency == "" {
		p.Currency = domain.CurrencyEUR
	}
	_, err := db.Exec(`
		INSERT INTO stock_prices (instrument_id, date, open, high, low, close, volume, currency, provider)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.InstrumentID, domain.Day(p.Date).Unix(), p.Open, p.High, p.Low, p.Close, p.Volume,
		string(p.Currency), p.Provider)
	if err != nil {
		t.Fatalf("Failed to seed price: %v", err)
	}
}

// FloatPtr returns a pointer to f
func FloatPtr(f float64) *float64 {
	return &f
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
