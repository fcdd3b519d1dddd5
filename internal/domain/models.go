// Package domain provides core domain models and types.
package domain

import "time"

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencySEK Currency = "SEK"
)

// IsEUR reports whether the code is the valuation currency.
func (c Currency) IsEUR() bool {
	return c == CurrencyEUR
}

// Instrument is a tradable security identified by ISIN.
// An empty MarketSymbol means prices cannot be fetched for it.
type Instrument struct {
	CreatedAt    time.Time `json:"created_at"`
	ISIN         string    `json:"isin"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Exchange     string    `json:"exchange"`
	Currency     Currency  `json:"currency"`
	MarketSymbol string    `json:"market_symbol,omitempty"`
	DataProvider string    `json:"data_provider,omitempty"`
	ID           int64     `json:"id"`
}

// HasMarketSymbol reports whether a market-data symbol has been resolved.
func (i Instrument) HasMarketSymbol() bool {
	return i.MarketSymbol != ""
}

// Transaction is one immutable broker fill.
// Quantity is signed: positive for buys, negative for sells.
// ExchangeRate is the broker's execution rate (foreign units per EUR) and is
// only present for non-EUR fills.
type Transaction struct {
	ExecutedAt   time.Time `json:"executed_at"`
	FeesEUR      *float64  `json:"fees_eur,omitempty"`
	ExchangeRate *float64  `json:"exchange_rate,omitempty"`
	Currency     Currency  `json:"currency"`
	Venue        string    `json:"venue,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
	ImportID     string    `json:"import_id,omitempty"`
	ID           int64     `json:"id"`
	InstrumentID int64     `json:"instrument_id"`
	Quantity     int64     `json:"quantity"`
	Price        float64   `json:"price"`
	ValueEUR     float64   `json:"value_eur"`
	TotalEUR     float64   `json:"total_eur"`
}

// IsBuy reports whether the fill accumulates the position.
func (t Transaction) IsBuy() bool {
	return t.Quantity > 0
}

// Side returns "buy" or "sell".
func (t Transaction) Side() string {
	if t.IsBuy() {
		return "buy"
	}
	return "sell"
}

// Day returns the calendar day the fill executed on.
func (t Transaction) Day() time.Time {
	return Day(t.ExecutedAt)
}

// PricePoint is one daily OHLCV record for an instrument.
// Currency is the quote currency of this record and is authoritative for
// valuation, even when it differs from the instrument's native currency.
type PricePoint struct {
	Date         time.Time `json:"date"`
	Currency     Currency  `json:"currency"`
	Provider     string    `json:"provider,omitempty"`
	InstrumentID int64     `json:"instrument_id"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
}

// Index is a benchmark market index.
type Index struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	ID     int64  `json:"id"`
}

// IndexPrice is one daily close of a benchmark index.
type IndexPrice struct {
	Date    time.Time `json:"date"`
	IndexID int64     `json:"index_id"`
	Close   float64   `json:"close"`
}

// ExchangeRate is a cached daily rate: 1 unit of From equals Rate units of To.
type ExchangeRate struct {
	Date time.Time `json:"date"`
	From Currency  `json:"from_currency"`
	To   Currency  `json:"to_currency"`
	Rate float64   `json:"rate"`
}
