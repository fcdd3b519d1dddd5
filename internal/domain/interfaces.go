package domain

import (
	"context"
	"time"
)

// TransactionReader is the read side of the transaction ledger.
// Results are ordered by execution time, then insertion order.
type TransactionReader interface {
	ListTransactions(ctx context.Context) ([]Transaction, error)
	ListTransactionsFor(ctx context.Context, instrumentID int64) ([]Transaction, error)
}

// PriceReader is the read side of the price store.
// Results are ascending by date; from is inclusive when set.
type PriceReader interface {
	ListPrices(ctx context.Context, instrumentID int64, from *time.Time) ([]PricePoint, error)
}

// RateReader answers "EUR per unit of currency at or before date".
// A nil rate with a nil error means no rate is known.
type RateReader interface {
	GetRate(ctx context.Context, currency Currency, date time.Time) (*float64, error)
}

// PriceSource fetches daily prices from one market-data provider.
// Empty results are returned as nil slices / nil points without an error.
type PriceSource interface {
	Name() string
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]PricePoint, error)
	FetchLatest(ctx context.Context, symbol string) (*PricePoint, error)
}

// RateLimiter throttles calls to an external API.
type RateLimiter interface {
	// WaitIfNeeded blocks until the next call is allowed or ctx is done.
	WaitIfNeeded(ctx context.Context) error
	// ReportViolation signals that the provider rejected a call for rate reasons.
	ReportViolation()
}
