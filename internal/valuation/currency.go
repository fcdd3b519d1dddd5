package valuation

import (
	"slices"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// stepSeries is a step function over calendar days: the value at d is the
// last observation on or before d.
type stepSeries struct {
	days   []time.Time
	values []float64
}

func (s *stepSeries) add(day time.Time, v float64) {
	s.days = append(s.days, day)
	s.values = append(s.values, v)
}

// at returns the value in effect on day. Observations must be ascending;
// for equal days the last one added wins.
func (s *stepSeries) at(day time.Time) (float64, bool) {
	// first index with days[i] > day
	i, _ := slices.BinarySearchFunc(s.days, day, func(e, target time.Time) int {
		if e.After(target) {
			return 1
		}
		return -1
	})
	if i == 0 {
		return 0, false
	}
	return s.values[i-1], true
}

// RateSource tells where a conversion rate came from.
type RateSource string

const (
	RateSourceNone        RateSource = "none"
	RateSourceIdentity    RateSource = "eur"
	RateSourceCache       RateSource = "cache"
	RateSourceTransaction RateSource = "transaction"
)

// Conversion is the result of converting a price to EUR.
type Conversion struct {
	Source RateSource
	EUR    float64
}

// Reliable is false when no rate was found and the raw price was returned.
func (c Conversion) Reliable() bool {
	return c.Source != RateSourceNone
}

// Resolver converts prices to EUR with step-function rate lookups.
//
// Rates are held as divisors (foreign units per EUR), the convention of the
// broker's embedded execution rates. Cached rates are stored as EUR per foreign
// unit and are inverted on construction.
type Resolver struct {
	cache    map[domain.Currency]*stepSeries
	embedded map[int64]*stepSeries
}

// NewResolver builds a resolver from the persisted rate cache and the ledger.
// Neither input needs to be sorted.
func NewResolver(rates []domain.ExchangeRate, transactions []domain.Transaction) *Resolver {
	r := &Resolver{
		cache:    make(map[domain.Currency]*stepSeries),
		embedded: make(map[int64]*stepSeries),
	}

	sortedRates := slices.Clone(rates)
	slices.SortStableFunc(sortedRates, func(a, b domain.ExchangeRate) int {
		return domain.Day(a.Date).Compare(domain.Day(b.Date))
	})
	for _, rate := range sortedRates {
		if rate.To != domain.CurrencyEUR || rate.Rate <= 0 {
			continue
		}
		s, ok := r.cache[rate.From]
		if !ok {
			s = &stepSeries{}
			r.cache[rate.From] = s
		}
		s.add(domain.Day(rate.Date), 1/rate.Rate)
	}

	for _, tx := range sortedByTime(transactions) {
		if tx.ExchangeRate == nil || *tx.ExchangeRate <= 0 {
			continue
		}
		s, ok := r.embedded[tx.InstrumentID]
		if !ok {
			s = &stepSeries{}
			r.embedded[tx.InstrumentID] = s
		}
		s.add(tx.Day(), *tx.ExchangeRate)
	}

	return r
}

// EURPrice converts price, quoted in currency on asOf, to EUR.
//
// EUR prices are returned unchanged. Otherwise the most recent cached rate on
// or before asOf is used, then the most recent execution rate embedded in one
// of the instrument's transactions. With neither, the raw price is returned
// and the conversion is marked unreliable.
func (r *Resolver) EURPrice(price float64, currency domain.Currency, asOf time.Time, instrumentID int64) Conversion {
	if currency == domain.CurrencyEUR || currency == "" {
		return Conversion{EUR: price, Source: RateSourceIdentity}
	}

	day := domain.Day(asOf)
	if s, ok := r.cache[currency]; ok {
		if divisor, found := s.at(day); found {
			return Conversion{EUR: price / divisor, Source: RateSourceCache}
		}
	}
	if s, ok := r.embedded[instrumentID]; ok {
		if divisor, found := s.at(day); found {
			return Conversion{EUR: price / divisor, Source: RateSourceTransaction}
		}
	}

	return Conversion{EUR: price, Source: RateSourceNone}
}

// sortedByTime returns a copy of transactions ordered by execution time,
// keeping ledger order for ties.
func sortedByTime(transactions []domain.Transaction) []domain.Transaction {
	out := slices.Clone(transactions)
	slices.SortStableFunc(out, func(a, b domain.Transaction) int {
		return a.ExecutedAt.Compare(b.ExecutedAt)
	})
	return out
}
