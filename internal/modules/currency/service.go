// Package currency serves today's EUR exchange rates for the dashboard.
package currency

import (
	"context"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Currencies are the non-EUR currencies the dashboard converts.
var Currencies = []domain.Currency{domain.CurrencyUSD, domain.CurrencyGBP, domain.CurrencySEK}

// Last-resort rates, EUR per unit
var fallbackRates = map[domain.Currency]float64{
	domain.CurrencyUSD: 0.85,
	domain.CurrencySEK: 0.093,
	domain.CurrencyGBP: 1.18,
}

// RateStore is the persisted daily rate cache (exchange_rates in portfolio.db).
type RateStore interface {
	ListRates(ctx context.Context, currency domain.Currency) ([]domain.ExchangeRate, error)
	UpsertRate(ctx context.Context, r domain.ExchangeRate) error
}

// FXSource fetches EUR rates from market FX pairs (Yahoo).
type FXSource interface {
	EURRates(ctx context.Context, currencies []domain.Currency) (map[domain.Currency]float64, error)
}

// RateAPI is a plain conversion-rate API (exchangerate-api.com).
type RateAPI interface {
	GetRate(ctx context.Context, from, to string) (float64, error)
}

// Rates is the response of CurrentRates. Cached is true when every rate came
// from today's stored rows.
type Rates struct {
	Rates  map[domain.Currency]float64 `json:"rates"`
	Cached bool                        `json:"cached"`
}

// Service resolves current rates through a chain of sources.
type Service struct {
	store RateStore
	fx    FXSource
	api   RateAPI
	now   func() time.Time
	log   zerolog.Logger
}

// NewService creates a new currency service. fx and api may be nil.
func NewService(store RateStore, fx FXSource, api RateAPI, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		fx:    fx,
		api:   api,
		now:   time.Now,
		log:   log.With().Str("service", "currency").Logger(),
	}
}

// SetClock overrides the service's notion of "now". Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CurrentRates returns EUR per unit for every supported currency, EUR
// included. Sources in order: today's stored row, Yahoo FX pairs (stored
// for the rest of the day), the rate API, then a hardcoded rate. It never
// fails; source errors are logged.
func (s *Service) CurrentRates(ctx context.Context) Rates {
	today := domain.Day(s.now())
	out := Rates{Rates: map[domain.Currency]float64{domain.CurrencyEUR: 1.0}}

	var missing []domain.Currency
	for _, cur := range Currencies {
		if rate, ok := s.storedToday(ctx, cur, today); ok {
			out.Rates[cur] = rate
			continue
		}
		missing = append(missing, cur)
	}
	out.Cached = len(missing) == 0
	if out.Cached {
		return out
	}

	fetched := s.fetchFX(ctx, missing)
	for _, cur := range missing {
		if rate, ok := fetched[cur]; ok {
			out.Rates[cur] = rate
			if err := s.store.UpsertRate(ctx, domain.ExchangeRate{From: cur, To: domain.CurrencyEUR, Date: today, Rate: rate}); err != nil {
				s.log.Warn().Err(err).Str("currency", string(cur)).Msg("Failed to store exchange rate")
			}
			continue
		}
		if rate, ok := s.fromAPI(ctx, cur); ok {
			out.Rates[cur] = rate
			continue
		}
		s.log.Warn().Str("currency", string(cur)).Msg("Using fallback exchange rate")
		out.Rates[cur] = FallbackRate(cur)
	}
	return out
}

// FallbackRate returns the hardcoded EUR rate for currency, 1 when unknown.
func FallbackRate(currency domain.Currency) float64 {
	if rate, ok := fallbackRates[currency]; ok {
		return rate
	}
	return 1.0
}

func (s *Service) storedToday(ctx context.Context, cur domain.Currency, today time.Time) (float64, bool) {
	rates, err := s.store.ListRates(ctx, cur)
	if err != nil {
		s.log.Warn().Err(err).Str("currency", string(cur)).Msg("Failed to read stored rates")
		return 0, false
	}
	for i := len(rates) - 1; i >= 0; i-- {
		r := rates[i]
		if r.To == domain.CurrencyEUR && !r.Date.Before(today) {
			return r.Rate, true
		}
	}
	return 0, false
}

func (s *Service) fetchFX(ctx context.Context, currencies []domain.Currency) map[domain.Currency]float64 {
	if s.fx == nil {
		return nil
	}
	rates, err := s.fx.EURRates(ctx, currencies)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to fetch FX rates")
		return nil
	}
	return rates
}

func (s *Service) fromAPI(ctx context.Context, cur domain.Currency) (float64, bool) {
	if s.api == nil {
		return 0, false
	}
	rate, err := s.api.GetRate(ctx, string(cur), string(domain.CurrencyEUR))
	if err != nil || rate <= 0 {
		s.log.Warn().Err(err).Str("currency", string(cur)).Msg("Rate API failed")
		return 0, false
	}
	return rate, true
}
