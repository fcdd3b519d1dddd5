package marketdata

import (
	"context"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
)

// SymbolLookup finds a market-data symbol for an ISIN. An empty symbol with
// a nil error means the provider knows nothing about it.
type SymbolLookup interface {
	LookupISIN(ctx context.Context, isin string) (string, error)
}

type manualTicker struct {
	byCurrency map[domain.Currency]string
	fallback   string
}

// Listings that ISIN lookup gets wrong or cannot find
var manualTickers = map[string]manualTicker{
	"SE0021921269": {byCurrency: map[domain.Currency]string{"SEK": "SAAB-B.ST", "EUR": "SAAB-B.ST"}, fallback: "SAAB-B.ST"},
	"IT0003856405": {byCurrency: map[domain.Currency]string{"EUR": "LDO.MI"}, fallback: "LDO.MI"},
	"NL0000235190": {byCurrency: map[domain.Currency]string{"EUR": "AIR.PA"}, fallback: "AIR.PA"},
	"DE0007030009": {byCurrency: map[domain.Currency]string{"EUR": "RHM.DE"}, fallback: "RHM.DE"},
	"NL0000687663": {byCurrency: map[domain.Currency]string{"USD": "AER", "EUR": "AER"}, fallback: "AER"},
}

// TickerResolver maps instruments to market-data symbols: the stored symbol
// first, then the manual listing map, then each ISIN lookup in turn.
type TickerResolver struct {
	lookups []SymbolLookup
	log     zerolog.Logger
}

// NewTickerResolver creates a resolver. Nil lookups are ignored.
func NewTickerResolver(log zerolog.Logger, lookups ...SymbolLookup) *TickerResolver {
	r := &TickerResolver{log: log.With().Str("component", "ticker_resolver").Logger()}
	for _, l := range lookups {
		if l != nil {
			r.lookups = append(r.lookups, l)
		}
	}
	return r
}

// Resolve returns the market-data symbol for inst, or "" when none can be found.
func (r *TickerResolver) Resolve(ctx context.Context, inst domain.Instrument) string {
	if inst.HasMarketSymbol() {
		return inst.MarketSymbol
	}

	if m, ok := manualTickers[inst.ISIN]; ok {
		symbol := m.fallback
		if s, ok := m.byCurrency[inst.Currency]; ok {
			symbol = s
		}
		r.log.Debug().Str("isin", inst.ISIN).Str("symbol", symbol).Msg("Resolved via manual mapping")
		return symbol
	}

	for i, lookup := range r.lookups {
		symbol, err := lookup.LookupISIN(ctx, inst.ISIN)
		if err != nil {
			r.log.Warn().Err(err).Str("isin", inst.ISIN).Int("lookup", i).Msg("ISIN lookup failed")
			continue
		}
		if symbol != "" {
			r.log.Info().Str("isin", inst.ISIN).Str("symbol", symbol).Int("lookup", i).Msg("Resolved via ISIN lookup")
			return symbol
		}
	}

	if len(r.lookups) > 0 {
		r.log.Warn().Str("isin", inst.ISIN).Str("name", inst.Name).Msg("Could not resolve market symbol")
	}
	return ""
}
