package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
)

// ErrNoData is returned when no provider in the chain has data for a symbol.
var ErrNoData = errors.New("no market data available")

// Chain fetches from an ordered list of price sources with automatic
// fallback. The first non-empty result wins and is tagged with the name of
// the source that produced it.
type Chain struct {
	sources []domain.PriceSource
	log     zerolog.Logger
}

// NewChain creates a chain over sources in priority order. Nil sources are skipped.
func NewChain(log zerolog.Logger, sources ...domain.PriceSource) *Chain {
	c := &Chain{log: log.With().Str("component", "price_chain").Logger()}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Names returns the provider names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Primary returns the name of the first provider, or "" for an empty chain.
func (c *Chain) Primary() string {
	if len(c.sources) == 0 {
		return ""
	}
	return c.sources[0].Name()
}

// FetchHistory returns daily prices for symbol in [start, end] and the
// provider that served them.
func (c *Chain) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, string, error) {
	var errs []error
	for _, source := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		points, err := source.FetchHistory(ctx, symbol, start, end)
		if err != nil {
			c.log.Warn().Err(err).Str("provider", source.Name()).Str("symbol", symbol).Msg("History fetch failed, trying next provider")
			errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
			continue
		}
		if len(points) == 0 {
			c.log.Debug().Str("provider", source.Name()).Str("symbol", symbol).Msg("Provider returned no history")
			continue
		}

		for i := range points {
			points[i].Provider = source.Name()
		}
		return points, source.Name(), nil
	}
	return nil, "", errors.Join(append([]error{fmt.Errorf("%w for %s", ErrNoData, symbol)}, errs...)...)
}

// FetchLatest returns the most recent quote for symbol and the provider that served it.
func (c *Chain) FetchLatest(ctx context.Context, symbol string) (*domain.PricePoint, string, error) {
	var errs []error
	for _, source := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		point, err := source.FetchLatest(ctx, symbol)
		if err != nil {
			c.log.Warn().Err(err).Str("provider", source.Name()).Str("symbol", symbol).Msg("Quote fetch failed, trying next provider")
			errs = append(errs, fmt.Errorf("%s: %w", source.Name(), err))
			continue
		}
		if point == nil || point.Close <= 0 {
			continue
		}

		point.Provider = source.Name()
		return point, source.Name(), nil
	}
	return nil, "", errors.Join(append([]error{fmt.Errorf("%w for %s", ErrNoData, symbol)}, errs...)...)
}
