// Package yahoo fetches daily prices, quotes, FX pairs and ISIN lookups from
// Yahoo Finance through go-yfinance.
package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/degiro-portfolio/internal/clients/ratelimit"
	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/wnjoon/go-yfinance/pkg/lookup"
	"github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/multi"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
)

// ProviderName identifies prices served by this client
const ProviderName = "yahoo"

// Exchange suffixes and the currency their listings quote in
var suffixCurrencies = map[string]domain.Currency{
	".ST": domain.CurrencySEK,
	".L":  domain.CurrencyGBP,
	".PA": domain.CurrencyEUR,
	".DE": domain.CurrencyEUR,
	".F":  domain.CurrencyEUR,
	".MI": domain.CurrencyEUR,
	".AS": domain.CurrencyEUR,
	".MC": domain.CurrencyEUR,
	".HE": domain.CurrencyEUR,
	".BR": domain.CurrencyEUR,
	".LS": domain.CurrencyEUR,
}

// Client implements domain.PriceSource and the ISIN lookup on top of
// go-yfinance. Every outgoing call goes through the rate limiter.
type Client struct {
	limiter domain.RateLimiter
	now     func() time.Time
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client
func NewClient(limiter domain.RateLimiter, log zerolog.Logger) *Client {
	return &Client{
		limiter: limiter,
		now:     time.Now,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return ctx.Err()
	}
	return c.limiter.WaitIfNeeded(ctx)
}

// check reports throttling to the limiter and passes err through
func (c *Client) check(err error) error {
	if err != nil && c.limiter != nil && ratelimit.IsRateLimitError(err) {
		c.limiter.ReportViolation()
		return fmt.Errorf("%w: %v", ratelimit.ErrRateLimited, err)
	}
	return err
}

func (c *Client) history(ctx context.Context, symbol, period string) ([]models.Bar, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", c.check(err))
	}
	defer t.Close()

	bars, err := t.History(models.HistoryParams{
		Period:     period,
		Interval:   "1d",
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get historical prices for %s: %w", symbol, c.check(err))
	}
	return bars, nil
}

// FetchHistory returns daily bars for symbol in [start, end]
func (c *Client) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	bars, err := c.history(ctx, symbol, periodFor(start, c.now()))
	if err != nil {
		return nil, err
	}

	from, to := domain.Day(start), domain.Day(end)
	currency := CurrencyForSymbol(symbol)

	var out []domain.PricePoint
	for _, bar := range bars {
		day := domain.Day(bar.Date)
		if day.Before(from) || day.After(to) || bar.Close <= 0 {
			continue
		}
		out = append(out, domain.PricePoint{
			Date:     day,
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   int64(bar.Volume),
			Currency: currency,
		})
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(out)).Msg("Fetched history")
	return out, nil
}

// FetchLatest returns the latest daily bar, with the close replaced by the
// live market price when Yahoo has one.
func (c *Client) FetchLatest(ctx context.Context, symbol string) (*domain.PricePoint, error) {
	bars, err := c.history(ctx, symbol, "5d")
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	last := bars[len(bars)-1]
	point := &domain.PricePoint{
		Date:     last.Date.UTC(),
		Open:     last.Open,
		High:     last.High,
		Low:      last.Low,
		Close:    last.Close,
		Volume:   int64(last.Volume),
		Currency: CurrencyForSymbol(symbol),
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	t, err := ticker.New(symbol)
	if err != nil {
		return point, nil
	}
	defer t.Close()

	quote, err := t.Quote()
	if err != nil || quote == nil {
		c.log.Debug().Err(c.check(err)).Str("symbol", symbol).Msg("Quote unavailable, using last bar")
		return point, nil
	}
	switch {
	case quote.RegularMarketPrice > 0:
		point.Close = quote.RegularMarketPrice
	case quote.PostMarketPrice > 0:
		point.Close = quote.PostMarketPrice
	case quote.PreMarketPrice > 0:
		point.Close = quote.PreMarketPrice
	}
	return point, nil
}

// LookupISIN searches Yahoo for the equity listed under isin. Returns "" when
// nothing matches.
func (c *Client) LookupISIN(ctx context.Context, isin string) (string, error) {
	if isin == "" {
		return "", fmt.Errorf("ISIN cannot be empty")
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	lookupClient, err := lookup.New(isin)
	if err != nil {
		return "", fmt.Errorf("failed to create lookup client: %w", c.check(err))
	}
	defer lookupClient.Close()

	results, err := lookupClient.Stock(1)
	if err != nil {
		return "", fmt.Errorf("failed to lookup ISIN %s: %w", isin, c.check(err))
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].Symbol, nil
}

// FXPair returns the Yahoo symbol quoting EUR per unit of currency.
func FXPair(currency domain.Currency) string {
	return string(currency) + "EUR=X"
}

// EURRates fetches the latest close of each currency's EUR pair in one batch
// download. Currencies without data are absent from the result.
func (c *Client) EURRates(ctx context.Context, currencies []domain.Currency) (map[domain.Currency]float64, error) {
	if len(currencies) == 0 {
		return map[domain.Currency]float64{}, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	symbols := make([]string, len(currencies))
	for i, cur := range currencies {
		symbols[i] = FXPair(cur)
	}

	params := models.DefaultDownloadParams()
	params.Symbols = symbols
	params.Period = "5d"
	params.Interval = "1d"

	result, err := multi.Download(symbols, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to download FX rates: %w", c.check(err))
	}

	rates := make(map[domain.Currency]float64, len(currencies))
	for _, cur := range currencies {
		pair := FXPair(cur)
		if bars, ok := result.Data[pair]; ok && len(bars) > 0 {
			if rate := bars[len(bars)-1].Close; rate > 0 {
				rates[cur] = rate
			}
		} else if err, ok := result.Errors[pair]; ok {
			c.log.Warn().Err(err).Str("pair", pair).Msg("Failed to get FX rate")
		}
	}
	return rates, nil
}

// CurrencyForSymbol infers the quote currency from a Yahoo exchange suffix.
// Symbols without a suffix are US listings. Unknown suffixes return "".
func CurrencyForSymbol(symbol string) domain.Currency {
	if strings.HasPrefix(symbol, "^") || strings.HasSuffix(symbol, "=X") {
		return ""
	}
	dot := strings.LastIndex(symbol, ".")
	if dot < 0 {
		return domain.CurrencyUSD
	}
	return suffixCurrencies[strings.ToUpper(symbol[dot:])]
}

// periodFor picks the smallest Yahoo period that reaches back to start
func periodFor(start, now time.Time) string {
	start = domain.Day(start)
	today := domain.Day(now)
	periods := []struct {
		name  string
		reach time.Time
	}{
		{"5d", today.AddDate(0, 0, -5)},
		{"1mo", today.AddDate(0, -1, 0)},
		{"3mo", today.AddDate(0, -3, 0)},
		{"6mo", today.AddDate(0, -6, 0)},
		{"1y", today.AddDate(-1, 0, 0)},
		{"2y", today.AddDate(-2, 0, 0)},
		{"5y", today.AddDate(-5, 0, 0)},
		{"10y", today.AddDate(-10, 0, 0)},
	}
	for _, p := range periods {
		if !start.Before(p.reach) {
			return p.name
		}
	}
	return "max"
}
