// Package fmp provides a client for the Financial Modeling Prep REST API.
package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aristath/degiro-portfolio/internal/clients/ratelimit"
	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://financialmodelingprep.com"
	// ProviderName identifies prices served by this client
	ProviderName = "fmp"
)

// European exchange suffixes FMP does not use
var exchangeSuffixes = []string{".DE", ".F", ".AS", ".PA", ".MI", ".MC", ".ST", ".HE", ".L"}

// Listings FMP only carries as US ADRs
var adrSymbols = map[string]string{
	"IFX":    "IFNNY",
	"ERIC-B": "ERIC",
	"NOKIA":  "NOK",
}

// Client is the FMP API client. It implements domain.PriceSource.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new FMP client
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "fmp").Logger(),
	}
}

// SetBaseURL points the client at a different API host. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

// NormalizeSymbol converts a Yahoo-style symbol to the one FMP lists.
// The second return value reports whether the result is a USD ADR.
func NormalizeSymbol(symbol string) (string, bool) {
	base := symbol
	for _, suffix := range exchangeSuffixes {
		if strings.HasSuffix(symbol, suffix) {
			base = strings.TrimSuffix(symbol, suffix)
			break
		}
	}
	if adr, ok := adrSymbols[base]; ok {
		return adr, true
	}
	return base, false
}

type eodBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Open      float64 `json:"open"`
	DayHigh   float64 `json:"dayHigh"`
	DayLow    float64 `json:"dayLow"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

func (c *Client) get(ctx context.Context, path, symbol string, out interface{}) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ratelimit.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// FetchHistory returns daily bars for symbol in [start, end], oldest first.
// FMP always serves the full history; the range is applied locally.
func (c *Client) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	fmpSymbol, isADR := NormalizeSymbol(symbol)

	var bars []eodBar
	if err := c.get(ctx, "/stable/historical-price-eod/full", fmpSymbol, &bars); err != nil {
		return nil, err
	}

	var currency domain.Currency
	if isADR {
		currency = domain.CurrencyUSD
	}

	from, to := domain.Day(start), domain.Day(end)
	out := make([]domain.PricePoint, 0, len(bars))
	for _, b := range bars {
		date, err := domain.ParseDate(b.Date)
		if err != nil || date.Before(from) || date.After(to) || b.Close <= 0 {
			continue
		}
		out = append(out, domain.PricePoint{
			Date:     date,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   int64(b.Volume),
			Currency: currency,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	c.log.Debug().Str("symbol", fmpSymbol).Int("bars", len(out)).Msg("Fetched history")
	return out, nil
}

// FetchLatest returns the current quote for symbol
func (c *Client) FetchLatest(ctx context.Context, symbol string) (*domain.PricePoint, error) {
	fmpSymbol, isADR := NormalizeSymbol(symbol)

	var quotes []quote
	if err := c.get(ctx, "/stable/quote", fmpSymbol, &quotes); err != nil {
		return nil, err
	}
	if len(quotes) == 0 || quotes[0].Price <= 0 {
		return nil, nil
	}

	q := quotes[0]
	point := &domain.PricePoint{
		Date:   time.Unix(q.Timestamp, 0).UTC(),
		Open:   q.Open,
		High:   q.DayHigh,
		Low:    q.DayLow,
		Close:  q.Price,
		Volume: int64(q.Volume),
	}
	if isADR {
		point.Currency = domain.CurrencyUSD
	}
	return point, nil
}
