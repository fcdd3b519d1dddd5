// Package twelvedata provides a client for the Twelve Data REST API.
package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/degiro-portfolio/internal/clients/ratelimit"
	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.twelvedata.com"
	// ProviderName identifies prices served by this client
	ProviderName  = "twelvedata"
	maxOutputSize = 5000
)

// Client is the Twelve Data API client. It implements domain.PriceSource.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Twelve Data client
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.With().Str("client", "twelvedata").Logger(),
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

// apiError is the body Twelve Data returns instead of data on failure
type apiError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type timeSeriesResponse struct {
	apiError
	Meta struct {
		Symbol   string `json:"symbol"`
		Currency string `json:"currency"`
	} `json:"meta"`
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

type quoteResponse struct {
	apiError
	Symbol    string `json:"symbol"`
	Currency  string `json:"currency"`
	Datetime  string `json:"datetime"`
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
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

	if resp.StatusCode == http.StatusTooManyRequests {
		return ratelimit.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (e apiError) err() error {
	if e.Status != "error" {
		return nil
	}
	if e.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", ratelimit.ErrRateLimited, e.Message)
	}
	return fmt.Errorf("twelvedata error %d: %s", e.Code, e.Message)
}

// FetchHistory returns daily bars for symbol in [start, end], oldest first.
func (c *Client) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	from, to := domain.Day(start), domain.Day(end)
	outputSize := int(to.Sub(from).Hours()/24) + 10
	if outputSize > maxOutputSize {
		outputSize = maxOutputSize
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1day")
	params.Set("start_date", domain.FormatDate(from))
	params.Set("end_date", domain.FormatDate(to))
	params.Set("outputsize", strconv.Itoa(outputSize))

	var resp timeSeriesResponse
	if err := c.get(ctx, "/time_series", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	out := make([]domain.PricePoint, 0, len(resp.Values))
	for i := len(resp.Values) - 1; i >= 0; i-- {
		v := resp.Values[i]
		date, err := domain.ParseDate(v.Datetime)
		if err != nil || date.Before(from) || date.After(to) {
			continue
		}
		closePrice := parseFloat(v.Close)
		if closePrice <= 0 {
			continue
		}
		out = append(out, domain.PricePoint{
			Date:     date,
			Open:     parseFloat(v.Open),
			High:     parseFloat(v.High),
			Low:      parseFloat(v.Low),
			Close:    closePrice,
			Volume:   parseInt(v.Volume),
			Currency: domain.Currency(resp.Meta.Currency),
		})
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(out)).Msg("Fetched history")
	return out, nil
}

// FetchLatest returns the real-time quote for symbol
func (c *Client) FetchLatest(ctx context.Context, symbol string) (*domain.PricePoint, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp quoteResponse
	if err := c.get(ctx, "/quote", params, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	closePrice := parseFloat(resp.Close)
	if closePrice <= 0 {
		return nil, nil
	}
	date := time.Now().UTC()
	if resp.Timestamp > 0 {
		date = time.Unix(resp.Timestamp, 0).UTC()
	} else if d, err := domain.ParseDate(resp.Datetime); err == nil {
		date = d
	}

	return &domain.PricePoint{
		Date:     date,
		Open:     parseFloat(resp.Open),
		High:     parseFloat(resp.High),
		Low:      parseFloat(resp.Low),
		Close:    closePrice,
		Volume:   parseInt(resp.Volume),
		Currency: domain.Currency(resp.Currency),
	}, nil
}

// parseFloat reads Twelve Data's string-encoded numbers; malformed values are zero
func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func parseInt(s string) int64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.IntPart()
}
