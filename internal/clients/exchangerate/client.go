// Package exchangerate fetches currency exchange rates from exchangerate-api.com.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/degiro-portfolio/internal/clientdata"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.exchangerate-api.com/v4/latest"

// Client for exchangerate-api.com
type Client struct {
	baseURL   string
	client    *http.Client
	cacheRepo *clientdata.Repository
	log       zerolog.Logger
}

// NewClient creates a new exchangerate-api.com client.
// cacheRepo is optional; if nil, caching is disabled.
func NewClient(cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		cacheRepo: cacheRepo,
		log:       log.With().Str("client", "exchangerate-api").Logger(),
	}
}

// SetBaseURL points the client at a different API host. Used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

type cachedExchangeRate struct {
	Rate float64 `msgpack:"rate"`
}

// GetRate returns how many units of to one unit of from buys.
// When the API fails, a stale cached rate is returned if one exists.
func (c *Client) GetRate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1.0, nil
	}
	cacheKey := from + ":" + to

	if c.cacheRepo != nil {
		var cached cachedExchangeRate
		if ok, err := c.cacheRepo.GetIfFresh(ctx, clientdata.TableExchangeRate, cacheKey, &cached); err == nil && ok {
			c.log.Debug().Str("pair", cacheKey).Float64("rate", cached.Rate).Msg("Cache hit")
			return cached.Rate, nil
		}
	}

	rate, err := c.fetch(ctx, from, to)
	if err != nil {
		if stale, ok := c.staleRate(ctx, cacheKey); ok {
			c.log.Warn().Err(err).Str("pair", cacheKey).Float64("rate", stale).Msg("API failed, using stale cached rate")
			return stale, nil
		}
		return 0, err
	}

	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(ctx, clientdata.TableExchangeRate, cacheKey, cachedExchangeRate{Rate: rate}, clientdata.TTLExchangeRate); err != nil {
			c.log.Warn().Err(err).Str("pair", cacheKey).Msg("Failed to cache exchange rate")
		}
	}

	c.log.Info().Str("from", from).Str("to", to).Float64("rate", rate).Msg("Fetched rate")
	return rate, nil
}

func (c *Client) fetch(ctx context.Context, from, to string) (float64, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var result struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	rate, ok := result.Rates[to]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("rate not found for %s->%s", from, to)
	}
	return rate, nil
}

func (c *Client) staleRate(ctx context.Context, cacheKey string) (float64, bool) {
	if c.cacheRepo == nil {
		return 0, false
	}
	var cached cachedExchangeRate
	ok, err := c.cacheRepo.Get(ctx, clientdata.TableExchangeRate, cacheKey, &cached)
	if err != nil || !ok {
		return 0, false
	}
	return cached.Rate, true
}
