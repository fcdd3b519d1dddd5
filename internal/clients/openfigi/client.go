// Package openfigi provides a client for Bloomberg's OpenFIGI API.
// OpenFIGI is a free service for mapping securities identifiers like ISINs
// to exchange-specific ticker symbols.
package openfigi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/degiro-portfolio/internal/clientdata"
	"github.com/aristath/degiro-portfolio/internal/clients/ratelimit"
	"github.com/rs/zerolog"
)

// Rate limits: 25 requests/minute without API key, 25,000 with key
const defaultBaseURL = "https://api.openfigi.com/v3"

// MappingRequest represents a request to the OpenFIGI mapping API.
type MappingRequest struct {
	IDType    string `json:"idType"`
	IDValue   string `json:"idValue"`
	MarketSec string `json:"marketSecDes,omitempty"` // e.g., "Equity"
}

// MappingResult represents a single result from the OpenFIGI API.
type MappingResult struct {
	FIGI         string `json:"figi" msgpack:"figi"`
	Ticker       string `json:"ticker" msgpack:"ticker"`
	ExchCode     string `json:"exchCode" msgpack:"exch_code"` // Bloomberg exchange code (e.g., "US", "LN", "GY")
	Name         string `json:"name" msgpack:"name"`
	MarketSector string `json:"marketSector" msgpack:"market_sector"`
	SecurityType string `json:"securityType" msgpack:"security_type"`
}

// MappingResponse represents a response item from the OpenFIGI API.
type MappingResponse struct {
	Data    []MappingResult `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// Bloomberg exchange codes and the Yahoo suffix of the same listing
var yahooSuffixes = map[string]string{
	"US": "",
	"UN": "",
	"UW": "",
	"LN": ".L",
	"GY": ".DE",
	"GR": ".DE",
	"GF": ".F",
	"FP": ".PA",
	"NA": ".AS",
	"IM": ".MI",
	"SM": ".MC",
	"SS": ".ST",
	"FH": ".HE",
	"BB": ".BR",
	"PL": ".LS",
}

// Exchange codes to prefer for an ISIN country prefix, home listing first
var homeExchanges = map[string][]string{
	"US": {"US", "UN", "UW"},
	"GB": {"LN"},
	"DE": {"GY", "GR", "GF"},
	"FR": {"FP"},
	"NL": {"NA", "FP"},
	"IT": {"IM"},
	"ES": {"SM"},
	"SE": {"SS"},
	"FI": {"FH"},
	"BE": {"BB"},
	"PT": {"PL"},
}

// Client is the OpenFIGI API client.
type Client struct {
	baseURL    string
	apiKey     string // Optional - increases rate limits
	httpClient *http.Client
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new OpenFIGI client.
// apiKey is optional but recommended for higher rate limits.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(apiKey string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log:       log.With().Str("client", "openfigi").Logger(),
		cacheRepo: cacheRepo,
	}
}

// SetBaseURL points the client at a different API host. Used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// LookupISIN returns the Yahoo symbol of the best listing of isin, or "" when
// OpenFIGI has no listing on an exchange Yahoo covers.
func (c *Client) LookupISIN(ctx context.Context, isin string) (string, error) {
	results, err := c.Mappings(ctx, isin)
	if err != nil {
		return "", err
	}
	return PickYahooSymbol(isin, results), nil
}

// Mappings maps an ISIN to its listings.
// If the API fails, returns stale cached data if available.
func (c *Client) Mappings(ctx context.Context, isin string) ([]MappingResult, error) {
	if isin == "" {
		return nil, fmt.Errorf("ISIN cannot be empty")
	}

	if results, ok := c.fromCache(ctx, isin, true); ok {
		c.log.Debug().Str("isin", isin).Msg("Cache hit")
		return results, nil
	}

	responses, err := c.doRequest(ctx, []MappingRequest{{IDType: "ID_ISIN", IDValue: isin, MarketSec: "Equity"}})
	if err != nil {
		if stale, ok := c.fromCache(ctx, isin, false); ok {
			c.log.Warn().Err(err).Str("isin", isin).Msg("API failed, using stale cached data")
			return stale, nil
		}
		return nil, err
	}
	if len(responses) == 0 {
		return nil, nil
	}
	if responses[0].Warning != "" {
		c.log.Debug().Str("isin", isin).Str("warning", responses[0].Warning).Msg("No OpenFIGI match")
	}

	results := responses[0].Data
	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store(ctx, clientdata.TableOpenFIGI, isin, results, clientdata.TTLOpenFIGI); err != nil {
			c.log.Warn().Err(err).Str("isin", isin).Msg("Failed to cache OpenFIGI results")
		}
	}
	return results, nil
}

// doRequest performs the HTTP request to the OpenFIGI API.
func (c *Client) doRequest(ctx context.Context, requests []MappingRequest) ([]MappingResponse, error) {
	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mapping", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ratelimit.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("OpenFIGI API error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var responses []MappingResponse
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return responses, nil
}

func (c *Client) fromCache(ctx context.Context, isin string, freshOnly bool) ([]MappingResult, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var (
		results []MappingResult
		ok      bool
		err     error
	)
	if freshOnly {
		ok, err = c.cacheRepo.GetIfFresh(ctx, clientdata.TableOpenFIGI, isin, &results)
	} else {
		ok, err = c.cacheRepo.Get(ctx, clientdata.TableOpenFIGI, isin, &results)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("isin", isin).Msg("Failed to read cache")
		return nil, false
	}
	return results, ok
}

// PickYahooSymbol chooses the listing to price an ISIN from: the home
// exchange of the ISIN country when listed there, otherwise the first listing
// on an exchange Yahoo covers. Returns "" when nothing qualifies.
func PickYahooSymbol(isin string, results []MappingResult) string {
	if len(isin) >= 2 {
		for _, exch := range homeExchanges[strings.ToUpper(isin[:2])] {
			for _, r := range results {
				if r.ExchCode == exch && r.Ticker != "" {
					return YahooSymbol(r)
				}
			}
		}
	}
	for _, r := range results {
		if _, ok := yahooSuffixes[r.ExchCode]; ok && r.Ticker != "" {
			return YahooSymbol(r)
		}
	}
	return ""
}

// YahooSymbol converts a Bloomberg ticker to Yahoo notation: share classes
// use "-" instead of "/" or a space, and the exchange becomes a suffix.
func YahooSymbol(r MappingResult) string {
	ticker := strings.NewReplacer("/", "-", " ", "-").Replace(strings.TrimSpace(r.Ticker))
	return ticker + yahooSuffixes[r.ExchCode]
}
