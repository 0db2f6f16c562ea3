// Package coingecko provides a client for the CoinGecko simple price API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client for api.coingecko.com
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new CoinGecko client.
// apiKey is optional; the free tier works without one at a lower rate limit.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "coingecko").Logger(),
	}
}

// GetPrices fetches USD prices for the given CoinGecko ids in one request.
// The response map only contains ids CoinGecko knows about.
func (c *Client) GetPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("precision", "full")

	reqURL := fmt.Sprintf("%s/simple/price?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited by CoinGecko")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	// {"blockstack": {"usd": 1.234}, ...}
	var raw map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(raw))
	for id, currencies := range raw {
		usd, ok := currencies["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(usd.String())
		if err != nil {
			c.log.Warn().Str("id", id).Str("value", usd.String()).Msg("Unparseable price, skipping")
			continue
		}
		prices[id] = price
	}

	c.log.Debug().Int("requested", len(ids)).Int("returned", len(prices)).Msg("Fetched prices")

	return prices, nil
}

// GetPrice fetches the USD price for a single CoinGecko id.
func (c *Client) GetPrice(ctx context.Context, id string) (decimal.Decimal, error) {
	prices, err := c.GetPrices(ctx, []string{id})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %q", id)
	}
	return price, nil
}
