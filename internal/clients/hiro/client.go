// Package hiro provides clients for the Hiro Stacks API: a REST client for
// transaction history and balances, and a websocket client for live chain
// events.
package hiro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PageSize is the transaction page size used for history scans.
const PageSize = 50

// Client for the Hiro extended API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Hiro API client.
// apiKey is optional; without one requests run at the public rate limit.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.hiro.so"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "hiro").Logger(),
	}
}

// Transactions fetches one page of an address's transaction history,
// newest first.
func (c *Client) Transactions(ctx context.Context, address string, offset int) (*TxPage, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(PageSize))
	q.Set("offset", fmt.Sprint(offset))

	reqURL := fmt.Sprintf("%s/extended/v1/address/%s/transactions?%s", c.baseURL, address, q.Encode())

	var page TxPage
	if err := c.getJSON(ctx, reqURL, &page); err != nil {
		return nil, fmt.Errorf("failed to fetch transactions for %s: %w", address, err)
	}

	c.log.Debug().
		Str("address", address).
		Int("offset", offset).
		Int("results", len(page.Results)).
		Int("total", page.Total).
		Msg("Fetched transaction page")

	return &page, nil
}

// Balances fetches current STX and SIP-010 balances for an address.
func (c *Client) Balances(ctx context.Context, address string) (*Balances, error) {
	reqURL := fmt.Sprintf("%s/extended/v1/address/%s/balances", c.baseURL, address)

	var balances Balances
	if err := c.getJSON(ctx, reqURL, &balances); err != nil {
		return nil, fmt.Errorf("failed to fetch balances for %s: %w", address, err)
	}
	return &balances, nil
}

// CurrentPoxCycle fetches the PoX stacking cycle in progress.
func (c *Client) CurrentPoxCycle(ctx context.Context) (*PoxCycle, error) {
	reqURL := fmt.Sprintf("%s/extended/v1/pox/cycles/current", c.baseURL)

	var cycle PoxCycle
	if err := c.getJSON(ctx, reqURL, &cycle); err != nil {
		return nil, fmt.Errorf("failed to fetch current pox cycle: %w", err)
	}
	return &cycle, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
