package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPQuoteClient implements UpstreamQuoteClient over a single JSON
// quote API (§6 `sources.market_data.{endpoint,api_key}`), following
// the same retryablehttp-backed fetch shape as news/sources'
// AlphaVantageSource — the vendor is configurable but the transport
// pattern is the same one this stack already uses for HTTP fetches.
type HTTPQuoteClient struct {
	Endpoint string
	APIKey   string
	client   *retryablehttp.Client
}

// NewHTTPQuoteClient constructs a quote client against endpoint,
// authenticated with apiKey.
func NewHTTPQuoteClient(endpoint, apiKey string) *HTTPQuoteClient {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = log.New(io.Discard, "", 0)
	return &HTTPQuoteClient{Endpoint: endpoint, APIKey: apiKey, client: c}
}

type quoteResponse struct {
	Price float64 `json:"price"`
}

// Quote fetches the last price for symbol.
func (c *HTTPQuoteClient) Quote(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s", c.Endpoint, url.QueryEscape(symbol))
	var body quoteResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return 0, fmt.Errorf("market: quote %s: %w", symbol, err)
	}
	return body.Price, nil
}

type macroResponse struct {
	VIX       float64 `json:"vix"`
	Yield10Y  float64 `json:"yield_10y"`
	SP500Pct  float64 `json:"sp500_change_pct"`
}

// Macro fetches the VIX, 10-year yield, and S&P 500 daily change.
func (c *HTTPQuoteClient) Macro(ctx context.Context) (vix, yield10y, sp500Pct float64, err error) {
	var body macroResponse
	if err := c.getJSON(ctx, c.Endpoint+"/macro", &body); err != nil {
		return 0, 0, 0, fmt.Errorf("market: macro: %w", err)
	}
	return body.VIX, body.Yield10Y, body.SP500Pct, nil
}

func (c *HTTPQuoteClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
