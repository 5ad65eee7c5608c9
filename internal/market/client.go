// Package market implements C4: quotes and macro indicators, backed by
// C1's rate limiter, with synthetic fallback on upstream failure.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/ratelimit"
)

const quotesSourceKey = "market_quotes"

// UpstreamQuoteClient is the minimal external quote transport this
// package wraps with rate limiting, synthetic fallback, and parallel
// per-symbol fetch. A real implementation calls out to whatever broker
// or data vendor is configured; tests supply a stub.
type UpstreamQuoteClient interface {
	Quote(ctx context.Context, symbol string) (float64, error)
	Macro(ctx context.Context) (vix, yield10y, sp500Pct float64, err error)
}

// Client is C4's ports.MarketDataProvider implementation.
type Client struct {
	upstream UpstreamQuoteClient
	limiter  *ratelimit.Limiter

	mu            sync.Mutex
	lastKnown     map[string]float64
}

// New constructs a Client. limiter should already carry a SourceConfig
// for quotesSourceKey ("market_quotes"); unconfigured sources fall back
// to the limiter's default pacing.
func New(upstream UpstreamQuoteClient, limiter *ratelimit.Limiter) *Client {
	return &Client{
		upstream:  upstream,
		limiter:   limiter,
		lastKnown: make(map[string]float64),
	}
}

// Quote returns the last price for symbol. On upstream failure it
// synthesizes last_known * uniform(0.98, 1.02) and reports stale=true
// (§4.4). If there is no last-known price at all, the failure is
// propagated — there is nothing to synthesize from.
func (c *Client) Quote(ctx context.Context, symbol string) (price float64, stale bool, err error) {
	if err := c.limiter.Acquire(ctx, quotesSourceKey); err != nil {
		return 0, false, fmt.Errorf("market: acquire: %w", err)
	}

	p, fetchErr := c.upstream.Quote(ctx, symbol)
	if fetchErr == nil {
		c.limiter.Record(quotesSourceKey, ratelimit.OutcomeOK)
		c.setLastKnown(symbol, p)
		return p, false, nil
	}

	c.limiter.Record(quotesSourceKey, ratelimit.OutcomeOtherError)
	slog.Warn("market: quote fetch failed, synthesizing", "symbol", symbol, "err", fetchErr)

	last, ok := c.getLastKnown(symbol)
	if !ok {
		return 0, false, fmt.Errorf("market: no last-known price for %s to synthesize from: %w", symbol, fetchErr)
	}

	synthetic := last * (0.98 + rand.Float64()*0.04)
	return synthetic, true, nil
}

// Macro returns the VIX, 10-year yield, and S&P 500 daily change
// percentage. Unlike Quote, macro indicators have no per-symbol
// synthetic fallback — a failure here propagates; Snapshot then leaves
// the macro fields at zero and marks the snapshot stale.
func (c *Client) Macro(ctx context.Context) (vix, yield10y, sp500Pct float64, err error) {
	if err := c.limiter.Acquire(ctx, quotesSourceKey); err != nil {
		return 0, 0, 0, fmt.Errorf("market: acquire: %w", err)
	}

	vix, yield10y, sp500Pct, fetchErr := c.upstream.Macro(ctx)
	if fetchErr != nil {
		c.limiter.Record(quotesSourceKey, ratelimit.OutcomeOtherError)
		return 0, 0, 0, fmt.Errorf("market: macro fetch: %w", fetchErr)
	}
	c.limiter.Record(quotesSourceKey, ratelimit.OutcomeOK)
	return vix, yield10y, sp500Pct, nil
}

func (c *Client) setLastKnown(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastKnown[symbol] = price
}

func (c *Client) getLastKnown(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.lastKnown[symbol]
	return p, ok
}

// Snapshot fetches quotes for all symbols in parallel (bounded worker
// pool, grounded on the same structured-concurrency pattern used for
// news sources) plus the macro indicators, and assembles one
// MarketSnapshot for the cycle. Any individual symbol failure marks the
// whole snapshot stale, per §4.4/§5 ordering (market data is persisted
// as a single unit before the scorer runs).
func (c *Client) Snapshot(ctx context.Context, symbols []string) domain.MarketSnapshot {
	workers := runtime.NumCPU() * 2
	if workers > len(symbols) && len(symbols) > 0 {
		workers = len(symbols)
	}
	if workers <= 0 {
		workers = 1
	}

	type result struct {
		symbol string
		price  float64
		stale  bool
	}

	workCh := make(chan string, len(symbols))
	resultCh := make(chan result, len(symbols))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range workCh {
				price, stale, err := c.Quote(ctx, symbol)
				if err != nil {
					slog.Warn("market: symbol dropped from snapshot", "symbol", symbol, "err", err)
					continue
				}
				resultCh <- result{symbol: symbol, price: price, stale: stale}
			}
		}()
	}

	for _, s := range symbols {
		workCh <- s
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	snapshot := domain.MarketSnapshot{
		Timestamp:      time.Now(),
		PerSymbolPrice: make(map[string]float64, len(symbols)),
	}
	for r := range resultCh {
		snapshot.PerSymbolPrice[r.symbol] = r.price
		if r.stale {
			snapshot.Stale = true
		}
	}
	if len(snapshot.PerSymbolPrice) < len(symbols) {
		snapshot.Stale = true
	}

	vix, yield10y, sp500Pct, err := c.Macro(ctx)
	if err != nil {
		slog.Warn("market: macro fetch failed, snapshot marked stale", "err", err)
		snapshot.Stale = true
	} else {
		snapshot.VIX = vix
		snapshot.BondYield10Y = yield10y
		snapshot.SP500ChangePct = sp500Pct
	}

	return snapshot
}
