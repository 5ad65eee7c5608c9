package ports

import (
	"context"

	"github.com/hightrade/hightrade/internal/domain"
)

// MarketDataProvider exposes real-time quotes and macro indicators (§4.4).
type MarketDataProvider interface {
	// Quote returns the last price for symbol, or stale=true if the
	// upstream feed failed and the price was synthesized.
	Quote(ctx context.Context, symbol string) (price float64, stale bool, err error)

	// Macro returns the VIX, 10-year yield, and S&P 500 daily change
	// percentage used by the signal scorer.
	Macro(ctx context.Context) (vix, yield10y, sp500Pct float64, err error)

	// Snapshot fetches every watched symbol in parallel and composes
	// the once-per-cycle MarketSnapshot (§3, §4.4), marking it stale
	// if any symbol or the macro read failed.
	Snapshot(ctx context.Context, symbols []string) domain.MarketSnapshot
}
