package domain

import "time"

// MarketSnapshot is the one-per-cycle read of market state feeding the
// signal scorer. Stale is set when the upstream quote feed failed and
// prices were synthesized (§4.4) — the ledger must refuse to open new
// positions against a stale snapshot.
type MarketSnapshot struct {
	Timestamp     time.Time
	VIX           float64
	BondYield10Y  float64
	SP500ChangePct float64
	PerSymbolPrice map[string]float64
	Stale         bool
}

// Price returns the snapshot's price for symbol and whether it was present.
func (m MarketSnapshot) Price(symbol string) (float64, bool) {
	p, ok := m.PerSymbolPrice[symbol]
	return p, ok
}
