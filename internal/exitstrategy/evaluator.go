// Package exitstrategy implements C6: a priority-ordered fold over a
// fixed set of exit strategy variants, evaluated purely against a
// position, the current market snapshot, and the current DEFCON level.
package exitstrategy

import (
	"time"

	"github.com/hightrade/hightrade/internal/domain"
)

// Thresholds parameterizes the five exit variants, overridable via
// `exit.{profit_target,stop_loss,trailing_stop,max_hold_hours,
// min_hold_minutes}` (§6). ProfitTarget, StopLoss and TrailingStop follow
// the sign convention of the formulas in §4.6: StopLoss and TrailingStop
// are negative fractions, ProfitTarget is positive.
type Thresholds struct {
	ProfitTarget   float64
	StopLoss       float64
	TrailingStop   float64
	MaxHoldHours   float64
	MinHoldMinutes float64
}

// DefaultThresholds matches §4.6's shipped table.
var DefaultThresholds = Thresholds{
	ProfitTarget:   0.05,
	StopLoss:       -0.03,
	TrailingStop:   -0.02,
	MaxHoldHours:   72,
	MinHoldMinutes: 60,
}

// Decision is the evaluator's pure output: a position should exit now,
// for the given reason, at the given mark.
type Decision struct {
	PositionID string
	Reason     domain.ExitReason
	Price      float64
}

// variant is one tagged exit strategy: a reason and a trigger predicate;
// its priority is its position in priorityOrder (earlier evaluates
// first). Adding a strategy means adding one
// variant and slotting it into priorityOrder.
type variant struct {
	reason  domain.ExitReason
	trigger func(pos domain.Position, snapshot domain.MarketSnapshot, defcon domain.DefconLevel) bool
}

func priorityOrder(t Thresholds) []variant {
	timeLimitFull := time.Duration(t.MaxHoldHours * float64(time.Hour))
	timeLimitPartial := time.Duration(0.8 * float64(timeLimitFull))

	return []variant{
		{
			reason: domain.ExitStopLoss,
			trigger: func(p domain.Position, _ domain.MarketSnapshot, _ domain.DefconLevel) bool {
				return pnl(p) <= t.StopLoss
			},
		},
		{
			reason: domain.ExitProfitTarget,
			trigger: func(p domain.Position, _ domain.MarketSnapshot, _ domain.DefconLevel) bool {
				return pnl(p) >= t.ProfitTarget
			},
		},
		{
			reason: domain.ExitTrailingStop,
			trigger: func(p domain.Position, _ domain.MarketSnapshot, _ domain.DefconLevel) bool {
				if pnl(p) <= 0 || p.PeakPrice <= 0 {
					return false
				}
				fromPeak := (p.CurrentPrice - p.PeakPrice) / p.PeakPrice
				return fromPeak <= t.TrailingStop
			},
		},
		{
			reason: domain.ExitDefconRevert,
			trigger: func(p domain.Position, _ domain.MarketSnapshot, defcon domain.DefconLevel) bool {
				return p.EntryDefcon <= 2 && defcon >= 3
			},
		},
		{
			reason: domain.ExitTimeLimit,
			trigger: func(p domain.Position, _ domain.MarketSnapshot, _ domain.DefconLevel) bool {
				hold := p.HoldTime()
				if hold >= timeLimitFull {
					return true
				}
				return hold >= timeLimitPartial && pnl(p) < 0
			},
		},
	}
}

func pnl(p domain.Position) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// Evaluate is EvaluateWithThresholds using DefaultThresholds.
func Evaluate(pos domain.Position, snapshot domain.MarketSnapshot, defcon domain.DefconLevel) (domain.Position, *Decision) {
	return EvaluateWithThresholds(pos, snapshot, defcon, DefaultThresholds)
}

// EvaluateWithThresholds refreshes peak_price from the snapshot mark
// (§9: peak refreshes on mark, not continuously) then folds the
// priority-ordered variants, returning the first trigger that fires. A
// position within its configured min-hold window never exits,
// regardless of trigger. The returned Position carries the refreshed
// PeakPrice/CurrentPrice even when no decision fires — callers must
// persist it via the ledger's mark operation.
func EvaluateWithThresholds(pos domain.Position, snapshot domain.MarketSnapshot, defcon domain.DefconLevel, t Thresholds) (domain.Position, *Decision) {
	if price, ok := snapshot.Price(pos.Symbol); ok {
		pos.CurrentPrice = price
		if price > pos.PeakPrice {
			pos.PeakPrice = price
		}
	}

	minHold := time.Duration(t.MinHoldMinutes * float64(time.Minute))
	if time.Since(pos.EntryTime) < minHold {
		return pos, nil
	}

	for _, v := range priorityOrder(t) {
		if v.trigger(pos, snapshot, defcon) {
			return pos, &Decision{PositionID: pos.ID, Reason: v.reason, Price: pos.CurrentPrice}
		}
	}
	return pos, nil
}
