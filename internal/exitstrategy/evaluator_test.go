package exitstrategy_test

import (
	"testing"
	"time"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/exitstrategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshPosition(entryPrice float64, entryDefcon domain.DefconLevel) domain.Position {
	return domain.Position{
		ID:          "p1",
		Symbol:      "SPY",
		Qty:         10,
		EntryPrice:  entryPrice,
		EntryTime:   time.Now().Add(-2 * time.Hour),
		EntryDefcon: entryDefcon,
		PeakPrice:   entryPrice,
		Status:      domain.PositionOpen,
	}
}

func snapshotAt(symbol string, price float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{PerSymbolPrice: map[string]float64{symbol: price}}
}

// TestEvaluate_StopLossBeatsProfitTarget covers §8 boundary scenario 1.
func TestEvaluate_StopLossBeatsProfitTarget(t *testing.T) {
	pos := freshPosition(100, domain.DefconElevated)

	pos, dec := exitstrategy.Evaluate(pos, snapshotAt("SPY", 103), domain.DefconElevated)
	require.Nil(t, dec)
	assert.Equal(t, 103.0, pos.PeakPrice)

	pos, dec = exitstrategy.Evaluate(pos, snapshotAt("SPY", 95), domain.DefconElevated)
	require.NotNil(t, dec)
	assert.Equal(t, domain.ExitStopLoss, dec.Reason)
}

// TestEvaluate_TrailingStopProtectsGain covers §8 boundary scenario 2.
// The marks stay below the profit_target threshold throughout (peak
// tops out at +4%) so trailing_stop — lower priority than
// profit_target in priorityOrder — actually gets a chance to fire; a
// peak at or above +5% would exit on profit_target first.
func TestEvaluate_TrailingStopProtectsGain(t *testing.T) {
	pos := freshPosition(100, domain.DefconSevere)

	for _, mark := range []float64{102, 104} {
		var dec *exitstrategy.Decision
		pos, dec = exitstrategy.Evaluate(pos, snapshotAt("SPY", mark), domain.DefconSevere)
		require.Nil(t, dec)
	}
	assert.Equal(t, 104.0, pos.PeakPrice)

	pos, dec := exitstrategy.Evaluate(pos, snapshotAt("SPY", 101.8), domain.DefconSevere)
	require.NotNil(t, dec)
	assert.Equal(t, domain.ExitTrailingStop, dec.Reason)
	assert.InDelta(t, 0.018, pos.PnLPct(), 0.0001)
}

// TestEvaluate_DefconReversionBeatsTimeLimit covers §8 boundary scenario 3.
func TestEvaluate_DefconReversionBeatsTimeLimit(t *testing.T) {
	pos := freshPosition(100, domain.DefconSevere)

	_, dec := exitstrategy.Evaluate(pos, snapshotAt("SPY", 101), domain.DefconElevated)
	require.NotNil(t, dec)
	assert.Equal(t, domain.ExitDefconRevert, dec.Reason)
}

func TestEvaluate_MinHoldGuardSuppressesAllExits(t *testing.T) {
	pos := domain.Position{
		ID: "p2", Symbol: "SPY", EntryPrice: 100, EntryTime: time.Now().Add(-5 * time.Minute),
		EntryDefcon: domain.DefconPeacetime, PeakPrice: 100, Status: domain.PositionOpen,
	}
	_, dec := exitstrategy.Evaluate(pos, snapshotAt("SPY", 50), domain.DefconCrisis)
	assert.Nil(t, dec, "no strategy may fire within the first 60 minutes after entry")
}

func TestEvaluate_TimeLimitFiresAfter72Hours(t *testing.T) {
	pos := domain.Position{
		ID: "p3", Symbol: "SPY", EntryPrice: 100, EntryTime: time.Now().Add(-73 * time.Hour),
		EntryDefcon: domain.DefconElevated, PeakPrice: 100, CurrentPrice: 100, Status: domain.PositionOpen,
	}
	_, dec := exitstrategy.Evaluate(pos, snapshotAt("SPY", 100), domain.DefconElevated)
	require.NotNil(t, dec)
	assert.Equal(t, domain.ExitTimeLimit, dec.Reason)
}

func TestEvaluate_NoExitWhenNoTriggerFires(t *testing.T) {
	pos := freshPosition(100, domain.DefconElevated)
	_, dec := exitstrategy.Evaluate(pos, snapshotAt("SPY", 101), domain.DefconElevated)
	assert.Nil(t, dec)
}

func TestEvaluateWithThresholds_DefaultsMatchEvaluate(t *testing.T) {
	pos := freshPosition(100, domain.DefconElevated)
	a, decA := exitstrategy.Evaluate(pos, snapshotAt("SPY", 95), domain.DefconElevated)
	b, decB := exitstrategy.EvaluateWithThresholds(pos, snapshotAt("SPY", 95), domain.DefconElevated, exitstrategy.DefaultThresholds)
	assert.Equal(t, a, b)
	require.NotNil(t, decA)
	require.NotNil(t, decB)
	assert.Equal(t, decA.Reason, decB.Reason)
}

func TestEvaluateWithThresholds_TighterStopLossFiresEarlier(t *testing.T) {
	pos := freshPosition(100, domain.DefconElevated)
	tight := exitstrategy.DefaultThresholds
	tight.StopLoss = -0.01

	_, dec := exitstrategy.EvaluateWithThresholds(pos, snapshotAt("SPY", 98.5), domain.DefconElevated, tight)
	require.NotNil(t, dec)
	assert.Equal(t, domain.ExitStopLoss, dec.Reason)
}

func TestEvaluateWithThresholds_ShorterMinHoldAllowsEarlyExit(t *testing.T) {
	pos := domain.Position{
		ID: "p4", Symbol: "SPY", EntryPrice: 100, EntryTime: time.Now().Add(-5 * time.Minute),
		EntryDefcon: domain.DefconPeacetime, PeakPrice: 100, Status: domain.PositionOpen,
	}
	relaxed := exitstrategy.DefaultThresholds
	relaxed.MinHoldMinutes = 1

	_, dec := exitstrategy.EvaluateWithThresholds(pos, snapshotAt("SPY", 50), domain.DefconPeacetime, relaxed)
	require.NotNil(t, dec)
	assert.Equal(t, domain.ExitStopLoss, dec.Reason)
}
