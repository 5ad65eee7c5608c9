// Package signal implements C5: the composite signal score and the
// DEFCON threshold mapping derived from it.
package signal

import "github.com/hightrade/hightrade/internal/domain"

// Inputs is everything the scorer needs for one cycle (§4.5).
type Inputs struct {
	NewsScore     float64 // domain.NewsSignal.Score, already [0,100]
	VIX           float64
	Yield10Y      float64
	SP500Pct      float64
	BreakingCount int
}

// Weights holds the five sub-signal weights, overridable via
// `defcon.weights.*` (§6). They need not sum to 1.0, but the shipped
// defaults do.
type Weights struct {
	News     float64
	VIX      float64
	Yield    float64
	Drawdown float64
	Breaking float64
}

// DefaultWeights matches §4.5's shipped weighting.
var DefaultWeights = Weights{News: 0.40, VIX: 0.20, Yield: 0.15, Drawdown: 0.15, Breaking: 0.10}

// contribution is one weighted sub-signal, named for reason_code
// attribution.
type contribution struct {
	name   string
	weight float64
}

// Score computes the [0,100] composite signal_score using DefaultWeights.
// Transitions are immediate: no hysteresis, no smoothing across cycles.
func Score(in Inputs) (score float64, level domain.DefconLevel, reasonCode string) {
	return ScoreWeighted(in, DefaultWeights)
}

// ScoreWeighted is Score with a caller-supplied weighting, letting
// config override the default sub-signal weights (§4.5, §6) while
// keeping the same normalization formulas and DEFCON thresholds.
func ScoreWeighted(in Inputs, w Weights) (score float64, level domain.DefconLevel, reasonCode string) {
	newsComponent := in.NewsScore
	vixComponent := clamp((in.VIX-15)/(40-15), 0, 1) * 100
	yieldComponent := clamp(abs(in.Yield10Y-3.5)/2.0, 0, 1) * 100
	drawdownComponent := clamp(-in.SP500Pct/3.0, 0, 1) * 100
	breakingComponent := min(float64(in.BreakingCount)*20, 100)

	contributions := []struct {
		contribution
		value float64
	}{
		{contribution{"news_score", w.News}, newsComponent},
		{contribution{"vix_component", w.VIX}, vixComponent},
		{contribution{"yield_component", w.Yield}, yieldComponent},
		{contribution{"sp500_drawdown", w.Drawdown}, drawdownComponent},
		{contribution{"breaking_bias", w.Breaking}, breakingComponent},
	}

	var total float64
	best := contributions[0]
	bestWeighted := -1.0
	for _, c := range contributions {
		weighted := c.value * c.weight
		total += weighted
		if weighted > bestWeighted {
			bestWeighted = weighted
			best = c
		}
	}

	level = levelForScore(total)
	return total, level, best.name
}

func levelForScore(score float64) domain.DefconLevel {
	switch {
	case score >= 85:
		return domain.DefconCrisis
	case score >= 70:
		return domain.DefconSevere
	case score >= 50:
		return domain.DefconElevated
	case score >= 30:
		return domain.DefconWatch
	default:
		return domain.DefconPeacetime
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
