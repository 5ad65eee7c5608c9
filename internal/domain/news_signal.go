package domain

import "time"

// CrisisType is the categorical label attached to a news signal, derived
// from keyword-family dominance across the retained articles.
type CrisisType string

const (
	CrisisNone             CrisisType = "none"
	CrisisMarketCorrection CrisisType = "market_correction"
	CrisisInflationRate    CrisisType = "inflation_rate"
	CrisisLiquidityCredit  CrisisType = "liquidity_credit"
	CrisisTechCrash        CrisisType = "tech_crash"
	CrisisGeopolitical     CrisisType = "geopolitical"
	CrisisSystemic         CrisisType = "systemic"
)

// SentimentDist is a distribution over {bearish, bullish, neutral} that
// must sum to 1.0. It is labeled-but-not-weighted in DEFCON scoring (§9
// open question) — exposed for display and optional future scoring.
type SentimentDist struct {
	Bearish float64
	Bullish float64
	Neutral float64
}

// Label returns the dominant sentiment bucket.
func (s SentimentDist) Label() string {
	switch {
	case s.Bearish >= s.Bullish && s.Bearish >= s.Neutral:
		return "bearish"
	case s.Bullish >= s.Neutral:
		return "bullish"
	default:
		return "neutral"
	}
}

// NewsSignal is the once-per-cycle, never-mutated aggregate of a news
// batch. The most recently persisted row is the novelty baseline for
// the next cycle.
type NewsSignal struct {
	CycleID        string
	Timestamp      time.Time
	ArticleCount   int
	Score          float64 // [0,100]
	CrisisType     CrisisType
	Sentiment      SentimentDist
	TopArticles    []string // ordered, ≤5, Article.ID
	BreakingCount  int
}
