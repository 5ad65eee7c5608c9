package domain

// Channel is one of the two logical alert destinations (§4.9).
type Channel string

const (
	ChannelUrgent Channel = "urgent"
	ChannelSilent Channel = "silent"
)

// EventKind enumerates the stable alert payload shapes (§6).
type EventKind string

const (
	EventCycleSummary EventKind = "cycle_summary"
	EventDefconChange EventKind = "defcon_change"
	EventTradeEntry   EventKind = "trade_entry"
	EventTradeExit    EventKind = "trade_exit"
	EventNewsUpdate   EventKind = "news_update"
)

// Event is a routed notification. Payload holds one of the *Payload
// structs below, matched by Kind.
type Event struct {
	Kind    EventKind
	Channel Channel
	Payload any

	// CommandID is set only on command_response events, letting a
	// response-writing transport key its output by the command that
	// triggered it (§4.10, cmd/hightradectl).
	CommandID string
}

// CycleSummaryPayload : `{defcon, signal_score, vix, yield_10y, sp500_pct, holdings}`.
type CycleSummaryPayload struct {
	Defcon      DefconLevel `json:"defcon"`
	SignalScore float64     `json:"signal_score"`
	VIX         float64     `json:"vix"`
	Yield10Y    float64     `json:"yield_10y"`
	SP500Pct    float64     `json:"sp500_pct"`
	Holdings    []string    `json:"holdings"`
	Failed      bool        `json:"failed,omitempty"`
}

// DefconChangePayload : `{from, to, signal_score, reason_code}`.
type DefconChangePayload struct {
	From        DefconLevel `json:"from"`
	To          DefconLevel `json:"to"`
	SignalScore float64     `json:"signal_score"`
	ReasonCode  string      `json:"reason_code"`
}

// TradeEntryPayload : `{symbols, size, defcon, pending}`.
type TradeEntryPayload struct {
	Symbols []string    `json:"symbols"`
	Size    float64     `json:"size"`
	Defcon  DefconLevel `json:"defcon"`
	Pending bool        `json:"pending"`
}

// TradeExitPayload : `{symbol, reason, pnl_pct}`.
type TradeExitPayload struct {
	Symbol string     `json:"symbol"`
	Reason ExitReason `json:"reason"`
	PnLPct float64    `json:"pnl_pct"`
}

// NewsArticleRef is the trimmed article reference inside NewsUpdatePayload.
type NewsArticleRef struct {
	Source  string  `json:"source"`
	Title   string  `json:"title"` // truncated to ≤80 chars
	Urgency Urgency `json:"urgency"`
}

// NewsUpdatePayload : `{score, crisis_type, sentiment_label, article_count,
// new_article_count, breaking_count, top}`. Emitted only when
// new_article_count > 0 OR breaking_count > 0.
type NewsUpdatePayload struct {
	Score           float64          `json:"score"`
	CrisisType      CrisisType       `json:"crisis_type"`
	SentimentLabel  string           `json:"sentiment_label"`
	ArticleCount    int              `json:"article_count"`
	NewArticleCount int              `json:"new_article_count"`
	BreakingCount   int              `json:"breaking_count"`
	Top             []NewsArticleRef `json:"top"`
}
