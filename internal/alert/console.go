package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/hightrade/hightrade/internal/domain"
)

// Console is the stand-in alert.Transport for operators who haven't
// wired a chat transport yet (§1: "chat transport is an out-of-scope
// external collaborator" — Console fills that gap locally). It renders
// each event kind with a one-line summary; tablewriter is used only for
// the top-articles table of news_update events.
type Console struct {
	out io.Writer
}

// NewConsole creates a Console writing to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a Console over an arbitrary writer, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Send implements Transport.
func (c *Console) Send(_ context.Context, e domain.Event) error {
	now := time.Now().Format("15:04:05")
	switch p := e.Payload.(type) {
	case domain.CycleSummaryPayload:
		fmt.Fprintf(c.out, "[%s] cycle_summary: defcon=%d score=%.1f vix=%.1f sp500=%.2f%% holdings=%v\n",
			now, p.Defcon, p.SignalScore, p.VIX, p.SP500Pct, p.Holdings)
	case domain.DefconChangePayload:
		fmt.Fprintf(c.out, "[%s] defcon_change: %d -> %d (score=%.1f, reason=%s)\n", now, p.From, p.To, p.SignalScore, p.ReasonCode)
	case domain.TradeEntryPayload:
		pendingLabel := ""
		if p.Pending {
			pendingLabel = " (awaiting approval)"
		}
		fmt.Fprintf(c.out, "[%s] trade_entry: %v size=$%.2f defcon=%d%s\n", now, p.Symbols, p.Size, p.Defcon, pendingLabel)
	case domain.TradeExitPayload:
		fmt.Fprintf(c.out, "[%s] trade_exit: %s reason=%s pnl=%.2f%%\n", now, p.Symbol, p.Reason, p.PnLPct*100)
	case domain.NewsUpdatePayload:
		fmt.Fprintf(c.out, "[%s] news_update: score=%.1f crisis=%s sentiment=%s articles=%d new=%d breaking=%d\n",
			now, p.Score, p.CrisisType, p.SentimentLabel, p.ArticleCount, p.NewArticleCount, p.BreakingCount)
		c.printTopArticles(p.Top)
	default:
		fmt.Fprintf(c.out, "[%s] %s: %+v\n", now, e.Kind, p)
	}
	return nil
}

func (c *Console) printTopArticles(top []domain.NewsArticleRef) {
	if len(top) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Source", "Urgency", "Title")
	for _, a := range top {
		table.Append(a.Source, string(a.Urgency), a.Title)
	}
	table.Render()
}
