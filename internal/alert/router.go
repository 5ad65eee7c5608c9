// Package alert implements C9: routing of cycle events to the urgent
// and silent channels, and the event constructors that encode the
// routing rules from §4.9.
package alert

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/hightrade/hightrade/internal/domain"
)

// Transport delivers an Event to one physical destination (chat bot,
// console, webhook, ...). A transport error never blocks the cycle —
// the router counts, logs, and drops it (§4.9: at-most-once delivery,
// no queue).
type Transport interface {
	Send(ctx context.Context, e domain.Event) error
}

// Router is C9's ports.AlertRouter implementation, fed two transports
// by construction per §9 ("injected collaborators").
type Router struct {
	urgent Transport
	silent Transport

	dropped atomic.Int64
}

// New constructs a Router. Either transport may be nil, in which case
// events routed to it are counted as dropped rather than panicking.
func New(urgent, silent Transport) *Router {
	return &Router{urgent: urgent, silent: silent}
}

// Route delivers e to its configured channel. It never returns a
// transport error to the caller — failures are counted and logged, and
// the cycle proceeds (§4.9).
func (r *Router) Route(ctx context.Context, e domain.Event) error {
	transport := r.silent
	if e.Channel == domain.ChannelUrgent {
		transport = r.urgent
	}

	if transport == nil {
		r.dropped.Add(1)
		slog.Warn("alert: no transport configured for channel, dropping", "channel", e.Channel, "kind", e.Kind)
		return nil
	}

	if err := transport.Send(ctx, e); err != nil {
		r.dropped.Add(1)
		slog.Warn("alert: transport failed, dropping event", "channel", e.Channel, "kind", e.Kind, "err", err)
	}
	return nil
}

// Dropped reports the cumulative count of events that failed delivery
// or had no transport. The status response does not include it.
func (r *Router) Dropped() int64 {
	return r.dropped.Load()
}

// CycleSummary emits the per-cycle summary. Always silent (§4.9).
func CycleSummary(p domain.CycleSummaryPayload) domain.Event {
	return domain.Event{Kind: domain.EventCycleSummary, Channel: domain.ChannelSilent, Payload: p}
}

// DefconChange emits a DEFCON transition. Every transition (up or down)
// gets a silent audit event; an escalation (level decreases — moving
// toward crisis) additionally gets an urgent copy (§4.9).
func DefconChange(from, to domain.DefconLevel, score float64, reasonCode string) []domain.Event {
	payload := domain.DefconChangePayload{From: from, To: to, SignalScore: score, ReasonCode: reasonCode}
	events := []domain.Event{{Kind: domain.EventDefconChange, Channel: domain.ChannelSilent, Payload: payload}}
	if to < from {
		events = append(events, domain.Event{Kind: domain.EventDefconChange, Channel: domain.ChannelUrgent, Payload: payload})
	}
	return events
}

// TradeEntry emits a trade entry event. Urgent when the entry is
// awaiting approval (broker_mode=disabled); silent (informational) once
// it has executed.
func TradeEntry(symbols []string, size float64, defcon domain.DefconLevel, pending bool) domain.Event {
	payload := domain.TradeEntryPayload{Symbols: symbols, Size: size, Defcon: defcon, Pending: pending}
	channel := domain.ChannelSilent
	if pending {
		channel = domain.ChannelUrgent
	}
	return domain.Event{Kind: domain.EventTradeEntry, Channel: channel, Payload: payload}
}

// TradeExit emits a trade exit event. Urgent for stop_loss and
// defcon_revert; silent for every other reason (§4.9).
func TradeExit(symbol string, reason domain.ExitReason, pnlPct float64) domain.Event {
	payload := domain.TradeExitPayload{Symbol: symbol, Reason: reason, PnLPct: pnlPct}
	channel := domain.ChannelSilent
	if reason == domain.ExitStopLoss || reason == domain.ExitDefconRevert {
		channel = domain.ChannelUrgent
	}
	return domain.Event{Kind: domain.EventTradeExit, Channel: channel, Payload: payload}
}

// EventCommandResponse is the payload shape returned for status,
// portfolio, and defcon command queries.
const EventCommandResponse = domain.EventKind("command_response")

// CommandResponse emits an explicit response to an operator command,
// tagged with the command's ID so a response-writing transport can key
// its output file by it. Always urgent (§4.9).
func CommandResponse(commandID string, payload any) domain.Event {
	return domain.Event{Kind: EventCommandResponse, Channel: domain.ChannelUrgent, Payload: payload, CommandID: commandID}
}

// NewsUpdate emits a news batch summary, silent, but only when it
// should fire at all: novelty=true OR breaking_count>0 (§4.9, §8
// boundary scenario 4). Callers check ShouldEmitNewsUpdate first.
func NewsUpdate(p domain.NewsUpdatePayload) domain.Event {
	return domain.Event{Kind: domain.EventNewsUpdate, Channel: domain.ChannelSilent, Payload: p}
}

// ShouldEmitNewsUpdate implements the suppression rule from §4.9/§8:
// a news_update is only emitted when the batch introduced new articles
// or contains at least one breaking article.
func ShouldEmitNewsUpdate(novelty bool, breakingCount int) bool {
	return novelty || breakingCount > 0
}
