// Package orchestrator implements C11: the always-on cycle loop, its
// running/held/e_stopped/shutting_down state machine, and the wiring
// that drives C1-C10 per cycle (§2, §4.11, §5).
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hightrade/hightrade/internal/alert"
	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/exitstrategy"
	"github.com/hightrade/hightrade/internal/ledger"
	"github.com/hightrade/hightrade/internal/news"
	"github.com/hightrade/hightrade/internal/ports"
	"github.com/hightrade/hightrade/internal/signal"
)

const (
	commandTick     = 250 * time.Millisecond
	topArticleCount = 5
)

var (
	// ErrInvalidState is returned when a command verb does not apply to
	// the orchestrator's current mode (§6: mutators return exit code 2).
	ErrInvalidState = errors.New("orchestrator: invalid state for this command")
	// ErrUnknownVerb is returned for a verb outside §4.10's vocabulary
	// (§6: exit code 3).
	ErrUnknownVerb = errors.New("orchestrator: unknown verb")
	// ErrNoActiveDecision is returned by yes/no when there is nothing
	// awaiting approval.
	ErrNoActiveDecision = errors.New("orchestrator: no active pending decision")
	// ErrEntriesHeld is returned by ProposeEntry while mode = held (§4.11:
	// "held mode ... skips entry proposals").
	ErrEntriesHeld = errors.New("orchestrator: entry proposals are suspended while held")
	// ErrNotRunning is returned by ProposeEntry outside running/held, and
	// when the market snapshot has no price for the requested symbol.
	ErrNotRunning = errors.New("orchestrator: orchestrator is not accepting entries")
)

// Config is the orchestrator's fixed, construction-time configuration.
// Nothing here is mutated at runtime — runtime-mutable settings
// (broker_mode, cycle_interval_sec) live in domain.OrchestratorState.
type Config struct {
	Symbols            []string
	Lexicon            news.Lexicon
	DefaultIntervalSec int
	DefaultBrokerMode  domain.BrokerMode
	Weights            signal.Weights
	ExitThresholds     exitstrategy.Thresholds
}

// Orchestrator is C11. Every collaborator is passed in by construction
// (§9: "global singletons → injected collaborators") so a test can
// assemble one entirely from fakes.
type Orchestrator struct {
	aggregator *news.Aggregator
	market     ports.MarketDataProvider
	ledger     *ledger.Ledger
	store      ports.Store
	alerts     ports.AlertRouter
	commands   ports.CommandSource

	cfg Config

	mu    sync.Mutex
	state domain.OrchestratorState

	cycleCancelMu sync.Mutex
	cycleCancel   context.CancelFunc

	refreshMu        sync.Mutex
	refreshRequested bool
}

// New constructs an Orchestrator. State is restored from store on the
// first call to Run.
func New(aggregator *news.Aggregator, market ports.MarketDataProvider, ldg *ledger.Ledger, store ports.Store, alerts ports.AlertRouter, commands ports.CommandSource, cfg Config) *Orchestrator {
	return &Orchestrator{
		aggregator: aggregator,
		market:     market,
		ledger:     ldg,
		store:      store,
		alerts:     alerts,
		commands:   commands,
		cfg:        cfg,
	}
}

// State returns a snapshot of the orchestrator's current state.
func (o *Orchestrator) State() domain.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Mode returns the orchestrator's current lifecycle mode.
func (o *Orchestrator) Mode() domain.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Mode
}

// Run is the main loop (§4.11): while not shutting down, run a cycle
// (unless e_stopped), persist, then poll commands until the next cycle
// is due. It returns when mode reaches shutting_down or ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.restoreState(ctx)

	cmdCtx, stopCommandLoop := context.WithCancel(ctx)
	defer stopCommandLoop()
	go o.commandLoop(cmdCtx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch o.Mode() {
		case domain.ModeShuttingDown:
			o.persistState(ctx)
			slog.Info("orchestrator: shutdown complete")
			return nil
		case domain.ModeRunning:
			o.runOneCycle(ctx, false)
		case domain.ModeHeld:
			o.runOneCycle(ctx, true)
		case domain.ModeEStopped:
			// No monitoring while e-stopped — manual resume only (§4.11).
		}

		o.persistState(ctx)

		if !o.waitForNextCycle(ctx) {
			return ctx.Err()
		}
	}
}

// restoreState loads persisted OrchestratorState, or seeds defaults for
// a first boot.
func (o *Orchestrator) restoreState(ctx context.Context) {
	loaded, found, err := o.store.LoadOrchestratorState(ctx)
	if err != nil {
		slog.Warn("orchestrator: failed to load persisted state, starting fresh", "err", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if found {
		o.state = loaded
		return
	}
	o.state = domain.OrchestratorState{
		Mode:             domain.ModeRunning,
		BrokerMode:       o.cfg.DefaultBrokerMode,
		CycleIntervalSec: o.cfg.DefaultIntervalSec,
	}
}

func (o *Orchestrator) persistState(ctx context.Context) {
	if err := o.store.SaveOrchestratorState(ctx, o.State()); err != nil {
		slog.Warn("orchestrator: failed to persist orchestrator state", "err", err)
	}
}

// runOneCycle derives a cancellable context for this cycle so an estop
// arriving mid-cycle cancels in-flight I/O immediately (§5: "estop is
// immediate: cancels in-flight HTTP").
func (o *Orchestrator) runOneCycle(ctx context.Context, held bool) {
	cycleCtx, cancel := context.WithCancel(ctx)
	o.setCycleCancel(cancel)
	defer func() {
		o.setCycleCancel(nil)
		cancel()
	}()
	o.runCycle(cycleCtx, held)
}

func (o *Orchestrator) setCycleCancel(cancel context.CancelFunc) {
	o.cycleCancelMu.Lock()
	defer o.cycleCancelMu.Unlock()
	o.cycleCancel = cancel
}

func (o *Orchestrator) cancelCurrentCycle() {
	o.cycleCancelMu.Lock()
	defer o.cycleCancelMu.Unlock()
	if o.cycleCancel != nil {
		o.cycleCancel()
	}
}

// waitForNextCycle blocks (polling commands at commandTick) until
// sleep_until has passed, shutdown has been requested, or a refresh
// command fired — whichever comes first (§4.11 step 4).
func (o *Orchestrator) waitForNextCycle(ctx context.Context) bool {
	ticker := time.NewTicker(commandTick)
	defer ticker.Stop()

	for {
		if o.Mode() == domain.ModeShuttingDown {
			return true
		}
		if !time.Now().Before(o.State().SleepUntil()) {
			return true
		}
		if o.consumeRefresh() {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) requestRefresh() {
	o.refreshMu.Lock()
	o.refreshRequested = true
	o.refreshMu.Unlock()
}

func (o *Orchestrator) consumeRefresh() bool {
	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()
	r := o.refreshRequested
	o.refreshRequested = false
	return r
}

// commandLoop is the "separate lightweight task" §5 describes: the sole
// reader of the command channel, applying every command as it arrives
// regardless of cycle/sleep phase.
func (o *Orchestrator) commandLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.commands.Commands():
			o.applyCommand(ctx, cmd)
		}
	}
}

// runCycle executes one pass of §2's data flow: C4 + C3 in parallel,
// C5 composes, persist, novelty/DEFCON alerts, then C6 over C7 (§5
// ordering guarantees preserved throughout). runCycle proposes no
// entries itself; entries arrive through ProposeEntry.
func (o *Orchestrator) runCycle(ctx context.Context, held bool) {
	cycleID := uuid.NewString()

	o.mu.Lock()
	o.state.LastCycleStart = time.Now()
	o.state.CycleCount++
	o.mu.Unlock()

	var (
		snapshot   domain.MarketSnapshot
		newsResult news.Result
		newsErr    error
		wg         sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		snapshot = o.market.Snapshot(ctx, o.cfg.Symbols)
	}()
	go func() {
		defer wg.Done()
		newsResult, newsErr = o.aggregator.Run(ctx, cycleID)
	}()
	wg.Wait()

	if newsErr != nil {
		slog.Warn("orchestrator: news aggregation failed for this cycle", "cycle_id", cycleID, "err", newsErr)
		newsResult = news.Result{}
	}

	articles := newsResult.Articles
	newsSignal := domain.NewsSignal{
		CycleID:       cycleID,
		Timestamp:     time.Now(),
		ArticleCount:  len(articles),
		Score:         news.AggregateScore(articles),
		CrisisType:    news.DominantCrisisType(articles, o.cfg.Lexicon),
		Sentiment:     news.Sentiment(articles, o.cfg.Lexicon),
		TopArticles:   news.TopArticleIDs(articles, topArticleCount),
		BreakingCount: newsResult.BreakingCount,
	}

	// §5 ordering: market snapshot and news signal persisted before the
	// DEFCON transition.
	if err := o.store.SaveMarketSnapshot(ctx, snapshot); err != nil {
		slog.Warn("orchestrator: persist market snapshot failed", "cycle_id", cycleID, "err", err)
	}
	if err := o.store.SaveNewsSignal(ctx, newsSignal); err != nil {
		slog.Warn("orchestrator: persist news signal failed", "cycle_id", cycleID, "err", err)
	}

	weights := o.cfg.Weights
	if weights == (signal.Weights{}) {
		weights = signal.DefaultWeights
	}
	score, level, reasonCode := signal.ScoreWeighted(signal.Inputs{
		NewsScore:     newsSignal.Score,
		VIX:           snapshot.VIX,
		Yield10Y:      snapshot.BondYield10Y,
		SP500Pct:      snapshot.SP500ChangePct,
		BreakingCount: newsSignal.BreakingCount,
	}, weights)

	previousLevel := domain.DefconPeacetime
	prevState, found, err := o.store.LatestDefconState(ctx)
	if err != nil {
		slog.Warn("orchestrator: read previous defcon state failed", "cycle_id", cycleID, "err", err)
	} else if found {
		previousLevel = prevState.Level
	}

	if !found || level != previousLevel {
		newState := domain.DefconState{Level: level, SignalScore: score, EnteredAt: time.Now(), ReasonCode: reasonCode}
		if err := o.store.SaveDefconState(ctx, newState); err != nil {
			slog.Warn("orchestrator: persist defcon transition failed", "cycle_id", cycleID, "err", err)
		}
		for _, e := range alert.DefconChange(previousLevel, level, score, reasonCode) {
			o.routeAlert(ctx, e)
		}
	}

	open, err := o.ledger.ListOpen(ctx)
	if err != nil {
		slog.Warn("orchestrator: list open positions failed", "cycle_id", cycleID, "err", err)
		open = nil
	}

	holdings := make([]string, 0, len(open))
	for _, p := range open {
		holdings = append(holdings, p.Symbol)
	}
	o.routeAlert(ctx, alert.CycleSummary(domain.CycleSummaryPayload{
		Defcon:      level,
		SignalScore: score,
		VIX:         snapshot.VIX,
		Yield10Y:    snapshot.BondYield10Y,
		SP500Pct:    snapshot.SP500ChangePct,
		Holdings:    holdings,
	}))

	if alert.ShouldEmitNewsUpdate(newsResult.Novelty, newsResult.BreakingCount) {
		o.routeAlert(ctx, alert.NewsUpdate(domain.NewsUpdatePayload{
			Score:           newsSignal.Score,
			CrisisType:      newsSignal.CrisisType,
			SentimentLabel:  newsSignal.Sentiment.Label(),
			ArticleCount:    newsSignal.ArticleCount,
			NewArticleCount: newsResult.NewCount,
			BreakingCount:   newsSignal.BreakingCount,
			Top:             topRefs(articles, topArticleCount),
		}))
	}

	// §5 ordering: DEFCON persisted before the exit evaluator runs. §2's
	// data flow names no automatic entry step — proposing an entry is an
	// external-collaborator trigger (ProposeEntry), so only exits run here.
	thresholds := o.cfg.ExitThresholds
	if thresholds == (exitstrategy.Thresholds{}) {
		thresholds = exitstrategy.DefaultThresholds
	}
	for _, pos := range open {
		refreshed, decision := exitstrategy.EvaluateWithThresholds(pos, snapshot, level, thresholds)
		if decision == nil {
			if _, err := o.ledger.Mark(ctx, refreshed, refreshed.CurrentPrice); err != nil {
				slog.Warn("orchestrator: mark position failed", "position_id", pos.ID, "err", err)
			}
			continue
		}

		closed, err := o.ledger.Close(ctx, refreshed, decision.Price, decision.Reason)
		if err != nil {
			slog.Warn("orchestrator: close position failed", "position_id", pos.ID, "err", err)
			continue
		}
		// §5 ordering: exit applications persisted (Close, above) before
		// their alerts are emitted.
		o.routeAlert(ctx, alert.TradeExit(closed.Symbol, closed.ExitReason, closed.PnLPct()))
	}

	_ = held // held only gates ProposeEntry; the automatic loop never proposes entries.
}

// ProposeEntry is the integration point for proposing a new paper
// position. spec.md names the concept (PendingDecision.kind=entry,
// held-mode skips entry proposals, broker_mode gates application) but
// its literal per-cycle data flow (§2) never calls open() itself — the
// only named trade-entry source is the out-of-scope chat transport
// (§1). This method is that trigger point: mode-gating and broker-mode
// gating are enforced here and in ledger.Open; deciding *when* and
// *what* to propose is left to the caller (operator command, chat
// transport, or a test).
func (o *Orchestrator) ProposeEntry(ctx context.Context, symbol string, qty float64) (ledger.EntryOutcome, error) {
	switch o.Mode() {
	case domain.ModeHeld:
		return ledger.EntryOutcome{}, ErrEntriesHeld
	case domain.ModeRunning:
	default:
		return ledger.EntryOutcome{}, ErrNotRunning
	}

	snapshot := o.market.Snapshot(ctx, []string{symbol})
	price, ok := snapshot.Price(symbol)
	if !ok {
		return ledger.EntryOutcome{}, ErrNotRunning
	}

	level := domain.DefconPeacetime
	if latest, found, err := o.store.LatestDefconState(ctx); err == nil && found {
		level = latest.Level
	}

	outcome, err := o.ledger.Open(ctx, symbol, qty, price, level, snapshot)
	if err != nil {
		return ledger.EntryOutcome{}, err
	}

	o.routeAlert(ctx, alert.TradeEntry([]string{symbol}, qty*price, level, outcome.Pending != nil))
	return outcome, nil
}

func (o *Orchestrator) routeAlert(ctx context.Context, e domain.Event) {
	if err := o.alerts.Route(ctx, e); err != nil {
		slog.Warn("orchestrator: alert route returned an error", "kind", e.Kind, "err", err)
	}
}

func topRefs(articles []domain.Article, n int) []domain.NewsArticleRef {
	byID := make(map[string]domain.Article, len(articles))
	for _, a := range articles {
		byID[a.ID] = a
	}

	ids := news.TopArticleIDs(articles, n)
	refs := make([]domain.NewsArticleRef, 0, len(ids))
	for _, id := range ids {
		a := byID[id]
		title := a.Title
		if len(title) > 80 {
			title = title[:80]
		}
		refs = append(refs, domain.NewsArticleRef{Source: a.Source, Title: title, Urgency: a.Urgency})
	}
	return refs
}

// applyCommand dispatches a single command by verb, acking it with the
// outcome so its backing queue can complete its consume protocol.
func (o *Orchestrator) applyCommand(ctx context.Context, cmd domain.Command) {
	var err error
	switch cmd.Verb {
	case domain.VerbHold:
		err = o.transition(domain.ModeRunning, domain.ModeHeld)
	case domain.VerbResume:
		err = o.transitionAny([]domain.Mode{domain.ModeHeld, domain.ModeEStopped}, domain.ModeRunning)
	case domain.VerbShutdown:
		err = o.transitionAny([]domain.Mode{domain.ModeRunning, domain.ModeHeld}, domain.ModeShuttingDown)
	case domain.VerbEstop:
		o.setMode(domain.ModeEStopped)
		o.cancelCurrentCycle()
	case domain.VerbRefresh:
		o.requestRefresh()
	case domain.VerbMode:
		err = o.setBrokerMode(cmd.Args)
	case domain.VerbInterval:
		err = o.setInterval(cmd.Args)
	case domain.VerbYes:
		err = o.resolvePendingDecision(ctx, domain.DecisionApproved)
	case domain.VerbNo:
		err = o.resolvePendingDecision(ctx, domain.DecisionRejected)
	case domain.VerbStatus:
		o.routeAlert(ctx, alert.CommandResponse(cmd.ID, o.statusPayload()))
	case domain.VerbPortfolio:
		o.routeAlert(ctx, alert.CommandResponse(cmd.ID, o.portfolioPayload(ctx)))
	case domain.VerbDefcon:
		o.routeAlert(ctx, alert.CommandResponse(cmd.ID, o.defconPayload(ctx)))
	default:
		err = ErrUnknownVerb
	}

	if err != nil {
		slog.Warn("orchestrator: command rejected", "verb", cmd.Verb, "id", cmd.ID, "err", err)
	}
	o.commands.Ack(cmd, err)
}

func (o *Orchestrator) setMode(m domain.Mode) {
	o.mu.Lock()
	o.state.Mode = m
	o.mu.Unlock()
}

func (o *Orchestrator) transition(from, to domain.Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Mode != from {
		return ErrInvalidState
	}
	o.state.Mode = to
	return nil
}

func (o *Orchestrator) transitionAny(froms []domain.Mode, to domain.Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range froms {
		if o.state.Mode == f {
			o.state.Mode = to
			return nil
		}
	}
	return ErrInvalidState
}

func (o *Orchestrator) setBrokerMode(args []string) error {
	if len(args) != 1 {
		return ErrInvalidState
	}
	mode := domain.BrokerMode(args[0])
	switch mode {
	case domain.BrokerDisabled, domain.BrokerSemiAuto, domain.BrokerFullAuto:
	default:
		return ErrInvalidState
	}

	o.mu.Lock()
	o.state.BrokerMode = mode
	o.mu.Unlock()
	o.ledger.SetBrokerMode(mode)
	return nil
}

func (o *Orchestrator) setInterval(args []string) error {
	if len(args) != 1 {
		return ErrInvalidState
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes <= 0 {
		return ErrInvalidState
	}

	o.mu.Lock()
	o.state.CycleIntervalSec = minutes * 60
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) resolvePendingDecision(ctx context.Context, status domain.DecisionStatus) error {
	decision, found, err := o.store.ActivePendingDecision(ctx)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoActiveDecision
	}
	decision.Status = status
	return o.store.SavePendingDecision(ctx, decision)
}

// statusPayload is the JSON body §6 requires the `status` verb return.
type statusPayload struct {
	Mode             domain.Mode      `json:"mode"`
	BrokerMode       domain.BrokerMode `json:"broker_mode"`
	CycleCount       int64            `json:"cycle_count"`
	CycleIntervalSec int              `json:"cycle_interval_sec"`
}

func (o *Orchestrator) statusPayload() statusPayload {
	s := o.State()
	return statusPayload{Mode: s.Mode, BrokerMode: s.BrokerMode, CycleCount: s.CycleCount, CycleIntervalSec: s.CycleIntervalSec}
}

type portfolioPayload struct {
	Open []domain.Position `json:"open"`
}

func (o *Orchestrator) portfolioPayload(ctx context.Context) portfolioPayload {
	open, err := o.ledger.ListOpen(ctx)
	if err != nil {
		slog.Warn("orchestrator: portfolio query failed", "err", err)
		open = nil
	}
	return portfolioPayload{Open: open}
}

func (o *Orchestrator) defconPayload(ctx context.Context) domain.DefconState {
	latest, found, err := o.store.LatestDefconState(ctx)
	if err != nil || !found {
		return domain.DefconState{Level: domain.DefconPeacetime}
	}
	return latest
}
