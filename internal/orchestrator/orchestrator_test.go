package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/ledger"
	"github.com/hightrade/hightrade/internal/news"
	"github.com/hightrade/hightrade/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu sync.Mutex

	newsSignal  *domain.NewsSignal
	defconState *domain.DefconState
	positions   map[string]domain.Position
	orchState   *domain.OrchestratorState
	pending     []domain.PendingDecision

	snapshotSaves int
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (m *memStore) ApplySchema(ctx context.Context) error { return nil }

func (m *memStore) SaveNewsSignal(ctx context.Context, s domain.NewsSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newsSignal = &s
	return nil
}

func (m *memStore) LatestNewsSignal(ctx context.Context) (domain.NewsSignal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.newsSignal == nil {
		return domain.NewsSignal{}, false, nil
	}
	return *m.newsSignal, true, nil
}

func (m *memStore) SaveMarketSnapshot(ctx context.Context, ms domain.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotSaves++
	return nil
}

func (m *memStore) SaveDefconState(ctx context.Context, d domain.DefconState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defconState = &d
	return nil
}

func (m *memStore) LatestDefconState(ctx context.Context) (domain.DefconState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defconState == nil {
		return domain.DefconState{}, false, nil
	}
	return *m.defconState, true, nil
}

func (m *memStore) SavePosition(ctx context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

func (m *memStore) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.Status == domain.PositionOpen || p.Status == domain.PositionPendingExit {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListClosedPositions(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	return nil, nil
}

func (m *memStore) SaveOrchestratorState(ctx context.Context, s domain.OrchestratorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orchState = &s
	return nil
}

func (m *memStore) LoadOrchestratorState(ctx context.Context) (domain.OrchestratorState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orchState == nil {
		return domain.OrchestratorState{}, false, nil
	}
	return *m.orchState, true, nil
}

func (m *memStore) SavePendingDecision(ctx context.Context, d domain.PendingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.pending {
		if existing.ID == d.ID {
			m.pending[i] = d
			return nil
		}
	}
	m.pending = append(m.pending, d)
	return nil
}

func (m *memStore) ActivePendingDecision(ctx context.Context) (domain.PendingDecision, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.pending) - 1; i >= 0; i-- {
		if m.pending[i].Status == domain.DecisionAwaiting {
			return m.pending[i], true, nil
		}
	}
	return domain.PendingDecision{}, false, nil
}

func (m *memStore) Close() error { return nil }

type fakeMarket struct {
	price float64
}

func (f *fakeMarket) Quote(ctx context.Context, symbol string) (float64, bool, error) {
	return f.price, false, nil
}

func (f *fakeMarket) Macro(ctx context.Context) (float64, float64, float64, error) {
	return 16, 3.5, 0, nil
}

func (f *fakeMarket) Snapshot(ctx context.Context, symbols []string) domain.MarketSnapshot {
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = f.price
	}
	return domain.MarketSnapshot{Timestamp: time.Now(), VIX: 16, BondYield10Y: 3.5, SP500ChangePct: 0, PerSymbolPrice: prices}
}

type fakeAlertRouter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakeAlertRouter) Route(ctx context.Context, e domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeAlertRouter) kinds() []domain.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventKind, len(f.events))
	for i, e := range f.events {
		out[i] = e.Kind
	}
	return out
}

type fakeCommandSource struct {
	ch chan domain.Command

	mu    sync.Mutex
	acked []error
}

func newFakeCommandSource() *fakeCommandSource {
	return &fakeCommandSource{ch: make(chan domain.Command, 8)}
}

func (f *fakeCommandSource) Commands() <-chan domain.Command { return f.ch }

func (f *fakeCommandSource) Ack(cmd domain.Command, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, err)
}

func (f *fakeCommandSource) send(cmd domain.Command) { f.ch <- cmd }

func newTestOrchestrator(store *memStore, market *fakeMarket, alerts *fakeAlertRouter, commands *fakeCommandSource, brokerMode domain.BrokerMode) *Orchestrator {
	limiter := ratelimit.New(nil)
	aggregator := news.New(news.Config{Dedup: news.DefaultDedupConfig, Lexicon: news.Lexicon{}}, nil, limiter, store)
	ldg := ledger.New(store, brokerMode)
	return New(aggregator, market, ldg, store, alerts, commands, Config{
		Symbols:            []string{"SPY"},
		DefaultIntervalSec: 1,
		DefaultBrokerMode:  brokerMode,
	})
}

func TestTransition_OnlyFromExpectedState(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)
	o.state.Mode = domain.ModeRunning

	require.NoError(t, o.transition(domain.ModeRunning, domain.ModeHeld))
	assert.Equal(t, domain.ModeHeld, o.Mode())

	assert.ErrorIs(t, o.transition(domain.ModeRunning, domain.ModeHeld), ErrInvalidState)
}

func TestTransitionAny_ResumeFromHeldOrEStopped(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)

	o.state.Mode = domain.ModeEStopped
	require.NoError(t, o.transitionAny([]domain.Mode{domain.ModeHeld, domain.ModeEStopped}, domain.ModeRunning))
	assert.Equal(t, domain.ModeRunning, o.Mode())

	o.state.Mode = domain.ModeShuttingDown
	assert.ErrorIs(t, o.transitionAny([]domain.Mode{domain.ModeHeld, domain.ModeEStopped}, domain.ModeRunning), ErrInvalidState)
}

func TestSetBrokerMode_RejectsUnknownValue(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)
	assert.ErrorIs(t, o.setBrokerMode([]string{"bogus"}), ErrInvalidState)
	require.NoError(t, o.setBrokerMode([]string{"disabled"}))
	assert.Equal(t, domain.BrokerDisabled, o.State().BrokerMode)
}

func TestSetInterval_RejectsNonPositive(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)
	assert.ErrorIs(t, o.setInterval([]string{"0"}), ErrInvalidState)
	assert.ErrorIs(t, o.setInterval([]string{"abc"}), ErrInvalidState)
	require.NoError(t, o.setInterval([]string{"5"}))
	assert.Equal(t, 300, o.State().CycleIntervalSec)
}

func TestResolvePendingDecision_NoActiveReturnsError(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)
	err := o.resolvePendingDecision(context.Background(), domain.DecisionApproved)
	assert.ErrorIs(t, err, ErrNoActiveDecision)
}

func TestProposeEntry_HeldModeRejected(t *testing.T) {
	o := newTestOrchestrator(newMemStore(), &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)
	o.state.Mode = domain.ModeHeld

	_, err := o.ProposeEntry(context.Background(), "SPY", 10)
	assert.ErrorIs(t, err, ErrEntriesHeld)
}

func TestProposeEntry_RunningFullAutoOpensPosition(t *testing.T) {
	store := newMemStore()
	alerts := &fakeAlertRouter{}
	o := newTestOrchestrator(store, &fakeMarket{price: 450}, alerts, newFakeCommandSource(), domain.BrokerFullAuto)
	o.state.Mode = domain.ModeRunning

	outcome, err := o.ProposeEntry(context.Background(), "SPY", 10)
	require.NoError(t, err)
	require.NotNil(t, outcome.Position)
	assert.Equal(t, "SPY", outcome.Position.Symbol)
	assert.Contains(t, alerts.kinds(), domain.EventTradeEntry)
}

func TestRunCycle_PersistsMarketAndNewsAndEmitsSummary(t *testing.T) {
	store := newMemStore()
	alerts := &fakeAlertRouter{}
	o := newTestOrchestrator(store, &fakeMarket{price: 450}, alerts, newFakeCommandSource(), domain.BrokerFullAuto)

	o.runCycle(context.Background(), false)

	assert.Equal(t, 1, store.snapshotSaves)
	_, found, _ := store.LatestNewsSignal(context.Background())
	assert.True(t, found)
	assert.Contains(t, alerts.kinds(), domain.EventCycleSummary)
}

func TestRunCycle_DefconChangeOnlyPersistedWhenLevelChanges(t *testing.T) {
	store := newMemStore()
	alerts := &fakeAlertRouter{}
	o := newTestOrchestrator(store, &fakeMarket{price: 450}, alerts, newFakeCommandSource(), domain.BrokerFullAuto)

	o.runCycle(context.Background(), false)
	first := alerts.kinds()
	firstDefconEvents := 0
	for _, k := range first {
		if k == domain.EventDefconChange {
			firstDefconEvents++
		}
	}
	assert.Equal(t, 1, firstDefconEvents, "the first cycle always transitions from nothing to peacetime")

	alerts.events = nil
	o.runCycle(context.Background(), false)
	for _, k := range alerts.kinds() {
		assert.NotEqual(t, domain.EventDefconChange, k, "an unchanged DEFCON level must not re-emit a transition")
	}
}

func TestRunCycle_HeldStillRunsMonitoringAndExits(t *testing.T) {
	store := newMemStore()
	alerts := &fakeAlertRouter{}
	o := newTestOrchestrator(store, &fakeMarket{price: 94.9}, alerts, newFakeCommandSource(), domain.BrokerFullAuto)

	pos := domain.Position{
		ID: "p1", Symbol: "SPY", Qty: 1, EntryPrice: 100, EntryTime: time.Now().Add(-2 * time.Hour),
		EntryDefcon: domain.DefconPeacetime, PeakPrice: 100, CurrentPrice: 100, Status: domain.PositionOpen,
	}
	require.NoError(t, store.SavePosition(context.Background(), pos))

	o.runCycle(context.Background(), true)

	open, _ := store.ListOpenPositions(context.Background())
	assert.Empty(t, open, "stop_loss must still fire while held (user safety)")
	assert.Contains(t, alerts.kinds(), domain.EventTradeExit)
}

func TestWaitForNextCycle_RefreshInterruptsSleepEarly(t *testing.T) {
	store := newMemStore()
	o := newTestOrchestrator(store, &fakeMarket{price: 450}, &fakeAlertRouter{}, newFakeCommandSource(), domain.BrokerFullAuto)
	o.state.LastCycleStart = time.Now()
	o.state.CycleIntervalSec = 3600

	o.requestRefresh()

	done := make(chan bool, 1)
	go func() { done <- o.waitForNextCycle(context.Background()) }()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("waitForNextCycle did not return promptly on refresh")
	}
}

func TestRun_HoldThenShutdown_EndsCleanly(t *testing.T) {
	store := newMemStore()
	alerts := &fakeAlertRouter{}
	commands := newFakeCommandSource()
	o := newTestOrchestrator(store, &fakeMarket{price: 450}, alerts, commands, domain.BrokerFullAuto)
	o.cfg.DefaultIntervalSec = 3600 // long enough that only commands drive progress

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- o.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	commands.send(domain.Command{ID: "c1", Verb: domain.VerbHold})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.ModeHeld, o.Mode())

	commands.send(domain.Command{ID: "c2", Verb: domain.VerbShutdown})

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit after shutdown")
	}
	assert.Equal(t, domain.ModeShuttingDown, o.Mode())
}
