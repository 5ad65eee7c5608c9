// Package ledger implements C7: the paper trade ledger, gating entries
// by broker mode and enforcing the Position invariants at the boundary.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/ports"
)

var (
	// ErrStaleSnapshot is returned when Open is attempted against a
	// stale MarketSnapshot (§4.4: the ledger must refuse to open new
	// positions from stale snapshots; exits still evaluate normally).
	ErrStaleSnapshot = errors.New("ledger: refusing to open a new position from a stale snapshot")
	// ErrAlreadyClosed guards the no-double-close invariant.
	ErrAlreadyClosed = errors.New("ledger: position is already closed")
	// ErrNotFound names a position ID that matches no open position; no
	// Ledger method returns it.
	ErrNotFound = errors.New("ledger: position not found")
)

// EntryOutcome reports what Open actually did, so the orchestrator knows
// whether to route an alert or file a pending decision (§4.7, §4.9).
type EntryOutcome struct {
	Position *domain.Position  // set when the entry executed immediately
	Pending  *domain.PendingDecision // set when broker_mode=disabled filed an approval request
}

// Ledger is C7, backed by the persistence store for durability.
type Ledger struct {
	store ports.Store

	mu         sync.RWMutex
	brokerMode domain.BrokerMode
}

// New constructs a Ledger over store, gated by brokerMode.
func New(store ports.Store, brokerMode domain.BrokerMode) *Ledger {
	return &Ledger{store: store, brokerMode: brokerMode}
}

// SetBrokerMode updates the gating policy at runtime — the orchestrator
// calls this in response to a `mode` command (§4.10).
func (l *Ledger) SetBrokerMode(mode domain.BrokerMode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.brokerMode = mode
}

func (l *Ledger) currentBrokerMode() domain.BrokerMode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.brokerMode
}

// Open proposes a new position. Under broker_mode=disabled it files a
// PendingDecision instead of opening anything; semi_auto and full_auto
// both execute immediately, differing only in what alert the caller
// should emit (informational vs silent) — that's the orchestrator's
// concern, not the ledger's.
func (l *Ledger) Open(ctx context.Context, symbol string, qty, entryPrice float64, defcon domain.DefconLevel, snapshot domain.MarketSnapshot) (EntryOutcome, error) {
	if snapshot.Stale {
		return EntryOutcome{}, ErrStaleSnapshot
	}

	if l.currentBrokerMode() == domain.BrokerDisabled {
		decision := domain.PendingDecision{
			ID:        uuid.NewString(),
			Kind:      domain.DecisionEntry,
			Subject:   symbol,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(30 * time.Minute),
			Status:    domain.DecisionAwaiting,
		}
		if err := l.store.SavePendingDecision(ctx, decision); err != nil {
			return EntryOutcome{}, fmt.Errorf("ledger: file pending entry: %w", err)
		}
		return EntryOutcome{Pending: &decision}, nil
	}

	pos := domain.Position{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Qty:          qty,
		EntryPrice:   entryPrice,
		EntryTime:    time.Now(),
		EntryDefcon:  defcon,
		PeakPrice:    entryPrice,
		CurrentPrice: entryPrice,
		Status:       domain.PositionOpen,
	}
	if err := l.store.SavePosition(ctx, pos); err != nil {
		return EntryOutcome{}, fmt.Errorf("ledger: save position: %w", err)
	}
	return EntryOutcome{Position: &pos}, nil
}

// Mark updates a position's current and peak price. It is a no-op if
// price is NaN or non-positive (§4.7 invariant) — callers should not
// treat this as an error since transient bad marks should not crash a
// cycle.
func (l *Ledger) Mark(ctx context.Context, pos domain.Position, price float64) (domain.Position, error) {
	if math.IsNaN(price) || price <= 0 {
		return pos, nil
	}
	if pos.Status != domain.PositionOpen && pos.Status != domain.PositionPendingExit {
		return pos, nil
	}

	pos.CurrentPrice = price
	if price > pos.PeakPrice {
		pos.PeakPrice = price
	}
	if err := l.store.SavePosition(ctx, pos); err != nil {
		return pos, fmt.Errorf("ledger: mark: %w", err)
	}
	return pos, nil
}

// Close transitions an open position to closed. It refuses to close a
// position that is already closed (no-double-close invariant).
func (l *Ledger) Close(ctx context.Context, pos domain.Position, price float64, reason domain.ExitReason) (domain.Position, error) {
	if pos.Status == domain.PositionClosed {
		return pos, ErrAlreadyClosed
	}

	pos.Status = domain.PositionClosed
	pos.ExitPrice = price
	pos.ExitTime = time.Now()
	pos.ExitReason = reason

	if err := l.store.SavePosition(ctx, pos); err != nil {
		return pos, fmt.Errorf("ledger: close: %w", err)
	}
	return pos, nil
}

// ListOpen returns every position currently open or pending exit.
func (l *Ledger) ListOpen(ctx context.Context) ([]domain.Position, error) {
	positions, err := l.store.ListOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open: %w", err)
	}
	return positions, nil
}
