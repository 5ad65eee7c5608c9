package ports

import (
	"context"
	"time"

	"github.com/hightrade/hightrade/internal/domain"
)

// Store is the single-writer persistence boundary (C8, §4.8). Writes
// happen only from the orchestrator task; reads may be concurrent.
type Store interface {
	// ApplySchema creates missing tables; it never drops or alters
	// existing ones (forward-only migrations, §4.8).
	ApplySchema(ctx context.Context) error

	SaveNewsSignal(ctx context.Context, s domain.NewsSignal) error
	LatestNewsSignal(ctx context.Context) (domain.NewsSignal, bool, error)

	SaveMarketSnapshot(ctx context.Context, m domain.MarketSnapshot) error

	SaveDefconState(ctx context.Context, d domain.DefconState) error
	LatestDefconState(ctx context.Context) (domain.DefconState, bool, error)

	SavePosition(ctx context.Context, p domain.Position) error
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)
	ListClosedPositions(ctx context.Context, from, to time.Time) ([]domain.Position, error)

	SaveOrchestratorState(ctx context.Context, s domain.OrchestratorState) error
	LoadOrchestratorState(ctx context.Context) (domain.OrchestratorState, bool, error)

	SavePendingDecision(ctx context.Context, d domain.PendingDecision) error
	ActivePendingDecision(ctx context.Context) (domain.PendingDecision, bool, error)

	Close() error
}
