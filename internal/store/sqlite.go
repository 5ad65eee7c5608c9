// Package store implements C8: a single-writer SQLite persistence
// layer (pure Go, no cgo) behind ports.Store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hightrade/hightrade/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS news_signals (
    cycle_id       TEXT PRIMARY KEY,
    ts             DATETIME NOT NULL,
    article_count  INTEGER  NOT NULL DEFAULT 0,
    score          REAL     NOT NULL DEFAULT 0,
    crisis_type    TEXT     NOT NULL DEFAULT 'none',
    sentiment_bear REAL     NOT NULL DEFAULT 0,
    sentiment_bull REAL     NOT NULL DEFAULT 0,
    sentiment_neu  REAL     NOT NULL DEFAULT 0,
    top_articles   TEXT     NOT NULL DEFAULT '[]',
    breaking_count INTEGER  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS market_snapshots (
    ts             DATETIME PRIMARY KEY,
    vix            REAL NOT NULL DEFAULT 0,
    bond_yield_10y REAL NOT NULL DEFAULT 0,
    sp500_change   REAL NOT NULL DEFAULT 0,
    prices         TEXT NOT NULL DEFAULT '{}',
    stale          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS defcon_states (
    entered_at   DATETIME PRIMARY KEY,
    level        INTEGER NOT NULL,
    signal_score REAL    NOT NULL,
    reason_code  TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS positions (
    id            TEXT PRIMARY KEY,
    symbol        TEXT NOT NULL,
    qty           REAL NOT NULL,
    entry_price   REAL NOT NULL,
    entry_time    DATETIME NOT NULL,
    entry_defcon  INTEGER NOT NULL,
    peak_price    REAL NOT NULL,
    current_price REAL NOT NULL,
    status        TEXT NOT NULL,
    exit_price    REAL NOT NULL DEFAULT 0,
    exit_time     DATETIME,
    exit_reason   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS orchestrator_state (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    mode               TEXT NOT NULL,
    broker_mode        TEXT NOT NULL,
    cycle_interval_sec INTEGER NOT NULL,
    last_cycle_start   DATETIME,
    cycle_count        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_decisions (
    id         TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    subject    TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    expires_at DATETIME NOT NULL,
    status     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_decisions(status, created_at DESC);
`

// Store is C8's ports.Store implementation. SQLite is single-writer:
// the pool is capped at one connection so concurrent cycle writes never
// race, matching the teacher's storage adapter.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// Migrations are forward-only: ApplySchema only ever adds tables that
// are missing; it never drops or alters existing ones (§4.8).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.ApplySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store.ApplySchema: %w", err)
	}
	return nil
}

func (s *Store) SaveNewsSignal(ctx context.Context, n domain.NewsSignal) error {
	topArticles, err := json.Marshal(n.TopArticles)
	if err != nil {
		return fmt.Errorf("store.SaveNewsSignal: marshal top_articles: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO news_signals
			(cycle_id, ts, article_count, score, crisis_type,
			 sentiment_bear, sentiment_bull, sentiment_neu, top_articles, breaking_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cycle_id) DO UPDATE SET
			ts = excluded.ts, article_count = excluded.article_count, score = excluded.score,
			crisis_type = excluded.crisis_type, sentiment_bear = excluded.sentiment_bear,
			sentiment_bull = excluded.sentiment_bull, sentiment_neu = excluded.sentiment_neu,
			top_articles = excluded.top_articles, breaking_count = excluded.breaking_count
	`, n.CycleID, n.Timestamp.UTC(), n.ArticleCount, n.Score, string(n.CrisisType),
		n.Sentiment.Bearish, n.Sentiment.Bullish, n.Sentiment.Neutral, string(topArticles), n.BreakingCount)
	if err != nil {
		return fmt.Errorf("store.SaveNewsSignal: %w", err)
	}
	return nil
}

func (s *Store) LatestNewsSignal(ctx context.Context) (domain.NewsSignal, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cycle_id, ts, article_count, score, crisis_type,
		       sentiment_bear, sentiment_bull, sentiment_neu, top_articles, breaking_count
		FROM news_signals ORDER BY ts DESC LIMIT 1
	`)

	var n domain.NewsSignal
	var topArticlesJSON string
	err := row.Scan(&n.CycleID, &n.Timestamp, &n.ArticleCount, &n.Score, &n.CrisisType,
		&n.Sentiment.Bearish, &n.Sentiment.Bullish, &n.Sentiment.Neutral, &topArticlesJSON, &n.BreakingCount)
	if err == sql.ErrNoRows {
		return domain.NewsSignal{}, false, nil
	}
	if err != nil {
		return domain.NewsSignal{}, false, fmt.Errorf("store.LatestNewsSignal: %w", err)
	}
	if err := json.Unmarshal([]byte(topArticlesJSON), &n.TopArticles); err != nil {
		return domain.NewsSignal{}, false, fmt.Errorf("store.LatestNewsSignal: unmarshal top_articles: %w", err)
	}
	return n, true, nil
}

func (s *Store) SaveMarketSnapshot(ctx context.Context, m domain.MarketSnapshot) error {
	prices, err := json.Marshal(m.PerSymbolPrice)
	if err != nil {
		return fmt.Errorf("store.SaveMarketSnapshot: marshal prices: %w", err)
	}
	stale := 0
	if m.Stale {
		stale = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO market_snapshots (ts, vix, bond_yield_10y, sp500_change, prices, stale)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts) DO UPDATE SET vix=excluded.vix, bond_yield_10y=excluded.bond_yield_10y,
			sp500_change=excluded.sp500_change, prices=excluded.prices, stale=excluded.stale
	`, m.Timestamp.UTC(), m.VIX, m.BondYield10Y, m.SP500ChangePct, string(prices), stale)
	if err != nil {
		return fmt.Errorf("store.SaveMarketSnapshot: %w", err)
	}
	return nil
}

func (s *Store) SaveDefconState(ctx context.Context, d domain.DefconState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO defcon_states (entered_at, level, signal_score, reason_code) VALUES (?, ?, ?, ?)
	`, d.EnteredAt.UTC(), int(d.Level), d.SignalScore, d.ReasonCode)
	if err != nil {
		return fmt.Errorf("store.SaveDefconState: %w", err)
	}
	return nil
}

func (s *Store) LatestDefconState(ctx context.Context) (domain.DefconState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entered_at, level, signal_score, reason_code
		FROM defcon_states ORDER BY entered_at DESC LIMIT 1
	`)
	var d domain.DefconState
	var level int
	err := row.Scan(&d.EnteredAt, &level, &d.SignalScore, &d.ReasonCode)
	if err == sql.ErrNoRows {
		return domain.DefconState{}, false, nil
	}
	if err != nil {
		return domain.DefconState{}, false, fmt.Errorf("store.LatestDefconState: %w", err)
	}
	d.Level = domain.DefconLevel(level)
	return d, true, nil
}

func (s *Store) SavePosition(ctx context.Context, p domain.Position) error {
	var exitTime any
	if !p.ExitTime.IsZero() {
		exitTime = p.ExitTime.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, symbol, qty, entry_price, entry_time, entry_defcon, peak_price,
			 current_price, status, exit_price, exit_time, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			peak_price=excluded.peak_price, current_price=excluded.current_price,
			status=excluded.status, exit_price=excluded.exit_price,
			exit_time=excluded.exit_time, exit_reason=excluded.exit_reason
	`, p.ID, p.Symbol, p.Qty, p.EntryPrice, p.EntryTime.UTC(), int(p.EntryDefcon), p.PeakPrice,
		p.CurrentPrice, string(p.Status), p.ExitPrice, exitTime, string(p.ExitReason))
	if err != nil {
		return fmt.Errorf("store.SavePosition: %w", err)
	}
	return nil
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return s.queryPositions(ctx, `
		SELECT id, symbol, qty, entry_price, entry_time, entry_defcon, peak_price,
		       current_price, status, exit_price, exit_time, exit_reason
		FROM positions WHERE status IN (?, ?)
	`, string(domain.PositionOpen), string(domain.PositionPendingExit))
}

func (s *Store) ListClosedPositions(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	return s.queryPositions(ctx, `
		SELECT id, symbol, qty, entry_price, entry_time, entry_defcon, peak_price,
		       current_price, status, exit_price, exit_time, exit_reason
		FROM positions WHERE status = ? AND exit_time BETWEEN ? AND ?
	`, string(domain.PositionClosed), from.UTC(), to.UTC())
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.queryPositions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var entryDefcon int
		var status, exitReason string
		var exitTime sql.NullTime

		if err := rows.Scan(&p.ID, &p.Symbol, &p.Qty, &p.EntryPrice, &p.EntryTime, &entryDefcon,
			&p.PeakPrice, &p.CurrentPrice, &status, &p.ExitPrice, &exitTime, &exitReason); err != nil {
			return nil, fmt.Errorf("store.queryPositions: scan: %w", err)
		}
		p.EntryDefcon = domain.DefconLevel(entryDefcon)
		p.Status = domain.PositionStatus(status)
		p.ExitReason = domain.ExitReason(exitReason)
		if exitTime.Valid {
			p.ExitTime = exitTime.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SaveOrchestratorState(ctx context.Context, st domain.OrchestratorState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestrator_state (id, mode, broker_mode, cycle_interval_sec, last_cycle_start, cycle_count)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode=excluded.mode, broker_mode=excluded.broker_mode,
			cycle_interval_sec=excluded.cycle_interval_sec,
			last_cycle_start=excluded.last_cycle_start, cycle_count=excluded.cycle_count
	`, string(st.Mode), string(st.BrokerMode), st.CycleIntervalSec, st.LastCycleStart.UTC(), st.CycleCount)
	if err != nil {
		return fmt.Errorf("store.SaveOrchestratorState: %w", err)
	}
	return nil
}

func (s *Store) LoadOrchestratorState(ctx context.Context) (domain.OrchestratorState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mode, broker_mode, cycle_interval_sec, last_cycle_start, cycle_count
		FROM orchestrator_state WHERE id = 1
	`)
	var st domain.OrchestratorState
	var mode, brokerMode string
	err := row.Scan(&mode, &brokerMode, &st.CycleIntervalSec, &st.LastCycleStart, &st.CycleCount)
	if err == sql.ErrNoRows {
		return domain.OrchestratorState{}, false, nil
	}
	if err != nil {
		return domain.OrchestratorState{}, false, fmt.Errorf("store.LoadOrchestratorState: %w", err)
	}
	st.Mode = domain.Mode(mode)
	st.BrokerMode = domain.BrokerMode(brokerMode)
	return st, true, nil
}

func (s *Store) SavePendingDecision(ctx context.Context, d domain.PendingDecision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_decisions (id, kind, subject, created_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status
	`, d.ID, string(d.Kind), d.Subject, d.CreatedAt.UTC(), d.ExpiresAt.UTC(), string(d.Status))
	if err != nil {
		return fmt.Errorf("store.SavePendingDecision: %w", err)
	}
	return nil
}

func (s *Store) ActivePendingDecision(ctx context.Context) (domain.PendingDecision, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, subject, created_at, expires_at, status
		FROM pending_decisions WHERE status = ? ORDER BY created_at DESC LIMIT 1
	`, string(domain.DecisionAwaiting))
	var d domain.PendingDecision
	var kind, status string
	err := row.Scan(&d.ID, &kind, &d.Subject, &d.CreatedAt, &d.ExpiresAt, &status)
	if err == sql.ErrNoRows {
		return domain.PendingDecision{}, false, nil
	}
	if err != nil {
		return domain.PendingDecision{}, false, fmt.Errorf("store.ActivePendingDecision: %w", err)
	}
	d.Kind = domain.DecisionKind(kind)
	d.Status = domain.DecisionStatus(status)
	return d, true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
