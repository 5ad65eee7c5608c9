// Package ratelimit implements the per-source token accounting and
// exponential backoff described in §4.1. Each source gets its own
// token-bucket limiter (golang.org/x/time/rate) for the rolling rpm
// window plus a minimum inter-call spacing and a backoff clock that only
// advances on rate_limited outcomes.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Outcome is the result of a call made after acquire, fed back via record.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeOtherError
)

// SourceConfig configures a single source's pacing.
type SourceConfig struct {
	RPM       int // calls per rolling minute
	MinIntervalMS int
}

// Defaults matching §4.1.
var (
	AlphaVantageDefault = SourceConfig{RPM: 5, MinIntervalMS: 12_000}
	RedditDefault       = SourceConfig{RPM: 60, MinIntervalMS: 1_000}
)

const maxBackoff = 300 * time.Second

// sourceState is the mutable bookkeeping for one source.
type sourceState struct {
	cfg                SourceConfig
	bucket             *rate.Limiter
	mu                 sync.Mutex
	lastCallAt         time.Time
	consecutiveFailures int
	nextAllowedAt      time.Time
}

// Limiter is a thread-safe, per-source rate limiter. Backoff state is
// per-source, not global — a rate-limited news source never throttles
// an unrelated one.
type Limiter struct {
	mu      sync.Mutex
	sources map[string]*sourceState
	configs map[string]SourceConfig
}

// New creates a Limiter. configs maps source name to its pacing; sources
// not present fall back to AlphaVantageDefault.
func New(configs map[string]SourceConfig) *Limiter {
	if configs == nil {
		configs = map[string]SourceConfig{}
	}
	return &Limiter{
		sources: make(map[string]*sourceState),
		configs: configs,
	}
}

func (l *Limiter) stateFor(source string) *sourceState {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.sources[source]; ok {
		return s
	}

	cfg, ok := l.configs[source]
	if !ok {
		cfg = AlphaVantageDefault
	}
	s := &sourceState{
		cfg:    cfg,
		bucket: rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), max(1, cfg.RPM)),
	}
	l.sources[source] = s
	return s
}

// Acquire blocks the caller until the source's minimum interval, rolling
// rpm window, and any backoff window have all elapsed. It returns early
// with ctx.Err() if ctx is cancelled (the documented estop/shutdown
// suspension-point interruption, §5).
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	s := l.stateFor(source)

	s.mu.Lock()
	minInterval := time.Duration(s.cfg.MinIntervalMS) * time.Millisecond
	earliest := s.lastCallAt.Add(minInterval)
	if s.nextAllowedAt.After(earliest) {
		earliest = s.nextAllowedAt
	}
	s.mu.Unlock()

	if wait := time.Until(earliest); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit.Acquire(%s): %w", source, err)
	}

	s.mu.Lock()
	s.lastCallAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Record updates a source's backoff state from a call outcome (§4.1).
func (l *Limiter) Record(source string, outcome Outcome) {
	s := l.stateFor(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch outcome {
	case OutcomeOK:
		s.consecutiveFailures = 0
	case OutcomeRateLimited:
		s.consecutiveFailures++
		backoff := time.Duration(math.Pow(2, float64(s.consecutiveFailures))) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		s.nextAllowedAt = time.Now().Add(backoff)
	case OutcomeOtherError:
		// no backoff change
	}
}

// NextAllowedAt reports the earliest time a source may be called next,
// for observability; only tests call it.
func (l *Limiter) NextAllowedAt(source string) time.Time {
	s := l.stateFor(source)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAllowedAt
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
