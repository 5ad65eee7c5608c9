package news

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/ports"
	"github.com/hightrade/hightrade/internal/ratelimit"
)

const (
	fetchTimeout      = 5 * time.Second
	maxRetriesPerCycle = 3
	cacheTTL          = 15 * time.Minute
)

// SourceConfig describes one configured news origin (§4.3).
type SourceConfig struct {
	Enabled         bool
	RateLimiterKey  string
}

// Config holds the aggregator's tunables.
type Config struct {
	Dedup   DedupConfig
	Lexicon Lexicon
	Sources map[string]SourceConfig
}

// cacheEntry is a TTL-bounded cached deduped batch, keyed by
// (cycle_id, source_set_hash) per §4.3 step 4.
type cacheEntry struct {
	articles []domain.Article
	expires  time.Time
}

// Aggregator is C3: multi-source fetch, dedupe, cache, and novelty
// detection against the last persisted signal.
type Aggregator struct {
	cfg       Config
	sources   []ports.NewsSource
	limiter   *ratelimit.Limiter
	store     ports.Store

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs an Aggregator over the given sources.
func New(cfg Config, sources []ports.NewsSource, limiter *ratelimit.Limiter, store ports.Store) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		sources: sources,
		limiter: limiter,
		store:   store,
		cache:   make(map[string]cacheEntry),
	}
}

// Result is everything the aggregator produces for one cycle.
type Result struct {
	Articles      []domain.Article // deduped, ordered
	Novelty       bool
	NewCount      int
	BreakingCount int
}

// Run executes the full fetch protocol for one cycle (§4.3): parallel
// per-source fetch with rate limiting and bounded retry, merge, dedupe,
// cache, and novelty comparison against the last persisted NewsSignal.
func (a *Aggregator) Run(ctx context.Context, cycleID string) (Result, error) {
	sourceSetHash := a.sourceSetHash()
	cacheKey := cycleID + ":" + sourceSetHash

	if cached, ok := a.cachedBatch(cacheKey); ok {
		return a.finish(ctx, cached)
	}

	merged := a.fetchAllSources(ctx)
	deduped := Dedupe(merged, a.cfg.Dedup)

	a.storeCache(cacheKey, deduped)

	return a.finish(ctx, deduped)
}

// fetchAllSources runs each enabled source as a bounded, cooperative
// sub-task (§5, §9 "structured concurrency") and joins before returning.
// A per-source timeout yields an empty result for that source rather
// than propagating; sibling sources are unaffected (§7).
func (a *Aggregator) fetchAllSources(ctx context.Context) []domain.Article {
	var wg sync.WaitGroup
	resultsCh := make(chan []domain.Article, len(a.sources))

	for _, src := range a.sources {
		cfg, ok := a.cfg.Sources[src.Name()]
		if ok && !cfg.Enabled {
			continue
		}

		wg.Add(1)
		go func(src ports.NewsSource, rlKey string) {
			defer wg.Done()
			resultsCh <- a.fetchOneSource(ctx, src, rlKey)
		}(src, rateLimiterKeyFor(src, a.cfg.Sources))
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var merged []domain.Article
	for batch := range resultsCh {
		merged = append(merged, batch...)
	}
	return merged
}

func rateLimiterKeyFor(src ports.NewsSource, sources map[string]SourceConfig) string {
	if cfg, ok := sources[src.Name()]; ok && cfg.RateLimiterKey != "" {
		return cfg.RateLimiterKey
	}
	return src.Name()
}

// fetchOneSource implements step 1-2 of §4.3: acquire, fetch with a hard
// timeout, retry on rate_limited up to 3 times then skip, classify.
// One initial attempt plus maxRetriesPerCycle retries.
func (a *Aggregator) fetchOneSource(ctx context.Context, src ports.NewsSource, rlKey string) []domain.Article {
	for attempt := 0; attempt <= maxRetriesPerCycle; attempt++ {
		if err := a.limiter.Acquire(ctx, rlKey); err != nil {
			slog.Warn("news: rate limiter acquire cancelled", "source", src.Name(), "err", err)
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		articles, err := src.Fetch(fetchCtx)
		cancel()

		if err == nil {
			a.limiter.Record(rlKey, ratelimit.OutcomeOK)
			return a.classifyAll(articles)
		}

		if isRateLimited(err) {
			a.limiter.Record(rlKey, ratelimit.OutcomeRateLimited)
			slog.Warn("news: source rate limited, retrying", "source", src.Name(), "attempt", attempt+1)
			continue
		}

		a.limiter.Record(rlKey, ratelimit.OutcomeOtherError)
		slog.Warn("news: source fetch failed", "source", src.Name(), "err", err)
		return nil
	}

	slog.Warn("news: source exhausted retries, skipping this cycle", "source", src.Name())
	return nil
}

func (a *Aggregator) classifyAll(articles []domain.Article) []domain.Article {
	out := make([]domain.Article, len(articles))
	for i, art := range articles {
		art.Urgency = ClassifyUrgency(art.Title+" "+art.RawText, a.cfg.Lexicon)
		art.Relevance = ScoreRelevance(art.Title+" "+art.RawText, a.cfg.Lexicon)
		if art.ID == "" {
			art.ID = ArticleID(art.URL)
		}
		out[i] = art
	}
	return out
}

// finish computes novelty against the last persisted NewsSignal and
// assembles the Result. On a store read failure, novelty defaults to
// true — fail-safe: notify rather than silently drop (§4.3).
func (a *Aggregator) finish(ctx context.Context, articles []domain.Article) (Result, error) {
	breaking := 0
	currentIDs := make(map[string]bool, len(articles))
	for _, art := range articles {
		currentIDs[art.ID] = true
		if art.Urgency == domain.UrgencyBreaking {
			breaking++
		}
	}

	prev, found, err := a.store.LatestNewsSignal(ctx)
	if err != nil {
		slog.Warn("news: failed to read previous signal, defaulting novelty=true", "err", err)
		return Result{Articles: articles, Novelty: true, NewCount: len(articles), BreakingCount: breaking}, nil
	}

	newCount := 0
	if found {
		prevIDs := make(map[string]bool, len(prev.TopArticles))
		for _, id := range prev.TopArticles {
			prevIDs[id] = true
		}
		for id := range currentIDs {
			if !prevIDs[id] {
				newCount++
			}
		}
	} else {
		newCount = len(articles)
	}

	novelty := newCount > 0 || breaking > 0

	return Result{
		Articles:      articles,
		Novelty:       novelty,
		NewCount:      newCount,
		BreakingCount: breaking,
	}, nil
}

func (a *Aggregator) sourceSetHash() string {
	h := xxhash.New()
	for _, src := range a.sources {
		cfg, ok := a.cfg.Sources[src.Name()]
		if ok && !cfg.Enabled {
			continue
		}
		_, _ = h.WriteString(src.Name() + ";")
	}
	return fmt.Sprintf("%x", h.Sum64())
}

func (a *Aggregator) cachedBatch(key string) ([]domain.Article, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.articles, true
}

func (a *Aggregator) storeCache(key string, articles []domain.Article) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[key] = cacheEntry{articles: articles, expires: time.Now().Add(cacheTTL)}
}

// ArticleID computes the stable hash of a normalized URL used as Article.ID.
func ArticleID(url string) string {
	return fmt.Sprintf("%x", xxhash.Sum64String(normalize(url)))
}

// isRateLimited recognizes the sentinel error returned by HTTP news
// sources on a 429 response (see internal/news/sources).
func isRateLimited(err error) bool {
	type rateLimitedErr interface{ RateLimited() bool }
	if rle, ok := err.(rateLimitedErr); ok {
		return rle.RateLimited()
	}
	return false
}
