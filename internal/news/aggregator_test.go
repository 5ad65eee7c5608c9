package news_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/news"
	"github.com/hightrade/hightrade/internal/ports"
	"github.com/hightrade/hightrade/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name     string
	articles []domain.Article
	err      error
	calls    int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context) ([]domain.Article, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.articles, nil
}

type rateLimitedErr struct{}

func (rateLimitedErr) Error() string     { return "rate limited" }
func (rateLimitedErr) RateLimited() bool { return true }

type stubStore struct {
	latest domain.NewsSignal
	found  bool
	err    error
}

func (s *stubStore) ApplySchema(ctx context.Context) error { return nil }
func (s *stubStore) SaveNewsSignal(ctx context.Context, sig domain.NewsSignal) error { return nil }
func (s *stubStore) LatestNewsSignal(ctx context.Context) (domain.NewsSignal, bool, error) {
	return s.latest, s.found, s.err
}
func (s *stubStore) SaveMarketSnapshot(ctx context.Context, m domain.MarketSnapshot) error { return nil }
func (s *stubStore) SaveDefconState(ctx context.Context, d domain.DefconState) error       { return nil }
func (s *stubStore) LatestDefconState(ctx context.Context) (domain.DefconState, bool, error) {
	return domain.DefconState{}, false, nil
}
func (s *stubStore) SavePosition(ctx context.Context, p domain.Position) error { return nil }
func (s *stubStore) ListOpenPositions(ctx context.Context) ([]domain.Position, error) { return nil, nil }
func (s *stubStore) ListClosedPositions(ctx context.Context, from, to time.Time) ([]domain.Position, error) {
	return nil, nil
}
func (s *stubStore) SaveOrchestratorState(ctx context.Context, st domain.OrchestratorState) error {
	return nil
}
func (s *stubStore) LoadOrchestratorState(ctx context.Context) (domain.OrchestratorState, bool, error) {
	return domain.OrchestratorState{}, false, nil
}
func (s *stubStore) SavePendingDecision(ctx context.Context, d domain.PendingDecision) error {
	return nil
}
func (s *stubStore) ActivePendingDecision(ctx context.Context) (domain.PendingDecision, bool, error) {
	return domain.PendingDecision{}, false, nil
}
func (s *stubStore) Close() error { return nil }

func testLexicon() news.Lexicon {
	return news.Lexicon{
		UrgencyBreaking: []string{"breaking", "emergency"},
		UrgencyHigh:     []string{"plunge", "surge"},
		Relevance:       []string{"market", "fed", "inflation"},
	}
}

func TestAggregator_MergesAndDedupesAcrossSources(t *testing.T) {
	base := time.Now()
	src1 := &stubSource{name: "alpha_vantage_news", articles: []domain.Article{
		{ID: "x1", URL: "https://a/1", Title: "Fed Signals Rate Pause", RawText: "market inflation fed policy", PublishedAt: base},
	}}
	src2 := &stubSource{name: "rss_feeds", articles: []domain.Article{
		{ID: "x2", URL: "https://a/1", Title: "Fed Signals Rate Pause Again", RawText: "market inflation fed policy update", PublishedAt: base.Add(time.Minute)},
	}}

	store := &stubStore{found: false}
	limiter := ratelimit.New(nil)
	agg := news.New(news.Config{Dedup: news.DefaultDedupConfig, Lexicon: testLexicon()},
		[]ports.NewsSource{src1, src2}, limiter, store)

	result, err := agg.Run(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Len(t, result.Articles, 1, "exact URL match across sources should dedupe")
	assert.True(t, result.Novelty)
}

func TestAggregator_RetriesOnRateLimitThenSkips(t *testing.T) {
	src := &stubSource{name: "alpha_vantage_news", err: rateLimitedErr{}}
	store := &stubStore{found: false}
	limiter := ratelimit.New(map[string]ratelimit.SourceConfig{"alpha_vantage_news": {RPM: 5000, MinIntervalMS: 0}})

	agg := news.New(news.Config{Dedup: news.DefaultDedupConfig, Lexicon: testLexicon()},
		[]ports.NewsSource{src}, limiter, store)

	result, err := agg.Run(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Empty(t, result.Articles)
	assert.Equal(t, 4, src.calls, "should retry up to 3 times per cycle then skip")
}

func TestAggregator_NoveltyFalseWhenNoNewArticles(t *testing.T) {
	base := time.Now()
	articleID := news.ArticleID("https://a/1")
	src := &stubSource{name: "rss_feeds", articles: []domain.Article{
		{ID: articleID, URL: "https://a/1", Title: "Old News", RawText: "routine market update", PublishedAt: base},
	}}
	store := &stubStore{found: true, latest: domain.NewsSignal{TopArticles: []string{articleID}}}
	limiter := ratelimit.New(nil)

	agg := news.New(news.Config{Dedup: news.DefaultDedupConfig, Lexicon: testLexicon()},
		[]ports.NewsSource{src}, limiter, store)

	result, err := agg.Run(context.Background(), "cycle-2")
	require.NoError(t, err)
	assert.False(t, result.Novelty)
	assert.Equal(t, 0, result.NewCount)
}

func TestAggregator_NoveltyTrueOnBreakingRegardlessOfNewCount(t *testing.T) {
	base := time.Now()
	articleID := news.ArticleID("https://a/2")
	src := &stubSource{name: "rss_feeds", articles: []domain.Article{
		{ID: articleID, URL: "https://a/2", Title: "Breaking: market emergency halt", RawText: "breaking market emergency halt triggered", PublishedAt: base},
	}}
	store := &stubStore{found: true, latest: domain.NewsSignal{TopArticles: []string{articleID}}}
	limiter := ratelimit.New(nil)

	agg := news.New(news.Config{Dedup: news.DefaultDedupConfig, Lexicon: testLexicon()},
		[]ports.NewsSource{src}, limiter, store)

	result, err := agg.Run(context.Background(), "cycle-3")
	require.NoError(t, err)
	assert.True(t, result.Novelty, "breaking article forces novelty even with zero new IDs")
}

func TestAggregator_StoreReadFailureDefaultsNoveltyTrue(t *testing.T) {
	src := &stubSource{name: "rss_feeds", articles: []domain.Article{
		{ID: "z1", URL: "https://a/3", Title: "Routine update", RawText: "routine market update", PublishedAt: time.Now()},
	}}
	store := &stubStore{err: errors.New("disk error")}
	limiter := ratelimit.New(nil)

	agg := news.New(news.Config{Dedup: news.DefaultDedupConfig, Lexicon: testLexicon()},
		[]ports.NewsSource{src}, limiter, store)

	result, err := agg.Run(context.Background(), "cycle-4")
	require.NoError(t, err)
	assert.True(t, result.Novelty)
}
