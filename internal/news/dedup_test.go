package news_test

import (
	"testing"
	"time"

	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/news"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func art(id string, url, title string, relevance float64, published time.Time) domain.Article {
	return domain.Article{
		ID:          id,
		URL:         url,
		Title:       title,
		RawText:     title + " market volatility inflation rate hike bond yields equity selloff",
		Relevance:   relevance,
		PublishedAt: published,
	}
}

func TestDedupe_EmptyAndSingle(t *testing.T) {
	assert.Empty(t, news.Dedupe(nil, news.DefaultDedupConfig))

	one := []domain.Article{art("a1", "https://x.com/1", "Title", 0.5, time.Now())}
	assert.Equal(t, one, news.Dedupe(one, news.DefaultDedupConfig))
}

func TestDedupe_HashPhase_ExactURLMatch(t *testing.T) {
	base := time.Now()
	batch := []domain.Article{
		art("a1", "https://news.com/story?ref=1", "Fed Hikes Rates", 0.5, base),
		art("a2", "https://news.com/story?ref=1", "Fed Hikes Rates Again", 0.9, base.Add(time.Minute)),
	}
	out := news.Dedupe(batch, news.DefaultDedupConfig)
	require.Len(t, out, 1)
	assert.Equal(t, "a1", out[0].ID)
}

func TestDedupe_HashPhase_ExactTitleMatch(t *testing.T) {
	base := time.Now()
	batch := []domain.Article{
		art("a1", "https://news.com/1", "  Fed Hikes RATES!!  ", 0.5, base),
		art("a2", "https://news.com/2", "fed hikes rates", 0.9, base.Add(time.Minute)),
	}
	out := news.Dedupe(batch, news.DefaultDedupConfig)
	require.Len(t, out, 1)
	assert.Equal(t, "a1", out[0].ID)
}

// TestDedupe_ClusterPick covers §8 boundary scenario 5: A(rel=0.4,10:00),
// B(rel=0.9,10:02), C(rel=0.9,10:01), all mutually similar ≥ threshold.
// Expect retained = {C}: max relevance tied between B and C, earliest
// published wins.
func TestDedupe_ClusterPick(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	body := "stock market crash bond yield spike inflation surge fed emergency meeting equities tumble"

	a := domain.Article{ID: "A", URL: "https://x/a", Title: "Market Crash Fears Grip Wall Street", RawText: body, Relevance: 0.4, PublishedAt: base}
	b := domain.Article{ID: "B", URL: "https://x/b", Title: "Market Crash Fears Grip Wall Street Today", RawText: body, Relevance: 0.9, PublishedAt: base.Add(2 * time.Minute)}
	c := domain.Article{ID: "C", URL: "https://x/c", Title: "Market Crash Fears Grip Wall Street Now", RawText: body, Relevance: 0.9, PublishedAt: base.Add(1 * time.Minute)}

	out := news.Dedupe([]domain.Article{a, b, c}, news.DefaultDedupConfig)
	require.Len(t, out, 1)
	assert.Equal(t, "C", out[0].ID)
}

func TestDedupe_Idempotent(t *testing.T) {
	base := time.Now()
	batch := []domain.Article{
		art("a1", "https://x/1", "Stocks plunge on inflation data", 0.7, base),
		art("a2", "https://x/2", "Totally unrelated sports headline about football", 0.6, base.Add(time.Minute)),
		art("a3", "https://x/3", "Bond yields spike amid inflation fears today", 0.8, base.Add(2*time.Minute)),
	}
	once := news.Dedupe(batch, news.DefaultDedupConfig)
	twice := news.Dedupe(once, news.DefaultDedupConfig)
	assert.Equal(t, once, twice)
}

func TestDedupe_DistinctArticlesSurviveBothPhases(t *testing.T) {
	base := time.Now()
	batch := []domain.Article{
		{ID: "a1", URL: "https://x/1", Title: "Fed raises interest rates by 50bps", RawText: "central bank monetary policy tightening", Relevance: 0.7, PublishedAt: base},
		{ID: "a2", URL: "https://x/2", Title: "Local team wins championship game", RawText: "sports celebration parade victory", Relevance: 0.6, PublishedAt: base},
	}
	out := news.Dedupe(batch, news.DefaultDedupConfig)
	assert.Len(t, out, 2)
}
