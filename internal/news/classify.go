package news

import (
	"sort"
	"strings"

	"github.com/hightrade/hightrade/internal/domain"
)

// Lexicon configures the keyword sets driving urgency classification,
// relevance scoring, and sentiment labeling (§4.3 step 2, §9: "exact
// lexicons ... are configuration, not hardcoded"). There are no default
// lexicons, and the config file has no lexicon keys: cmd/hightrade passes
// an empty Lexicon, so every article classifies as routine with zero
// relevance.
type Lexicon struct {
	UrgencyBreaking []string
	UrgencyHigh     []string
	Relevance       []string
	Bullish         []string
	Bearish         []string
	CrisisFamilies  map[domain.CrisisType][]string
}

// ClassifyUrgency assigns an urgency tier by keyword match against the
// configured tiers, checked breaking first, then high, else routine.
func ClassifyUrgency(text string, lex Lexicon) domain.Urgency {
	low := strings.ToLower(text)
	if containsAny(low, lex.UrgencyBreaking) {
		return domain.UrgencyBreaking
	}
	if containsAny(low, lex.UrgencyHigh) {
		return domain.UrgencyHigh
	}
	return domain.UrgencyRoutine
}

// ScoreRelevance computes a [0,1] keyword-overlap score against the
// configured relevance lexicon.
func ScoreRelevance(text string, lex Lexicon) float64 {
	if len(lex.Relevance) == 0 {
		return 0
	}
	low := strings.ToLower(text)
	hits := 0
	for _, kw := range lex.Relevance {
		if strings.Contains(low, strings.ToLower(kw)) {
			hits++
		}
	}
	score := float64(hits) / float64(len(lex.Relevance))
	if score > 1 {
		score = 1
	}
	return score
}

// DominantCrisisType derives the categorical crisis label from keyword-
// family dominance across the retained articles (§4.3, GLOSSARY).
func DominantCrisisType(articles []domain.Article, lex Lexicon) domain.CrisisType {
	if len(lex.CrisisFamilies) == 0 || len(articles) == 0 {
		return domain.CrisisNone
	}

	counts := make(map[domain.CrisisType]int, len(lex.CrisisFamilies))
	for _, a := range articles {
		low := strings.ToLower(a.Title + " " + a.RawText)
		for crisis, keywords := range lex.CrisisFamilies {
			if containsAny(low, keywords) {
				counts[crisis]++
			}
		}
	}

	var best domain.CrisisType = domain.CrisisNone
	bestCount := 0
	for crisis, n := range counts {
		if n > bestCount {
			best, bestCount = crisis, n
		}
	}
	return best
}

// AggregateScore composes the per-cycle news_score ∈ [0,100] fed into
// the signal scorer's pass-through news_score sub-signal (§4.5). It is
// the mean relevance of the retained batch, scaled to [0,100]; an empty
// batch scores 0. Sentiment skew is deliberately excluded here — §9
// leaves whether sentiment should contribute beyond news_score to
// configuration, and this package does not invent that weighting.
func AggregateScore(articles []domain.Article) float64 {
	if len(articles) == 0 {
		return 0
	}
	var sum float64
	for _, a := range articles {
		sum += a.Relevance
	}
	return (sum / float64(len(articles))) * 100
}

// Sentiment buckets the retained batch into {bearish, bullish, neutral}
// by keyword match against the configured lexicons, summing to 1.0
// (§3 NewsSignal.sentiment_dist). Articles matching neither lexicon
// count as neutral.
func Sentiment(articles []domain.Article, lex Lexicon) domain.SentimentDist {
	if len(articles) == 0 {
		return domain.SentimentDist{Neutral: 1}
	}
	var bearish, bullish, neutral float64
	for _, a := range articles {
		low := strings.ToLower(a.Title + " " + a.RawText)
		switch {
		case containsAny(low, lex.Bearish):
			bearish++
		case containsAny(low, lex.Bullish):
			bullish++
		default:
			neutral++
		}
	}
	total := bearish + bullish + neutral
	return domain.SentimentDist{
		Bearish: bearish / total,
		Bullish: bullish / total,
		Neutral: neutral / total,
	}
}

// TopArticleIDs returns up to n article ids ordered by descending
// relevance, breaking ties by earliest published_at then lexicographic
// id — the same tie-break C2 uses for cluster representatives (§4.2,
// §3 NewsSignal.top_articles).
func TopArticleIDs(articles []domain.Article, n int) []string {
	sorted := make([]domain.Article, len(articles))
	copy(sorted, articles)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Relevance != sorted[j].Relevance {
			return sorted[i].Relevance > sorted[j].Relevance
		}
		if !sorted[i].PublishedAt.Equal(sorted[j].PublishedAt) {
			return sorted[i].PublishedAt.Before(sorted[j].PublishedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	ids := make([]string, len(sorted))
	for i, a := range sorted {
		ids[i] = a.ID
	}
	return ids
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
