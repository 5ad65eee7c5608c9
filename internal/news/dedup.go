// Package news implements the aggregation pipeline: two-phase
// deduplication (C2) and the multi-source fetch/cache/novelty pipeline
// (C3).
package news

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hightrade/hightrade/internal/domain"
)

// DedupConfig controls phase 2's clustering threshold (§4.2, §6
// dedup.similarity_threshold).
type DedupConfig struct {
	SimilarityThreshold float64
}

// DefaultDedupConfig matches the spec's default cosine threshold.
var DefaultDedupConfig = DedupConfig{SimilarityThreshold: 0.6}

const relevantBodyTokens = 200

var punctuation = regexp.MustCompile(`[^\w\s]`)
var whitespace = regexp.MustCompile(`\s+`)

// Dedupe runs phase 1 (hash) then phase 2 (TF-IDF cosine clustering)
// over batch, per §4.2. It never fails on degenerate input and is
// idempotent: Dedupe(Dedupe(b, cfg), cfg) == Dedupe(b, cfg).
func Dedupe(batch []domain.Article, cfg DedupConfig) []domain.Article {
	if len(batch) <= 1 {
		return batch
	}

	phase1 := hashDedupe(batch)
	if len(phase1) <= 1 {
		return phase1
	}

	return contentDedupe(phase1, cfg)
}

// hashDedupe drops articles whose normalized URL or normalized title
// exactly matches a prior retained article in the same batch, preserving
// input order.
func hashDedupe(batch []domain.Article) []domain.Article {
	seenURL := make(map[string]bool, len(batch))
	seenTitle := make(map[string]bool, len(batch))
	out := make([]domain.Article, 0, len(batch))

	for _, a := range batch {
		nu := normalize(a.URL)
		nt := normalize(a.Title)
		if seenURL[nu] || seenTitle[nt] {
			continue
		}
		seenURL[nu] = true
		seenTitle[nt] = true
		out = append(out, a)
	}
	return out
}

// normalize lowercases, strips punctuation, and collapses whitespace.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// contentDedupe builds a TF-IDF vector per article (title + first N
// tokens of body, IDF over this batch only) and clusters any pair whose
// cosine similarity meets the threshold. Within a cluster, the article
// with the highest Relevance is kept, ties broken by earliest
// PublishedAt then by lexicographic ID.
func contentDedupe(batch []domain.Article, cfg DedupConfig) []domain.Article {
	vectors := make([]map[string]float64, len(batch))
	docTokens := make([][]string, len(batch))
	for i, a := range batch {
		docTokens[i] = tokensFor(a)
	}
	idf := computeIDF(docTokens)
	for i, toks := range docTokens {
		vectors[i] = tfidfVector(toks, idf)
	}

	// Union-find over pairs meeting the similarity threshold.
	parent := make([]int, len(batch))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			if cosineSimilarity(vectors[i], vectors[j]) >= cfg.SimilarityThreshold {
				union(i, j)
			}
		}
	}

	clusters := make(map[int][]int)
	for i := range batch {
		r := find(i)
		clusters[r] = append(clusters[r], i)
	}

	// Preserve input order: emit one representative per cluster, at the
	// position of the cluster's first member.
	firstIdx := make([]int, 0, len(clusters))
	for _, members := range clusters {
		sort.Ints(members)
		firstIdx = append(firstIdx, members[0])
	}
	sort.Ints(firstIdx)

	rootByFirst := make(map[int]int, len(clusters))
	for root, members := range clusters {
		rootByFirst[members[0]] = root
	}

	out := make([]domain.Article, 0, len(clusters))
	for _, first := range firstIdx {
		members := clusters[rootByFirst[first]]
		out = append(out, pickRepresentative(batch, members))
	}
	return out
}

// pickRepresentative keeps the article with maximum Relevance in a
// cluster, breaking ties by earliest PublishedAt then lexicographic ID.
func pickRepresentative(batch []domain.Article, members []int) domain.Article {
	best := members[0]
	for _, idx := range members[1:] {
		a, b := batch[idx], batch[best]
		switch {
		case a.Relevance > b.Relevance:
			best = idx
		case a.Relevance == b.Relevance && a.PublishedAt.Before(b.PublishedAt):
			best = idx
		case a.Relevance == b.Relevance && a.PublishedAt.Equal(b.PublishedAt) && a.ID < b.ID:
			best = idx
		}
	}
	return batch[best]
}

func tokensFor(a domain.Article) []string {
	combined := a.Title + " " + a.RawText
	all := strings.Fields(normalize(combined))
	bodyStart := len(strings.Fields(normalize(a.Title)))
	limit := bodyStart + relevantBodyTokens
	if limit > len(all) {
		limit = len(all)
	}
	if bodyStart > limit {
		bodyStart = limit
	}
	return append(append([]string{}, all[:bodyStart]...), all[bodyStart:limit]...)
}

// computeIDF computes inverse document frequency over the current batch
// only (not global), to avoid drift per §4.2.
func computeIDF(docs [][]string) map[string]float64 {
	df := make(map[string]int)
	for _, toks := range docs {
		seen := make(map[string]bool, len(toks))
		for _, t := range toks {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(docs))
	idf := make(map[string]float64, len(df))
	for term, count := range df {
		idf[term] = math.Log((n + 1) / (float64(count) + 1)) + 1
	}
	return idf
}

func tfidfVector(tokens []string, idf map[string]float64) map[string]float64 {
	tf := make(map[string]float64)
	for _, t := range tokens {
		tf[t]++
	}
	vec := make(map[string]float64, len(tf))
	for term, count := range tf {
		vec[term] = count * idf[term]
	}
	return vec
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
