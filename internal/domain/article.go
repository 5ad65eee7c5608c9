package domain

import "time"

// Urgency classifies how time-sensitive an article is, assigned by
// keyword match against the configured urgency lexicons.
type Urgency string

const (
	UrgencyRoutine  Urgency = "routine"
	UrgencyHigh     Urgency = "high"
	UrgencyBreaking Urgency = "breaking"
)

// Article is an immutable news item after ingest. Identity is ID, a
// stable hash of the normalized URL — two fetches of the same story
// always produce the same ID, which is what makes novelty detection
// (comparing ID sets across cycles) meaningful.
type Article struct {
	ID          string
	Source      string
	Title       string
	URL         string
	PublishedAt time.Time
	FetchedAt   time.Time
	RawText     string
	Relevance   float64 // [0,1], keyword-overlap score against the relevance lexicon
	Urgency     Urgency
}
