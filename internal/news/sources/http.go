// Package sources implements ports.NewsSource over HTTP for the two
// source kinds named in §4.3 and §6: a structured news API
// (alpha_vantage_news) and a set of RSS feeds (rss_feeds).
package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hightrade/hightrade/internal/domain"
)

// rateLimitedError is returned when the upstream responds 429. The
// aggregator recognizes it via the unexported RateLimited() marker
// interface to distinguish it from other fetch failures (§4.1, §4.3).
type rateLimitedError struct {
	source string
}

func (e rateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited (HTTP 429)", e.source)
}

func (e rateLimitedError) RateLimited() bool { return true }

// newRetryClient retries transport errors and 5xx responses; a 429 is
// returned to the caller unretried so Fetch can report it as rateLimitedError.
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.Logger = log.New(io.Discard, "", 0)
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil && resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return c
}

// AlphaVantageSource fetches structured news items from a single JSON
// API endpoint (§4.3, §6 sources.alpha_vantage_news).
type AlphaVantageSource struct {
	Endpoint string
	APIKey   string
	client   *retryablehttp.Client
}

// NewAlphaVantageSource constructs the source with a shared retry client.
func NewAlphaVantageSource(endpoint, apiKey string) *AlphaVantageSource {
	return &AlphaVantageSource{Endpoint: endpoint, APIKey: apiKey, client: newRetryClient()}
}

func (s *AlphaVantageSource) Name() string { return "alpha_vantage_news" }

type alphaVantageResponse struct {
	Feed []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		TimePublished string  `json:"time_published"`
		Summary       string  `json:"summary"`
		RelevanceHint float64 `json:"relevance_score"`
	} `json:"feed"`
}

// Fetch retrieves and parses the news feed. A 429 response is surfaced
// as a rateLimitedError so the aggregator's retry protocol applies.
func (s *AlphaVantageSource) Fetch(ctx context.Context) ([]domain.Article, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("alpha_vantage_news: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", s.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alpha_vantage_news: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitedError{source: "alpha_vantage_news"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha_vantage_news: unexpected status %d", resp.StatusCode)
	}

	var body alphaVantageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("alpha_vantage_news: decode: %w", err)
	}

	now := time.Now()
	articles := make([]domain.Article, 0, len(body.Feed))
	for _, item := range body.Feed {
		published, err := time.Parse("20060102T150405", item.TimePublished)
		if err != nil {
			published = now
		}
		articles = append(articles, domain.Article{
			Source:      s.Name(),
			Title:       item.Title,
			URL:         item.URL,
			RawText:     item.Summary,
			PublishedAt: published,
			FetchedAt:   now,
		})
	}
	return articles, nil
}

// RSSSource fetches and parses one RSS 2.0 feed (§4.3, §6 sources.rss_feeds[*]).
type RSSSource struct {
	FeedName string
	FeedURL  string
	client   *retryablehttp.Client
}

// NewRSSSource constructs an RSS source for a single configured feed URL.
func NewRSSSource(feedName, feedURL string) *RSSSource {
	return &RSSSource{FeedName: feedName, FeedURL: feedURL, client: newRetryClient()}
}

func (s *RSSSource) Name() string { return "rss_feeds:" + s.FeedName }

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (s *RSSSource) Fetch(ctx context.Context) ([]domain.Article, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", s.Name(), err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitedError{source: s.Name()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", s.Name(), resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", s.Name(), err)
	}

	now := time.Now()
	articles := make([]domain.Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		published, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			published = now
		}
		articles = append(articles, domain.Article{
			Source:      s.Name(),
			Title:       item.Title,
			URL:         item.Link,
			RawText:     item.Description,
			PublishedAt: published,
			FetchedAt:   now,
		})
	}
	return articles, nil
}
