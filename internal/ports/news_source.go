package ports

import (
	"context"

	"github.com/hightrade/hightrade/internal/domain"
)

// NewsSource fetches raw articles from a single configured news origin
// (alpha_vantage_news, an rss feed, …). The HTTP implementations may
// repeat a request within one call on transport errors or 5xx responses;
// pacing is the caller's responsibility via ratelimit.Limiter.
type NewsSource interface {
	// Name identifies the source for rate-limiter keys and logging.
	Name() string

	// Fetch returns the raw articles visible right now. Implementations
	// must respect ctx's deadline and return a partial or empty slice
	// rather than blocking past it.
	Fetch(ctx context.Context) ([]domain.Article, error)
}
