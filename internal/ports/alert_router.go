package ports

import (
	"context"

	"github.com/hightrade/hightrade/internal/domain"
)

// AlertRouter fans events out to the urgent and silent channels (C9,
// §4.9). It must never block the cycle on a transport failure — errors
// are expected to be counted and logged internally, never returned in a
// way that aborts the caller's cycle.
type AlertRouter interface {
	Route(ctx context.Context, e domain.Event) error
}
