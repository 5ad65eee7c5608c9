package alert

import (
	"context"
	"log/slog"

	"github.com/hightrade/hightrade/internal/domain"
)

// Fanout delivers an event to every wrapped Transport, continuing past
// individual failures so one broken destination (e.g. a stalled
// cmd/hightradectl reader) never blocks another (e.g. the console).
// Used to wire the urgent channel to both a human-readable transport
// and ipc.ResponseTransport, since Router only takes one transport per
// channel.
type Fanout []Transport

// Send implements Transport.
func (f Fanout) Send(ctx context.Context, e domain.Event) error {
	for _, t := range f {
		if t == nil {
			continue
		}
		if err := t.Send(ctx, e); err != nil {
			slog.Warn("alert: fanout transport failed", "kind", e.Kind, "err", err)
		}
	}
	return nil
}
