package ports

import (
	"context"
	"listsync/internal/types"
)

// Publisher delivers committed-mutation events to the subscribers of a list's
// room. Delivery is best-effort: no persistence, no replay of missed events,
// and the originator of a mutation is not suppressed.
type Publisher interface {
	Publish(ctx context.Context, listID string, env types.Envelope) error
}
