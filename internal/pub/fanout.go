package pub

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"listsync/internal/ports"
	"listsync/internal/types"
)

const mirrorTimeout = 5 * time.Second

// Fanout forwards each event to the primary publisher synchronously and to
// any mirrors in the background. Mirror failures are logged and never
// surfaced to the mutation path.
type Fanout struct {
	primary ports.Publisher
	mirrors []ports.Publisher
}

var _ ports.Publisher = (*Fanout)(nil)

func NewFanout(primary ports.Publisher, mirrors ...ports.Publisher) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors}
}

func (f *Fanout) Publish(ctx context.Context, listID string, env types.Envelope) error {
	err := f.primary.Publish(ctx, listID, env)
	for _, m := range f.mirrors {
		go func(m ports.Publisher) {
			// Detached from the request context: the caller's response must
			// not wait on a mirror.
			mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			if merr := m.Publish(mctx, listID, env); merr != nil {
				log.WithError(merr).WithFields(log.Fields{
					"listId": listID,
					"event":  env.Event,
				}).Warn("event mirror publish failed")
			}
		}(m)
	}
	return err
}
