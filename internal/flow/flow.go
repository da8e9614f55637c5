package flow

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"listsync/internal/ports"
	"listsync/internal/types"
)

// Flow is the mutation pipeline: validate the request, commit it to the
// store, then emit the committed change to the publisher. The emit never
// blocks or fails the commit; publisher errors are logged and dropped.
type Flow struct {
	store ports.ListStore
	pub   ports.Publisher

	// mu guards locks. Each list gets its own commit lock so that the
	// commit+emit pair is totally ordered per list (subscribers observe
	// mutations in store order) while lists stay independent.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store ports.ListStore, pub ports.Publisher) *Flow {
	return &Flow{
		store: store,
		pub:   pub,
		locks: make(map[string]*sync.Mutex),
	}
}

func (f *Flow) listLock(listID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[listID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[listID] = l
	}
	return l
}

func (f *Flow) emit(ctx context.Context, listID string, env types.Envelope) {
	if f.pub == nil {
		return
	}
	if err := f.pub.Publish(ctx, listID, env); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"listId": listID,
			"event":  env.Event,
		}).Warn("broadcast failed")
	}
}

// FetchList returns the list snapshot, lazily creating the list on first
// reference. Never reports not-found.
func (f *Flow) FetchList(ctx context.Context, listID string) (types.List, error) {
	return f.store.GetOrCreate(ctx, listID)
}

// AddItem validates label and addedBy (both required, non-blank after trim),
// commits the new item and broadcasts item:added. The strict contract is
// intentional: a missing addedBy is a validation error, not "anonymous".
func (f *Flow) AddItem(ctx context.Context, listID, label, addedBy string) (types.Item, error) {
	label, ok := types.TrimmedNonBlank(label)
	if !ok {
		return types.Item{}, types.Err(types.ErrValidation, nil, "label is required")
	}
	addedBy, ok = types.TrimmedNonBlank(addedBy)
	if !ok {
		return types.Item{}, types.Err(types.ErrValidation, nil, "addedBy is required")
	}

	l := f.listLock(listID)
	l.Lock()
	defer l.Unlock()
	item, err := f.store.InsertItem(ctx, listID, label, addedBy)
	if err != nil {
		return types.Item{}, err
	}
	f.emit(ctx, listID, types.ItemAdded(listID, item))
	return item, nil
}

// UpdateItem applies the patch and broadcasts item:updated. Not-found and
// validation failures commit nothing and broadcast nothing.
func (f *Flow) UpdateItem(ctx context.Context, listID, itemID string, patch types.ItemPatch) (types.Item, error) {
	if patch.Label != nil {
		if _, ok := types.TrimmedNonBlank(*patch.Label); !ok {
			return types.Item{}, types.Err(types.ErrValidation, nil, "label must not be blank")
		}
	}

	l := f.listLock(listID)
	l.Lock()
	defer l.Unlock()
	item, err := f.store.UpdateItem(ctx, listID, itemID, patch)
	if err != nil {
		return types.Item{}, err
	}
	f.emit(ctx, listID, types.ItemUpdated(listID, item))
	return item, nil
}

// DeleteItem removes the item, returns its prior value and broadcasts
// item:deleted.
func (f *Flow) DeleteItem(ctx context.Context, listID, itemID string) (types.Item, error) {
	l := f.listLock(listID)
	l.Lock()
	defer l.Unlock()
	item, err := f.store.DeleteItem(ctx, listID, itemID)
	if err != nil {
		return types.Item{}, err
	}
	f.emit(ctx, listID, types.ItemDeleted(listID, itemID))
	return item, nil
}
