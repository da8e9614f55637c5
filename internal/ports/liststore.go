package ports

import (
	"context"
	"listsync/internal/types"
)

// ListStore is the authoritative mapping from list id to its item collection.
// Mutations on a single list MUST be linearizable: each insert/update/delete
// is an atomic step with respect to other mutations on the same list id.
// Mutations on different lists are independent.
type ListStore interface {
	// GetOrCreate returns the list for listID, creating an empty one if it
	// does not exist yet. MUST NOT return types.ErrNotFound.
	GetOrCreate(ctx context.Context, listID string) (types.List, error)

	// InsertItem appends a new item with a fresh unique id and status pending.
	// label and addedBy are stored trimmed; a blank label MUST be rejected
	// with types.ErrValidation.
	InsertItem(ctx context.Context, listID, label, addedBy string) (types.Item, error)

	// FindItem MUST return types.ErrNotFound if the list or item is absent.
	FindItem(ctx context.Context, listID, itemID string) (types.Item, error)

	// UpdateItem applies only the provided patch fields. A patched label is
	// re-trimmed and rejected with types.ErrValidation if blank; an
	// unrecognized status value is silently dropped, not an error.
	// MUST return types.ErrNotFound if the list or item is absent.
	UpdateItem(ctx context.Context, listID, itemID string, patch types.ItemPatch) (types.Item, error)

	// DeleteItem removes the item and returns its prior value.
	// MUST return types.ErrNotFound if the list or item is absent.
	DeleteItem(ctx context.Context, listID, itemID string) (types.Item, error)

	// ClearAll purges all lists. Used in tests only.
	ClearAll(ctx context.Context) error
}
