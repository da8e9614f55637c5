package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"listsync/internal/ports"
	"listsync/internal/types"
)

const (
	listKeyNameTemplate = "_listsync_list_%s"

	casRetries = 5
)

// ListStore keeps each list as a hash of {items: JSON array, ver: counter}.
// Mutations are read-modify-write under an optimistic version check, retried
// a bounded number of times, which keeps single-list mutations linearizable
// without cross-list coordination.
type ListStore struct {
	cli *redis.Client
}

var _ ports.ListStore = (*ListStore)(nil)

func NewListStore(cli *redis.Client) *ListStore {
	return &ListStore{cli: cli}
}

// load returns the items and version for listID. A missing key is
// (nil, 0, nil), matching the lazy-creation contract.
func (s *ListStore) load(ctx context.Context, listID string) ([]types.Item, int64, error) {
	out := s.cli.HGetAll(ctx, getListKeyName(listID))
	if out.Err() != nil {
		if errors.Is(out.Err(), redis.Nil) {
			return nil, 0, nil
		}
		return nil, 0, types.Err(types.ErrStoreAccess, out.Err(), "")
	}
	m := out.Val()
	if len(m) == 0 {
		return nil, 0, nil
	}
	ver, err := strconv.ParseInt(m["ver"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid ver: %w", err)
	}
	var items []types.Item
	if raw := m["items"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, 0, fmt.Errorf("invalid items: %w", err)
		}
	}
	return items, ver, nil
}

// casPut writes items only if the stored version still equals prevVersion
// (0 means the key must not exist yet). Returns false on a version miss.
//
// The version check and the write are separate commands, not a transaction.
// This requires all writers for a list to live in one process, serialized by
// the mutation pipeline's per-list lock; running multiple server processes
// against the same redis would need a WATCH/MULTI or Lua rewrite here.
func (s *ListStore) casPut(ctx context.Context, listID string, prevVersion int64, items []types.Item) (bool, error) {
	marshaled, err := json.Marshal(items)
	if err != nil {
		return false, err
	}
	key := getListKeyName(listID)

	if prevVersion == 0 {
		ok, err := s.cli.HSetNX(ctx, key, "ver", 1).Result()
		if err != nil {
			return false, types.Err(types.ErrStoreAccess, err, "")
		}
		if !ok {
			return false, nil // created concurrently
		}
		out := s.cli.HSet(ctx, key, "items", string(marshaled))
		if out.Err() != nil {
			return false, types.Err(types.ErrStoreAccess, out.Err(), "")
		}
		return true, nil
	}

	currentRaw, err := s.cli.HGet(ctx, key, "ver").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // key disappeared
		}
		return false, types.Err(types.ErrStoreAccess, err, "")
	}
	current, err := strconv.ParseInt(currentRaw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid ver: %w", err)
	}
	if current != prevVersion {
		return false, nil // version mismatch
	}
	out := s.cli.HMSet(ctx, key, map[string]any{
		"items": string(marshaled),
		"ver":   current + 1,
	})
	if out.Err() != nil {
		return false, types.Err(types.ErrStoreAccess, out.Err(), "")
	}
	return true, nil
}

// mutate runs fn against the current items under the CAS loop. fn returns the
// next item slice; lazyCreate controls whether a missing list is created
// (true for inserts) or reported as not-found.
func (s *ListStore) mutate(ctx context.Context, listID string, lazyCreate bool, fn func(items []types.Item) ([]types.Item, error)) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		items, ver, err := s.load(ctx, listID)
		if err != nil {
			return err
		}
		if ver == 0 && !lazyCreate {
			return types.Err(types.ErrNotFound, nil, "list %q", listID)
		}
		next, err := fn(items)
		if err != nil {
			return err
		}
		ok, err := s.casPut(ctx, listID, ver, next)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return types.Err(types.ErrStoreAccess, nil, "list %q: too many concurrent writers", listID)
}

func (s *ListStore) GetOrCreate(ctx context.Context, listID string) (types.List, error) {
	items, ver, err := s.load(ctx, listID)
	if err != nil {
		return types.List{}, err
	}
	if ver == 0 {
		// Materialize the empty list so creation is observable separately
		// from retrieval. A concurrent creator winning the race is fine.
		if _, err := s.casPut(ctx, listID, 0, []types.Item{}); err != nil {
			return types.List{}, err
		}
		items = nil
	}
	if items == nil {
		items = []types.Item{}
	}
	return types.List{ID: listID, Items: items}, nil
}

func (s *ListStore) InsertItem(ctx context.Context, listID, label, addedBy string) (types.Item, error) {
	label, ok := types.TrimmedNonBlank(label)
	if !ok {
		return types.Item{}, types.Err(types.ErrValidation, nil, "label is required")
	}
	addedBy, _ = types.TrimmedNonBlank(addedBy)
	item := types.Item{
		ID:      uuid.NewString(),
		Label:   label,
		AddedBy: addedBy,
		Status:  types.StatusPending,
	}
	err := s.mutate(ctx, listID, true, func(items []types.Item) ([]types.Item, error) {
		return append(items, item), nil
	})
	if err != nil {
		return types.Item{}, err
	}
	return item, nil
}

func (s *ListStore) FindItem(ctx context.Context, listID, itemID string) (types.Item, error) {
	items, ver, err := s.load(ctx, listID)
	if err != nil {
		return types.Item{}, err
	}
	if ver == 0 {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "list %q", listID)
	}
	for _, it := range items {
		if it.ID == itemID {
			return it, nil
		}
	}
	return types.Item{}, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
}

func (s *ListStore) UpdateItem(ctx context.Context, listID, itemID string, patch types.ItemPatch) (types.Item, error) {
	var updated types.Item
	err := s.mutate(ctx, listID, false, func(items []types.Item) ([]types.Item, error) {
		for i := range items {
			if items[i].ID == itemID {
				next, err := types.ApplyPatch(items[i], patch)
				if err != nil {
					return nil, err
				}
				items[i] = next
				updated = next
				return items, nil
			}
		}
		return nil, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	})
	if err != nil {
		return types.Item{}, err
	}
	return updated, nil
}

func (s *ListStore) DeleteItem(ctx context.Context, listID, itemID string) (types.Item, error) {
	var prior types.Item
	err := s.mutate(ctx, listID, false, func(items []types.Item) ([]types.Item, error) {
		for i := range items {
			if items[i].ID == itemID {
				prior = items[i]
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	})
	if err != nil {
		return types.Item{}, err
	}
	return prior, nil
}

func (s *ListStore) ClearAll(ctx context.Context) error {
	out := s.cli.Keys(ctx, getListKeyName("*"))
	if out.Err() != nil {
		return out.Err()
	}
	keys := out.Val()
	if len(keys) == 0 {
		return nil
	}
	return s.cli.Del(ctx, keys...).Err()
}

func getListKeyName(listID string) string {
	return fmt.Sprintf(listKeyNameTemplate, listID)
}
