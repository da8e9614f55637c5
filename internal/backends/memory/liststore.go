package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"listsync/internal/ports"
	"listsync/internal/types"
)

// ListStore is the in-process reference backend. The outer map is guarded by
// its own lock; each list carries its own mutex so mutations on different
// lists never contend.
type ListStore struct {
	mu    sync.RWMutex
	lists map[string]*listState
}

type listState struct {
	mu    sync.Mutex
	items []types.Item
}

var _ ports.ListStore = (*ListStore)(nil)

func NewListStore() *ListStore {
	return &ListStore{lists: make(map[string]*listState)}
}

// newItemID generates item ids. Overridable in tests.
var newItemID = uuid.NewString

func (s *ListStore) getOrCreate(listID string) *listState {
	s.mu.RLock()
	ls, ok := s.lists[listID]
	s.mu.RUnlock()
	if ok {
		return ls
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ls, ok = s.lists[listID]; !ok {
		ls = &listState{}
		s.lists[listID] = ls
	}
	return ls
}

// find returns the index of itemID, or -1. Caller holds ls.mu.
func (ls *listState) find(itemID string) int {
	for i := range ls.items {
		if ls.items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (s *ListStore) GetOrCreate(_ context.Context, listID string) (types.List, error) {
	ls := s.getOrCreate(listID)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	items := make([]types.Item, len(ls.items))
	copy(items, ls.items)
	return types.List{ID: listID, Items: items}, nil
}

func (s *ListStore) InsertItem(_ context.Context, listID, label, addedBy string) (types.Item, error) {
	label, ok := types.TrimmedNonBlank(label)
	if !ok {
		return types.Item{}, types.Err(types.ErrValidation, nil, "label is required")
	}
	addedBy, _ = types.TrimmedNonBlank(addedBy)

	item := types.Item{
		ID:      newItemID(),
		Label:   label,
		AddedBy: addedBy,
		Status:  types.StatusPending,
	}
	ls := s.getOrCreate(listID)
	ls.mu.Lock()
	ls.items = append(ls.items, item)
	ls.mu.Unlock()
	return item, nil
}

func (s *ListStore) FindItem(_ context.Context, listID, itemID string) (types.Item, error) {
	s.mu.RLock()
	ls, ok := s.lists[listID]
	s.mu.RUnlock()
	if !ok {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "list %q", listID)
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	i := ls.find(itemID)
	if i < 0 {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	}
	return ls.items[i], nil
}

func (s *ListStore) UpdateItem(_ context.Context, listID, itemID string, patch types.ItemPatch) (types.Item, error) {
	s.mu.RLock()
	ls, ok := s.lists[listID]
	s.mu.RUnlock()
	if !ok {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "list %q", listID)
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	i := ls.find(itemID)
	if i < 0 {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	}
	next, err := types.ApplyPatch(ls.items[i], patch)
	if err != nil {
		return types.Item{}, err
	}
	ls.items[i] = next
	return next, nil
}

func (s *ListStore) DeleteItem(_ context.Context, listID, itemID string) (types.Item, error) {
	s.mu.RLock()
	ls, ok := s.lists[listID]
	s.mu.RUnlock()
	if !ok {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "list %q", listID)
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	i := ls.find(itemID)
	if i < 0 {
		return types.Item{}, types.Err(types.ErrNotFound, nil, "item %q in list %q", itemID, listID)
	}
	prior := ls.items[i]
	ls.items = append(ls.items[:i], ls.items[i+1:]...)
	return prior, nil
}

func (s *ListStore) ClearAll(_ context.Context) error {
	s.mu.Lock()
	s.lists = make(map[string]*listState)
	s.mu.Unlock()
	return nil
}
