package hub

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"listsync/internal/ports"
	"listsync/internal/types"
)

const defaultBuffer = 64

// Subscriber is one event-channel connection. Envelopes arrive on C in
// per-list commit order. C is never closed by the hub; the owner stops
// reading when its connection dies.
type Subscriber struct {
	C chan types.Envelope
}

func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Subscriber{C: make(chan types.Envelope, buffer)}
}

// Hub is the in-process change broadcaster: one room per list id, explicit
// joins only, no fan-out across rooms.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
}

var _ ports.Publisher = (*Hub)(nil)

func New() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe adds sub to listID's room. Joining the same room twice is a no-op.
func (h *Hub) Subscribe(sub *Subscriber, listID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[listID]
	if !ok {
		room = make(map[*Subscriber]struct{})
		h.rooms[listID] = room
	}
	room[sub] = struct{}{}
}

// Unsubscribe removes sub from every room it joined. Idempotent; called
// implicitly when a connection drops.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for listID, room := range h.rooms {
		delete(room, sub)
		if len(room) == 0 {
			delete(h.rooms, listID)
		}
	}
}

// RoomSize returns the current member count of listID's room.
func (h *Hub) RoomSize(listID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[listID])
}

// Publish delivers env to every current member of listID's room, including
// the originator of the mutation. A subscriber whose buffer is full misses
// the event rather than blocking the mutation path.
func (h *Hub) Publish(_ context.Context, listID string, env types.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[listID] {
		select {
		case sub.C <- env:
		default:
			log.WithFields(log.Fields{
				"listId": listID,
				"event":  env.Event,
			}).Warn("subscriber buffer full, event dropped")
		}
	}
	return nil
}
