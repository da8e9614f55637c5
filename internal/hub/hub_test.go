package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/types"
)

func drain(s *Subscriber) []types.Envelope {
	var out []types.Envelope
	for {
		select {
		case env := <-s.C:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRoomIsolation(t *testing.T) {
	h := New()
	ctx := context.Background()
	subA := NewSubscriber(0)
	subB := NewSubscriber(0)
	h.Subscribe(subA, "a")
	h.Subscribe(subB, "b")

	require.NoError(t, h.Publish(ctx, "a", types.ItemDeleted("a", "x")))

	gotA := drain(subA)
	require.Len(t, gotA, 1)
	assert.Equal(t, types.EventItemDeleted, gotA[0].Event)
	assert.Empty(t, drain(subB))
}

func TestAllRoomMembersIncludingOriginator(t *testing.T) {
	h := New()
	ctx := context.Background()
	subs := []*Subscriber{NewSubscriber(0), NewSubscriber(0), NewSubscriber(0)}
	for _, sub := range subs {
		h.Subscribe(sub, "a")
	}

	require.NoError(t, h.Publish(ctx, "a", types.ItemDeleted("a", "x")))
	for _, sub := range subs {
		assert.Len(t, drain(sub), 1)
	}
}

func TestSubscribeTwiceIsNoOp(t *testing.T) {
	h := New()
	sub := NewSubscriber(0)
	h.Subscribe(sub, "a")
	h.Subscribe(sub, "a")
	assert.Equal(t, 1, h.RoomSize("a"))

	require.NoError(t, h.Publish(context.Background(), "a", types.ItemDeleted("a", "x")))
	assert.Len(t, drain(sub), 1)
}

func TestUnsubscribeRemovesFromAllRooms(t *testing.T) {
	h := New()
	sub := NewSubscriber(0)
	h.Subscribe(sub, "a")
	h.Subscribe(sub, "b")

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.RoomSize("a"))
	assert.Equal(t, 0, h.RoomSize("b"))

	require.NoError(t, h.Publish(context.Background(), "a", types.ItemDeleted("a", "x")))
	assert.Empty(t, drain(sub))

	// Idempotent.
	h.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New()
	ctx := context.Background()
	slow := NewSubscriber(1)
	h.Subscribe(slow, "a")

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(ctx, "a", types.ItemDeleted("a", "x")))
	}
	// Only the buffered event survives; the rest were dropped, not queued.
	assert.Len(t, drain(slow), 1)
}

func TestPublishToEmptyRoom(t *testing.T) {
	h := New()
	assert.NoError(t, h.Publish(context.Background(), "nobody-home", types.ItemDeleted("nobody-home", "x")))
}
