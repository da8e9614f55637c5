package types

import (
	"github.com/goccy/go-json"
)

// Event names on the wire. The item:* events are pushed by the server to every
// member of a list's room; join is the only client-sent control message.
const (
	EventJoin        = "join"
	EventItemAdded   = "item:added"
	EventItemUpdated = "item:updated"
	EventItemDeleted = "item:deleted"
)

// Envelope frames every message on the event channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinData is the payload of the join control message.
type JoinData struct {
	ListID string `json:"listId"`
}

// ItemEvent is the payload of the three item:* events. Item is set for added
// and updated, ItemID alone for deleted.
type ItemEvent struct {
	ListID string `json:"listId"`
	Item   *Item  `json:"item,omitempty"`
	ItemID string `json:"itemId,omitempty"`
}

// NewEnvelope marshals data into an Envelope. The payload types here cannot
// fail to marshal.
func NewEnvelope(event string, data any) Envelope {
	raw, _ := json.Marshal(data)
	return Envelope{Event: event, Data: raw}
}

func ItemAdded(listID string, item Item) Envelope {
	return NewEnvelope(EventItemAdded, ItemEvent{ListID: listID, Item: &item})
}

func ItemUpdated(listID string, item Item) Envelope {
	return NewEnvelope(EventItemUpdated, ItemEvent{ListID: listID, Item: &item})
}

func ItemDeleted(listID, itemID string) Envelope {
	return NewEnvelope(EventItemDeleted, ItemEvent{ListID: listID, ItemID: itemID})
}

// ItemEvent decodes the payload of an item:* envelope.
func (e Envelope) ItemEvent() (ItemEvent, error) {
	var ev ItemEvent
	err := json.Unmarshal(e.Data, &ev)
	return ev, err
}

// JoinData decodes the payload of a join envelope.
func (e Envelope) JoinData() (JoinData, error) {
	var jd JoinData
	err := json.Unmarshal(e.Data, &jd)
	return jd, err
}
