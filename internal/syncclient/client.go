package syncclient

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"listsync/internal/types"
)

// State is the lifecycle of a Client's single active list session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateLive
	StateDegraded
	StateError
)

// reconnectDelay paces the dial retry loop. Overridable in tests.
var reconnectDelay = 2 * time.Second

// Client maintains one reactive projection of a single list's items, sourced
// from an initial REST snapshot plus the live event stream, and exposes
// mutation methods that round-trip through the server.
//
// The projection is derived and disposable: the server's view is the single
// source of truth and the projection is rebuilt from a fresh snapshot
// whenever the event channel (re)connects. Reconciliation is idempotent, so
// the echo of the client's own mutation arriving after the REST response is
// harmless.
//
// Mutation methods and accessors are safe for concurrent use; Init and
// Dispose are lifecycle calls owned by a single caller.
type Client struct {
	rest  *restClient
	wsURL *url.URL

	mu     sync.Mutex
	staged string // target list id, set by SetListID, consumed by the next Init
	active string // list the live session is bound to
	items  []types.Item
	state  State

	itemsCh  chan []types.Item
	noticeCh chan string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a disconnected client for a server base URL such as
// "http://localhost:3000". Call Init to load a list and go live.
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	ws := *u.JoinPath("ws")
	if ws.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	return &Client{
		rest:     newRESTClient(u),
		wsURL:    &ws,
		state:    StateIdle,
		itemsCh:  make(chan []types.Item, 1),
		noticeCh: make(chan string, 1),
	}, nil
}

// Init fetches the snapshot for listID and, on success, replaces the
// projection and (re)starts the event subscription bound to that list. On
// failure the projection is left as it was and the error is surfaced; the
// caller may retry by calling Init again.
func (c *Client) Init(ctx context.Context, listID string) error {
	c.mu.Lock()
	c.staged = listID
	c.state = StateLoading
	c.mu.Unlock()

	list, err := c.rest.getList(ctx, listID)
	if err != nil {
		c.mu.Lock()
		if c.active == "" {
			c.state = StateError
		} else {
			// An earlier session is still live; the failed switch leaves it
			// untouched.
			c.state = StateLive
		}
		c.mu.Unlock()
		c.notify("failed to load list: " + err.Error())
		return err
	}

	c.stopSession()

	c.mu.Lock()
	c.active = listID
	c.items = list.Items
	c.state = StateLive
	c.pushLocked()
	c.mu.Unlock()
	c.notify("")

	sctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.runSession(sctx, listID)
	return nil
}

// SetListID stages a new target list id without reloading. The identifier and
// the active subscription are deliberately decoupled so the UI can stage a
// pending switch; call Init with the new id to actually transition.
func (c *Client) SetListID(listID string) {
	c.mu.Lock()
	c.staged = listID
	c.mu.Unlock()
}

// ListID returns the staged target list id.
func (c *Client) ListID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staged
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Items returns a copy of the current projection.
func (c *Client) Items() []types.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make([]types.Item, len(c.items))
	copy(snap, c.items)
	return snap
}

// Updates is a latest-value stream of the projection: the channel always
// holds at most the most recent snapshot.
func (c *Client) Updates() <-chan []types.Item {
	return c.itemsCh
}

// Notices is a latest-value stream of the current human-readable
// error/warning message; an empty string clears it.
func (c *Client) Notices() <-chan string {
	return c.noticeCh
}

// Dispose tears the session down: the connection is closed, handlers are
// detached and the client returns to Idle. The projection is kept but is
// stale from this point on.
func (c *Client) Dispose() {
	c.stopSession()
	c.mu.Lock()
	c.active = ""
	c.state = StateIdle
	c.mu.Unlock()
}

// AddItem validates, posts, and applies the confirmed item. Nothing is
// applied optimistically: a failed call leaves the projection untouched.
func (c *Client) AddItem(ctx context.Context, label, addedBy string) error {
	label, ok := types.TrimmedNonBlank(label)
	if !ok {
		return c.surface(types.Err(types.ErrValidation, nil, "label is required"))
	}
	addedBy, ok = types.TrimmedNonBlank(addedBy)
	if !ok {
		return c.surface(types.Err(types.ErrValidation, nil, "addedBy is required"))
	}
	listID, err := c.activeList()
	if err != nil {
		return c.surface(err)
	}
	item, err := c.rest.addItem(ctx, listID, label, addedBy)
	if err != nil {
		return c.surface(err)
	}
	c.mu.Lock()
	if c.active == listID {
		c.applyAddedLocked(item)
	}
	c.mu.Unlock()
	return nil
}

// ToggleStatus sends the inverse of the item's locally known status. This is
// a read-then-write: two clients toggling concurrently can converge to either
// value depending on delivery order (last writer wins per field).
func (c *Client) ToggleStatus(ctx context.Context, id string) error {
	c.mu.Lock()
	listID := c.active
	var next *types.ItemStatus
	for i := range c.items {
		if c.items[i].ID == id {
			s := c.items[i].Status.Toggled()
			next = &s
			break
		}
	}
	c.mu.Unlock()
	if listID == "" {
		return c.surface(types.Err(types.ErrValidation, nil, "no active list"))
	}
	if next == nil {
		return c.surface(types.Err(types.ErrNotFound, nil, "item %q", id))
	}
	item, err := c.rest.updateItem(ctx, listID, id, types.ItemPatch{Status: next})
	if err != nil {
		return c.surface(err)
	}
	c.mu.Lock()
	if c.active == listID {
		c.applyUpdatedLocked(item)
	}
	c.mu.Unlock()
	return nil
}

// UpdateLabel renames the item.
func (c *Client) UpdateLabel(ctx context.Context, id, label string) error {
	label, ok := types.TrimmedNonBlank(label)
	if !ok {
		return c.surface(types.Err(types.ErrValidation, nil, "label is required"))
	}
	listID, err := c.activeList()
	if err != nil {
		return c.surface(err)
	}
	item, err := c.rest.updateItem(ctx, listID, id, types.ItemPatch{Label: &label})
	if err != nil {
		return c.surface(err)
	}
	c.mu.Lock()
	if c.active == listID {
		c.applyUpdatedLocked(item)
	}
	c.mu.Unlock()
	return nil
}

// DeleteItem removes the item.
func (c *Client) DeleteItem(ctx context.Context, id string) error {
	listID, err := c.activeList()
	if err != nil {
		return c.surface(err)
	}
	if _, err := c.rest.deleteItem(ctx, listID, id); err != nil {
		return c.surface(err)
	}
	c.mu.Lock()
	if c.active == listID {
		c.applyDeletedLocked(id)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) activeList() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == "" {
		return "", types.Err(types.ErrValidation, nil, "no active list")
	}
	return c.active, nil
}

// surface records err on the notice stream and returns it.
func (c *Client) surface(err error) error {
	c.notify(err.Error())
	return err
}

// runSession dials, joins and reads until cancelled, reconnecting with a
// fixed delay. The snapshot is re-fetched after every re-join: events
// published during an outage are gone for good, so the projection is rebuilt
// rather than left to drift silently.
func (c *Client) runSession(ctx context.Context, listID string) {
	defer c.wg.Done()
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL.String(), nil)
		if err != nil {
			c.degrade("sync degraded: " + err.Error())
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		err = c.joinAndRead(ctx, conn, listID, first)
		first = false
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).WithField("listId", listID).Debug("event channel dropped")
		c.degrade("sync degraded: connection lost, reconnecting")
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func (c *Client) joinAndRead(ctx context.Context, conn *websocket.Conn, listID string, first bool) error {
	if err := conn.WriteJSON(types.NewEnvelope(types.EventJoin, types.JoinData{ListID: listID})); err != nil {
		return err
	}
	if !first {
		list, err := c.rest.getList(ctx, listID)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if c.active == listID {
			c.items = list.Items
			c.pushLocked()
		}
		c.mu.Unlock()
	}
	c.setState(StateLive)
	c.notify("")

	// Unblock ReadMessage when the session is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env types.Envelope
		if err := json.Unmarshal(p, &env); err != nil {
			continue
		}
		c.applyEvent(env)
	}
}

// applyEvent reconciles one broadcast event into the projection. Events for a
// list other than the active one are ignored outright; this guards against
// stale handlers firing after a list switch. Every rule is idempotent:
// applying the same event twice, or on top of the overlapping REST response,
// changes nothing.
func (c *Client) applyEvent(env types.Envelope) {
	switch env.Event {
	case types.EventItemAdded, types.EventItemUpdated, types.EventItemDeleted:
	default:
		return
	}
	ev, err := env.ItemEvent()
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.ListID != c.active {
		return
	}
	switch env.Event {
	case types.EventItemAdded:
		if ev.Item != nil {
			c.applyAddedLocked(*ev.Item)
		}
	case types.EventItemUpdated:
		if ev.Item != nil {
			c.applyUpdatedLocked(*ev.Item)
		}
	case types.EventItemDeleted:
		c.applyDeletedLocked(ev.ItemID)
	}
}

// applyAddedLocked appends the item unless its id is already present.
func (c *Client) applyAddedLocked(item types.Item) {
	for i := range c.items {
		if c.items[i].ID == item.ID {
			return
		}
	}
	c.items = append(c.items, item)
	c.pushLocked()
}

// applyUpdatedLocked replaces the item by id; a missing id means it was
// concurrently deleted and the update is ignored.
func (c *Client) applyUpdatedLocked(item types.Item) {
	for i := range c.items {
		if c.items[i].ID == item.ID {
			c.items[i] = item
			c.pushLocked()
			return
		}
	}
}

// applyDeletedLocked removes the item by id if present.
func (c *Client) applyDeletedLocked(itemID string) {
	for i := range c.items {
		if c.items[i].ID == itemID {
			c.items = append(c.items[:i], c.items[i+1:]...)
			c.pushLocked()
			return
		}
	}
}

// pushLocked publishes a snapshot on the latest-value items channel. Caller
// holds c.mu.
func (c *Client) pushLocked() {
	snap := make([]types.Item, len(c.items))
	copy(snap, c.items)
	select {
	case <-c.itemsCh:
	default:
	}
	select {
	case c.itemsCh <- snap:
	default:
	}
}

func (c *Client) notify(msg string) {
	select {
	case <-c.noticeCh:
	default:
	}
	select {
	case c.noticeCh <- msg:
	default:
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// degrade marks the session degraded but keeps the stale projection on
// display.
func (c *Client) degrade(msg string) {
	c.setState(StateDegraded)
	c.notify(msg)
}

func (c *Client) stopSession() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
