package syncclient

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"listsync/internal/api"
	"listsync/internal/backends/memory"
	"listsync/internal/flow"
	"listsync/internal/hub"
	"listsync/internal/types"
)

func liveClient(t *testing.T, listID string, items ...types.Item) *Client {
	c, err := New("http://localhost:0")
	require.NoError(t, err)
	c.active = listID
	c.state = StateLive
	c.items = items
	return c
}

func TestReconcileAddedIsIdempotent(t *testing.T) {
	c := liveClient(t, "groceries")
	item := types.Item{ID: "i1", Label: "Milk", AddedBy: "Ana", Status: types.StatusPending}

	env := types.ItemAdded("groceries", item)
	c.applyEvent(env)
	c.applyEvent(env) // duplicate delivery (REST response + broadcast echo)

	require.Len(t, c.Items(), 1)
	assert.Equal(t, item, c.Items()[0])
}

func TestReconcileUpdatedReplacesByID(t *testing.T) {
	item := types.Item{ID: "i1", Label: "Milk", AddedBy: "Ana", Status: types.StatusPending}
	c := liveClient(t, "groceries", item)

	item.Status = types.StatusBought
	env := types.ItemUpdated("groceries", item)
	c.applyEvent(env)
	c.applyEvent(env)

	require.Len(t, c.Items(), 1)
	assert.Equal(t, types.StatusBought, c.Items()[0].Status)
}

func TestReconcileUpdatedForDeletedItemIgnored(t *testing.T) {
	c := liveClient(t, "groceries")
	c.applyEvent(types.ItemUpdated("groceries", types.Item{ID: "gone", Label: "Milk"}))
	assert.Empty(t, c.Items())
}

func TestReconcileDeletedIsIdempotent(t *testing.T) {
	item := types.Item{ID: "i1", Label: "Milk", AddedBy: "Ana", Status: types.StatusPending}
	c := liveClient(t, "groceries", item)

	env := types.ItemDeleted("groceries", "i1")
	c.applyEvent(env)
	c.applyEvent(env)
	assert.Empty(t, c.Items())
}

func TestEventsForOtherListsIgnored(t *testing.T) {
	item := types.Item{ID: "i1", Label: "Milk", AddedBy: "Ana", Status: types.StatusPending}
	c := liveClient(t, "groceries", item)

	c.applyEvent(types.ItemAdded("other", types.Item{ID: "i2", Label: "Bread"}))
	c.applyEvent(types.ItemDeleted("other", "i1"))

	require.Len(t, c.Items(), 1)
	assert.Equal(t, "i1", c.Items()[0].ID)
}

func TestSetListIDDoesNotReload(t *testing.T) {
	item := types.Item{ID: "i1", Label: "Milk", AddedBy: "Ana", Status: types.StatusPending}
	c := liveClient(t, "groceries", item)

	c.SetListID("other")
	assert.Equal(t, "other", c.ListID())
	// The active subscription and projection are untouched until Init.
	assert.Len(t, c.Items(), 1)
	assert.Equal(t, StateLive, c.State())
}

func TestInitFailureSetsErrorState(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)

	err = c.Init(context.Background(), "default")
	require.Error(t, err)
	assert.Equal(t, StateError, c.State())
	assert.Empty(t, c.Items())

	select {
	case msg := <-c.Notices():
		assert.Contains(t, msg, "failed to load list")
	default:
		t.Fatal("expected a notice")
	}
}

// cuttableProxy forwards TCP connections to a backend and can sever every
// live connection, refusing new ones until restored.
type cuttableProxy struct {
	ln      net.Listener
	backend string

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	down  bool
}

func newCuttableProxy(t *testing.T, backend string) *cuttableProxy {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &cuttableProxy{ln: ln, backend: backend, conns: make(map[net.Conn]struct{})}
	go p.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *cuttableProxy) addr() string { return p.ln.Addr().String() }

func (p *cuttableProxy) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		down := p.down
		if !down {
			p.conns[conn] = struct{}{}
		}
		p.mu.Unlock()
		if down {
			_ = conn.Close()
			continue
		}
		go p.pipe(conn)
	}
}

func (p *cuttableProxy) pipe(client net.Conn) {
	server, err := net.Dial("tcp", p.backend)
	if err != nil {
		_ = client.Close()
		return
	}
	p.mu.Lock()
	p.conns[server] = struct{}{}
	p.mu.Unlock()
	go func() {
		_, _ = io.Copy(server, client)
		_ = server.Close()
	}()
	_, _ = io.Copy(client, server)
	_ = client.Close()
}

func (p *cuttableProxy) cut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = true
	for c := range p.conns {
		_ = c.Close()
	}
	p.conns = make(map[net.Conn]struct{})
}

func (p *cuttableProxy) restore() {
	p.mu.Lock()
	p.down = false
	p.mu.Unlock()
}

func TestReconnectRebuildsProjection(t *testing.T) {
	hb := hub.New()
	f := flow.New(memory.NewListStore(), hb)
	srv := httptest.NewServer(api.NewHandler(f, hb).Router())
	defer srv.Close()
	proxy := newCuttableProxy(t, strings.TrimPrefix(srv.URL, "http://"))

	orig := reconnectDelay
	reconnectDelay = 50 * time.Millisecond
	defer func() { reconnectDelay = orig }()

	ctx := context.Background()
	c, err := New("http://" + proxy.addr())
	require.NoError(t, err)
	defer c.Dispose()
	require.NoError(t, c.Init(ctx, "default"))
	require.NoError(t, c.AddItem(ctx, "Milk", "Ana"))

	var mu sync.Mutex
	var notices []string
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case msg := <-c.Notices():
				mu.Lock()
				notices = append(notices, msg)
				mu.Unlock()
			case <-done:
				return
			}
		}
	}()

	proxy.cut()
	require.Eventually(t, func() bool {
		return c.State() == StateDegraded
	}, 5*time.Second, 10*time.Millisecond)

	// A mutation during the outage is broadcast into the void; only the
	// post-reconnect snapshot can carry it to the client.
	_, err = f.AddItem(ctx, "default", "Bread", "Bob")
	require.NoError(t, err)

	proxy.restore()
	require.Eventually(t, func() bool {
		return c.State() == StateLive && len(c.Items()) == 2 && hb.RoomSize("default") == 1
	}, 10*time.Second, 20*time.Millisecond)

	labels := make([]string, 0, 2)
	for _, it := range c.Items() {
		labels = append(labels, it.Label)
	}
	assert.ElementsMatch(t, []string{"Milk", "Bread"}, labels)

	// Live events flow again on the rebuilt session.
	_, err = f.AddItem(ctx, "default", "Eggs", "Bob")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(c.Items()) == 3
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	degraded := false
	for _, n := range notices {
		if strings.Contains(n, "degraded") {
			degraded = true
		}
	}
	assert.True(t, degraded, "expected a degraded notice during the outage")
}

// SyncTestSuite runs two clients against a real server (REST + websocket)
// and asserts their projections converge.
type SyncTestSuite struct {
	suite.Suite

	server *httptest.Server
	ctx    context.Context
}

func TestSyncTestSuite(t *testing.T) {
	suite.Run(t, new(SyncTestSuite))
}

func (s *SyncTestSuite) SetupTest() {
	hb := hub.New()
	h := api.NewHandler(flow.New(memory.NewListStore(), hb), hb)
	s.server = httptest.NewServer(h.Router())
	s.ctx = context.Background()
}

func (s *SyncTestSuite) TearDownTest() {
	s.server.Close()
}

func (s *SyncTestSuite) newClient(listID string) *Client {
	c, err := New(s.server.URL)
	s.Require().NoError(err)
	s.Require().NoError(c.Init(s.ctx, listID))
	s.T().Cleanup(c.Dispose)
	return c
}

func (s *SyncTestSuite) eventually(cond func() bool) {
	s.Require().Eventually(cond, 5*time.Second, 20*time.Millisecond)
}

func (s *SyncTestSuite) TestAddConvergesAcrossClients() {
	c1 := s.newClient("default")
	c2 := s.newClient("default")

	s.Require().NoError(c1.AddItem(s.ctx, "Milk", "Ana"))

	// The originator sees its item immediately via the REST response.
	s.Require().Len(c1.Items(), 1)
	s.Equal("Milk", c1.Items()[0].Label)

	s.eventually(func() bool { return len(c2.Items()) == 1 })
	s.Equal(c1.Items(), c2.Items())

	// The broadcast echo back to c1 must not duplicate the item.
	s.eventually(func() bool { return len(c2.Items()) == 1 && len(c1.Items()) == 1 })
}

func (s *SyncTestSuite) TestToggleConvergesAcrossClients() {
	c1 := s.newClient("default")
	c2 := s.newClient("default")

	s.Require().NoError(c1.AddItem(s.ctx, "Milk", "Ana"))
	s.eventually(func() bool { return len(c2.Items()) == 1 })
	id := c2.Items()[0].ID

	s.Require().NoError(c2.ToggleStatus(s.ctx, id))
	s.Equal(types.StatusBought, c2.Items()[0].Status)
	s.eventually(func() bool {
		items := c1.Items()
		return len(items) == 1 && items[0].Status == types.StatusBought
	})

	s.Require().NoError(c1.ToggleStatus(s.ctx, id))
	s.eventually(func() bool {
		items := c2.Items()
		return len(items) == 1 && items[0].Status == types.StatusPending
	})
}

func (s *SyncTestSuite) TestDeleteConvergesAcrossClients() {
	c1 := s.newClient("default")
	c2 := s.newClient("default")

	s.Require().NoError(c1.AddItem(s.ctx, "Milk", "Ana"))
	s.eventually(func() bool { return len(c2.Items()) == 1 })

	s.Require().NoError(c2.DeleteItem(s.ctx, c2.Items()[0].ID))
	s.Empty(c2.Items())
	s.eventually(func() bool { return len(c1.Items()) == 0 })
}

func (s *SyncTestSuite) TestListIsolationAcrossClients() {
	c1 := s.newClient("a")
	c2 := s.newClient("b")

	s.Require().NoError(c1.AddItem(s.ctx, "Milk", "Ana"))
	s.Require().NoError(c2.AddItem(s.ctx, "Bread", "Bob"))

	s.eventually(func() bool { return len(c1.Items()) == 1 && len(c2.Items()) == 1 })
	time.Sleep(100 * time.Millisecond) // give a wrong-room event time to arrive, if any
	s.Equal("Milk", c1.Items()[0].Label)
	s.Equal("Bread", c2.Items()[0].Label)
}

func (s *SyncTestSuite) TestMutationFailureLeavesProjectionUntouched() {
	c1 := s.newClient("default")
	s.Require().NoError(c1.AddItem(s.ctx, "Milk", "Ana"))

	err := c1.ToggleStatus(s.ctx, "nonexistent-id")
	s.ErrorIs(err, types.ErrNotFound)
	s.Require().Len(c1.Items(), 1)
	s.Equal(types.StatusPending, c1.Items()[0].Status)

	err = c1.AddItem(s.ctx, "   ", "Ana")
	s.ErrorIs(err, types.ErrValidation)
	s.Len(c1.Items(), 1)

	// The failure was surfaced on the notice stream.
	select {
	case msg := <-c1.Notices():
		s.NotEmpty(msg)
	default:
		s.Fail("expected a notice")
	}
}

func (s *SyncTestSuite) TestSwitchListsViaInit() {
	c1 := s.newClient("a")
	c2 := s.newClient("b")
	s.Require().NoError(c2.AddItem(s.ctx, "Bread", "Bob"))

	c1.SetListID("b")
	s.Require().NoError(c1.Init(s.ctx, c1.ListID()))
	s.eventually(func() bool {
		items := c1.Items()
		return len(items) == 1 && items[0].Label == "Bread"
	})

	// Events for the new list now reach c1.
	s.Require().NoError(c2.AddItem(s.ctx, "Eggs", "Bob"))
	s.eventually(func() bool { return len(c1.Items()) == 2 })
}

func (s *SyncTestSuite) TestUpdatesStreamCarriesLatestSnapshot() {
	c1 := s.newClient("default")
	s.Require().NoError(c1.AddItem(s.ctx, "Milk", "Ana"))

	select {
	case items := <-c1.Updates():
		s.Require().Len(items, 1)
		s.Equal("Milk", items[0].Label)
	case <-time.After(time.Second):
		s.Fail("expected a projection update")
	}
}
