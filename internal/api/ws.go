package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"listsync/internal/hub"
	"listsync/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS upgrades the connection and runs it until it drops. The client
// sends join control messages naming list ids; every joined room's events are
// pushed back as item:* envelopes. Disconnect unsubscribes from all rooms.
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("failed to upgrade")
		return
	}
	defer conn.Close()

	sub := hub.NewSubscriber(0)
	defer h.Hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go writePump(ctx, conn, sub)
	h.readPump(conn, sub)
}

// readPump consumes client control messages until the connection errors.
// Anything other than join is ignored.
func (h *Handler) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(p, &env); err != nil {
			log.WithError(err).Debug("discarding malformed control message")
			continue
		}
		if env.Event != types.EventJoin {
			continue
		}
		jd, err := env.JoinData()
		if err != nil || jd.ListID == "" {
			log.Debug("discarding join without listId")
			continue
		}
		h.Hub.Subscribe(sub, jd.ListID)
	}
}

// writePump pushes room events out and keeps the connection alive with pings.
func writePump(ctx context.Context, conn *websocket.Conn, sub *hub.Subscriber) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case env := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				_ = conn.Close()
				return
			}
		case <-t.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
