package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

type inboundFrame struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal Principal

	// send stays open for the client's lifetime; done tells writePump to
	// stop. Closing send instead would race publishers still holding a
	// snapshot of the room.
	send chan Event
	done chan struct{}

	mu    sync.Mutex
	rooms map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, principal Principal) *client {
	return &client{
		hub:       hub,
		conn:      conn,
		principal: principal,
		send:      make(chan Event, sendBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

func (c *client) join(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	c.hub.addToRoom(room, c)
}

// trySend queues the event without blocking; a full buffer or a gone
// client drops it.
func (c *client) trySend(event Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- event:
	default:
	}
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.removeClient(c)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.trySend(Event{
				Event: EventError,
				Data:  map[string]string{"message": "malformed frame"},
			})
			continue
		}
		c.hub.handleFrame(ctx, c, frame)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
