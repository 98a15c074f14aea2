package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/constella/horizon-backend/models"
)

// connection is one live websocket bound to a session. It is ephemeral:
// created on connect, destroyed on disconnect, never persisted. A
// single writer goroutine owns the socket's write side; dispatched
// requests hand replies to it through the send channel.
type connection struct {
	id        string
	sessionID string
	ws        *websocket.Conn

	send      chan models.Reply
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id, sessionID string, ws *websocket.Conn) *connection {
	return &connection{
		id:        id,
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan models.Reply, 16),
		done:      make(chan struct{}),
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readLoop decodes envelopes and hands each to the hub on its own
// goroutine. A malformed envelope produces an error reply and leaves
// the connection open.
func (c *connection) readLoop(h *Hub) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.reply(models.Reply{
				Type: "error",
				OK:   false,
				Error: &models.EnvelopeError{
					Code:    "MALFORMED_ENVELOPE",
					Message: "envelope must be JSON with a type field",
				},
			})
			continue
		}

		go h.dispatch(c, env)
	}
}

// writeLoop is the only goroutine that writes to the socket.
func (c *connection) writeLoop() {
	for {
		select {
		case r := <-c.send:
			if err := c.ws.WriteJSON(r); err != nil {
				log.Printf("HUB: write to connection %s failed: %v", c.id, err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// reply queues a response envelope; it drops the reply if the
// connection is already gone, since completed work is kept in the
// services regardless of the transport.
func (c *connection) reply(r models.Reply) {
	select {
	case c.send <- r:
	case <-c.done:
	}
}
