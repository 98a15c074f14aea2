// Package realtime multiplexes heterogeneous request/response traffic
// for many concurrently connected sessions over one websocket per
// client. Each inbound envelope is dispatched on its own goroutine, so
// a slow AI round trip never blocks a context lookup; responses are
// delivered in completion order, matched by correlation id.
package realtime

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/constella/horizon-backend/services"
)

const defaultRequestTimeout = 120 * time.Second

// Hub accepts persistent client connections, binds each to a session
// via the connect-time auth token, and routes envelopes to the
// services. Closing a connection never tears down session state; a
// client may reconnect with the same token and resume.
type Hub struct {
	auth     services.Authenticator
	contexts *services.ContextService
	ai       *services.AIService
	tags     *services.TagCache

	upgrader       websocket.Upgrader
	requestTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*connection
}

func NewHub(auth services.Authenticator, contexts *services.ContextService, ai *services.AIService, tags *services.TagCache) *Hub {
	return &Hub{
		auth:     auth,
		contexts: contexts,
		ai:       ai,
		tags:     tags,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The overlay frontend connects from its own origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		requestTimeout: defaultRequestTimeout,
		conns:          make(map[string]*connection),
	}
}

// ServeHTTP upgrades the request and runs the connection's message
// loop until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.auth.Authenticate(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("HUB: upgrade failed: %v", err)
		return
	}

	conn := newConnection(uuid.New().String(), sessionID, ws)
	h.register(conn)
	defer h.unregister(conn)

	log.Printf("HUB: connection %s bound to session %s", conn.id, sessionID)
	go conn.writeLoop()
	conn.readLoop(h)
	log.Printf("HUB: connection %s closed (session %s kept)", conn.id, sessionID)
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	c.close()
}

// ConnectionCount reports live connections, for status surfaces.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// bearerToken pulls the auth token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token
// query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
