// Package relay is a development relay: it forwards targeted envelopes
// between registered users and publishes the roster. Production deployments
// use their own relay; this one exists for local runs and integration tests.
package relay

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks every connected client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	nextID  int
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	id   int
	uid  string
	name string // guarded by hub.mu
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Router returns a gin engine serving the relay on /ws and a health probe on
// /health.
func (h *Hub) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "users": len(h.Users())})
	})
	router.GET("/ws", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})
	return router
}

// ServeWS upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("relay: websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.nextID++
	c := &client{
		hub:  h,
		conn: conn,
		id:   h.nextID,
		uid:  uuid.NewString(),
		send: make(chan []byte, sendBufferSize),
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	util.LogDebug("relay: connection %d (%s) accepted", c.id, c.uid)
	c.enqueue(signaling.Envelope{Type: signaling.TypeID, ID: c.id})

	go c.writePump()
	c.readPump()
}

// Users returns the registered identities, sorted.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.usersLocked()
}

func (h *Hub) usersLocked() []string {
	users := make([]string, 0, len(h.clients))
	for c := range h.clients {
		if c.name != "" {
			users = append(users, c.name)
		}
	}
	sort.Strings(users)
	return users
}

// route handles one inbound message from c.
func (h *Hub) route(c *client, data []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		util.LogWarning("relay: dropping invalid message from connection %d", c.id)
		return
	}
	typ := stringField(fields, "type")

	h.mu.RLock()
	from := c.name
	h.mu.RUnlock()

	if target := stringField(fields, "target"); target != "" {
		if from != "" {
			fields["name"] = mustJSON(from)
		}
		h.forward(target, mustJSON(fields))
		return
	}

	switch signaling.Type(typ) {
	case signaling.TypeUsername:
		name := stringField(fields, "name")
		if name == "" {
			name = stringField(fields, "username")
		}
		h.register(c, name)

	case signaling.TypeMessage:
		if from != "" {
			fields["name"] = mustJSON(from)
		}
		h.broadcast(mustJSON(fields), nil)

	default:
		h.broadcast(data, nil)
	}
}

func (h *Hub) register(c *client, name string) {
	if name == "" {
		util.LogWarning("relay: connection %d sent an empty username", c.id)
		return
	}

	h.mu.Lock()
	for other := range h.clients {
		if other != c && other.name == name {
			util.LogWarning("relay: username %q is already taken by connection %d", name, other.id)
		}
	}
	c.name = name
	users := h.usersLocked()
	h.mu.Unlock()

	util.LogInfo("relay: connection %d registered as %q", c.id, name)
	c.enqueue(signaling.Envelope{Type: signaling.TypeUserlist, Users: users})
	h.broadcast(mustJSON(signaling.Envelope{Type: signaling.TypeNewUser, Username: name}), c)
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	named := c.name != ""
	users := h.usersLocked()
	h.mu.Unlock()

	util.LogDebug("relay: connection %d closed", c.id)
	if named {
		h.broadcast(mustJSON(signaling.Envelope{Type: signaling.TypeUserlist, Users: users}), nil)
	}
}

func (h *Hub) forward(target string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := false
	for c := range h.clients {
		if c.name == target {
			c.push(data)
			delivered = true
		}
	}
	if !delivered {
		util.LogDebug("relay: no user %q to forward to", target)
	}
}

// broadcast sends data to every client except skip.
func (h *Hub) broadcast(data []byte, skip *client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c != skip {
			c.push(data)
		}
	}
}

// push queues data without blocking; callers hold hub.mu so send is open.
func (c *client) push(data []byte) {
	select {
	case c.send <- data:
	default:
		util.LogWarning("relay: send buffer full for connection %d, dropping message", c.id)
	}
}

func (c *client) enqueue(env signaling.Envelope) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; ok {
		c.push(mustJSON(env))
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.route(c, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
