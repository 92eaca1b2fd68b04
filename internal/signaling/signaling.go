// Package signaling is the duplex envelope transport to the relay. It
// dispatches inbound envelopes to handlers by type, strictly in relay order,
// and serializes outbound envelopes. It never reorders, deduplicates or
// reconnects.
package signaling

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send after the channel has closed.
var ErrClosed = errors.New("signaling: channel closed")

// Handler processes one inbound envelope.
type Handler func(Envelope)

// Channel is a relay connection.
type Channel struct {
	conn *websocket.Conn

	sender

	mu       sync.RWMutex
	handlers map[Type]Handler
	dispatch func(func())
	onClose  func(error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewChannel wraps an established websocket connection.
func NewChannel(conn *websocket.Conn) *Channel {
	done := make(chan struct{})
	return &Channel{
		conn:     conn,
		sender:   sender{ws: conn, closed: done},
		handlers: make(map[Type]Handler),
		dispatch: func(fn func()) { fn() },
		done:     done,
	}
}

// On registers the handler for envelopes of type t, replacing any previous one.
func (c *Channel) On(t Type, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = h
}

// OnClose registers a callback invoked once when the connection is lost or
// closed. The error is nil for a local Close.
func (c *Channel) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// SetDispatcher makes handlers run through post (e.g. an event loop's Post)
// instead of on the read goroutine. post must preserve submission order.
func (c *Channel) SetDispatcher(post func(func())) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch = post
}

// Done is closed once the channel has shut down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Run returns afterwards.
func (c *Channel) Close() error {
	c.shutdown(nil)
	return c.conn.Close()
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.RLock()
		fn := c.onClose
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	})
}
