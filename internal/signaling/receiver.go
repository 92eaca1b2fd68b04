package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/util"
)

// Run reads envelopes until the connection ends, dispatching each to the
// handler registered for its type. It returns nil after a local Close or a
// normal close from the relay, and the read error otherwise. Either way the
// OnClose callback fires exactly once.
func (c *Channel) Run() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(nil)
				return nil
			}
			err = fmt.Errorf("relay connection lost: %w", err)
			c.shutdown(err)
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			util.LogWarning("dropping malformed relay envelope: %v", err)
			continue
		}
		c.deliver(env)
	}
}

func (c *Channel) deliver(env Envelope) {
	c.mu.RLock()
	h, ok := c.handlers[env.Type]
	dispatch := c.dispatch
	c.mu.RUnlock()

	if !ok {
		util.LogDebug("no handler for %q envelope from %q", env.Type, env.Sender())
		return
	}
	dispatch(func() { h(env) })
}
