package signaling

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// sender serializes outgoing envelopes to the websocket (gorilla allows one
// concurrent writer).
type sender struct {
	ws     *websocket.Conn
	closed <-chan struct{}
	wmu    sync.Mutex
}

// Send writes one envelope. Failures are returned to the caller and never
// retried here.
func (s *sender) Send(env Envelope) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s envelope: %w", env.Type, err)
	}
	return nil
}
