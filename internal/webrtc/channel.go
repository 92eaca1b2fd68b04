package webrtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing message queue capacity
)

var (
	ErrChannelClosed  = errors.New("webrtc: data channel closed")
	ErrSendBufferFull = errors.New("webrtc: send buffer full")
)

// Channel wraps a pion DataChannel with a single writer goroutine that waits
// for the channel to open and applies backpressure on bufferedAmount.
type Channel struct {
	id uint16

	inbox       chan []byte
	drainSignal chan struct{}
	openSignal  chan struct{}
	openOnce    sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	raw       *webrtc.DataChannel
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func newChannel(raw *webrtc.DataChannel, id uint16) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		id:          id,
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		openSignal:  make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.bind(raw)

	go c.loop()

	return c
}

// bind moves the channel onto raw, as happens when the transport replaces
// its PeerConnection. Callbacks of the previous raw channel are ignored from
// then on.
func (c *Channel) bind(raw *webrtc.DataChannel) {
	c.mu.Lock()
	c.raw = raw
	c.mu.Unlock()

	raw.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	raw.OnBufferedAmountLow(func() {
		if !c.bound(raw) {
			return
		}
		select {
		case c.drainSignal <- struct{}{}:
		default:
		}
	})

	// pion keeps one handler per callback, so the channel owns them and
	// forwards to whatever the session registered.
	raw.OnOpen(func() {
		if !c.bound(raw) {
			return
		}
		c.openOnce.Do(func() { close(c.openSignal) })
		if fn := c.handler(&c.onOpen); fn != nil {
			fn()
		}
	})
	raw.OnClose(func() {
		if !c.bound(raw) {
			return
		}
		c.cancel()
		if fn := c.handler(&c.onClose); fn != nil {
			fn()
		}
	})
	raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !c.bound(raw) {
			return
		}
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

func (c *Channel) bound(raw *webrtc.DataChannel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw == raw
}

func (c *Channel) current() *webrtc.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raw
}

func (c *Channel) handler(slot *func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *slot
}

// loop is the single-writer goroutine. It waits for the channel to open,
// then drains the inbox with backpressure awareness.
func (c *Channel) loop() {
	select {
	case <-c.openSignal:
	case <-c.ctx.Done():
		return
	}

	for {
		select {
		case data := <-c.inbox:
			raw := c.current()
			if raw.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-c.drainSignal:
				case <-c.ctx.Done():
					return
				}
			}
			if err := raw.Send(data); err != nil {
				util.LogError("failed to send on data channel %q: %v", raw.Label(), err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) Label() string { return c.current().Label() }

// Send queues data for the writer goroutine. It never blocks: a full queue
// fails with ErrSendBufferFull.
func (c *Channel) Send(data []byte) error {
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}
	select {
	case c.inbox <- data:
		return nil
	case <-c.ctx.Done():
		return ErrChannelClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Channel) OnOpen(fn func())               { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *Channel) OnClose(fn func())              { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *Channel) OnMessage(fn func(data []byte)) { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }

// Close stops the writer and closes the underlying channel.
func (c *Channel) Close() error {
	c.cancel()
	return c.current().Close()
}
