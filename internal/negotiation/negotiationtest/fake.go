// Package negotiationtest provides an in-memory negotiation.Transport that
// follows the signaling rules of the pion transport in internal/webrtc
// without any network or media: a local offer can be rolled back, and a
// remote offer is refused while a local offer is outstanding.
package negotiationtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/negotiation"
)

var (
	errNoRemoteDescription = errors.New("fake: remote description not set")
	errWrongState          = errors.New("fake: description not allowed in current signaling state")
)

// Transport is a fake negotiation.ChannelTransport.
type Transport struct {
	mu sync.Mutex

	name      string
	offers    int
	answers   int
	signaling webrtc.SignalingState
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	applied   []webrtc.ICECandidateInit
	tracks    map[string]webrtc.TrackLocal
	channels  []*Channel
	rollbacks int
	closes    int
	sink      func(negotiation.Event)

	// Fail* make the matching call return the error once set.
	FailCreateOffer error
	FailSetRemote   error
}

var _ negotiation.ChannelTransport = (*Transport)(nil)

// New returns a fake transport; name is embedded in generated SDP.
func New(name string) *Transport {
	return &Transport{
		name:      name,
		signaling: webrtc.SignalingStateStable,
		tracks:    make(map[string]webrtc.TrackLocal),
	}
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailCreateOffer != nil {
		return webrtc.SessionDescription{}, t.FailCreateOffer
	}
	t.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%s-%d tracks=%d", t.name, t.offers, len(t.tracks)),
	}, nil
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errWrongState
	}
	t.answers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer-%s-%d", t.name, t.answers),
	}, nil
}

func (t *Transport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if t.signaling != webrtc.SignalingStateStable {
			return errWrongState
		}
		t.signaling = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		if t.signaling != webrtc.SignalingStateHaveRemoteOffer {
			return errWrongState
		}
		t.signaling = webrtc.SignalingStateStable
	case webrtc.SDPTypeRollback:
		if t.signaling != webrtc.SignalingStateHaveLocalOffer {
			return errWrongState
		}
		t.signaling = webrtc.SignalingStateStable
		t.local = nil
		t.rollbacks++
		return nil
	default:
		return errWrongState
	}
	d := desc
	t.local = &d
	return nil
}

func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailSetRemote != nil {
		return t.FailSetRemote
	}
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if t.signaling != webrtc.SignalingStateStable {
			return errWrongState
		}
		t.signaling = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if t.signaling != webrtc.SignalingStateHaveLocalOffer {
			return errWrongState
		}
		t.signaling = webrtc.SignalingStateStable
	default:
		return errWrongState
	}
	d := desc
	t.remote = &d
	return nil
}

// AddICECandidate fails when no remote description is set, like a real
// peer connection does.
func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errNoRemoteDescription
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks[track.ID()] = track
	return nil
}

func (t *Transport) RemoveTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracks, track.ID())
	return nil
}

func (t *Transport) OnEvent(sink func(negotiation.Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

func (t *Transport) CreateNegotiatedChannel(label string, id uint16) (negotiation.DataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := &Channel{label: label, id: id}
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	t.signaling = webrtc.SignalingStateClosed
	return nil
}

// Emit delivers ev to the registered sink as if the transport raised it.
func (t *Transport) Emit(ev negotiation.Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Applied returns the remote candidates applied so far, in order.
func (t *Transport) Applied() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), t.applied...)
}

func (t *Transport) SignalingState() webrtc.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signaling
}

func (t *Transport) LocalDescription() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *Transport) RemoteDescription() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *Transport) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

func (t *Transport) Offers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *Transport) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

func (t *Transport) Channels() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Channel(nil), t.channels...)
}

// Channel is a fake negotiated data channel. Tests drive it with Open,
// Deliver and Disconnect.
type Channel struct {
	mu        sync.Mutex
	label     string
	id        uint16
	sent      [][]byte
	closed    bool
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (c *Channel) Label() string { return c.label }
func (c *Channel) ID() uint16    { return c.id }

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fake: channel closed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Channel) OnOpen(fn func())               { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *Channel) OnClose(fn func())              { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *Channel) OnMessage(fn func(data []byte)) { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Open fires the open callback.
func (c *Channel) Open() {
	c.mu.Lock()
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver fires the message callback with data.
func (c *Channel) Deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Disconnect marks the channel closed and fires the close callback.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
