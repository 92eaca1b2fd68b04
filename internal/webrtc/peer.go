// Package webrtc implements negotiation.ChannelTransport on top of a pion
// PeerConnection.
package webrtc

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/util"
)

// DefaultICEServers are used when no ICE server is configured. No TURN: the
// tool is meant for direct P2P connectivity.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

var (
	// ErrNoLocalOffer is returned by a rollback with no local offer held.
	ErrNoLocalOffer = errors.New("webrtc: no local offer to roll back")
	// ErrOfferPending is returned when a description other than the answer
	// arrives while a local offer is outstanding.
	ErrOfferPending = errors.New("webrtc: local offer outstanding")
)

// Config configures a Transport.
type Config struct {
	ICEServers []string

	// Loopback adds 127.0.0.1 host candidates, for peers on one machine.
	Loopback bool
}

// Transport wraps a PeerConnection and the negotiated channels created on it.
// Every pion callback is turned into a negotiation.Event for the session that
// owns the transport.
//
// pion has no local rollback, so a local offer is held back and only applied
// to the PeerConnection together with its answer. Rolling back drops the held
// offer; before the first exchange it also replaces the PeerConnection, since
// CreateOffer has already assigned mids that could clash with the remote
// offer. Tracks and channels are carried over to the new connection.
type Transport struct {
	api  *webrtc.API
	conf webrtc.Configuration

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	sink     func(negotiation.Event)
	tracks   []webrtc.TrackLocal
	senders  map[string]*webrtc.RTPSender
	channels []*Channel
	held     *webrtc.SessionDescription

	closeOnce sync.Once
	closeErr  error
}

var _ negotiation.ChannelTransport = (*Transport)(nil)

func newAPI(cfg Config) *webrtc.API {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		util.LogWarning("failed to register default codecs: %v", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	if cfg.Loopback {
		s.SetIncludeLoopbackCandidate(true)
		s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s))
}

// New creates a Transport backed by a fresh PeerConnection.
func New(cfg Config) (*Transport, error) {
	servers := cfg.ICEServers
	if len(servers) == 0 && !cfg.Loopback {
		servers = DefaultICEServers
	}

	var conf webrtc.Configuration
	if len(servers) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: servers}}
	}

	t := &Transport{
		api:     newAPI(cfg),
		conf:    conf,
		senders: make(map[string]*webrtc.RTPSender),
	}

	pc, err := t.api.NewPeerConnection(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	t.attach(pc)
	t.pc = pc
	return t, nil
}

// attach installs the pion callbacks of pc. Events from a connection that
// has since been replaced are dropped.
func (t *Transport) attach(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		t.emitFrom(pc, negotiation.LocalCandidate{Candidate: c.ToJSON()})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.emitFrom(pc, negotiation.ConnectionStateChanged{State: state})
	})

	pc.OnSignalingStateChange(func(state webrtc.SignalingState) {
		t.emitFrom(pc, negotiation.SignalingStateChanged{State: state})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go discardRTP(remote)
		t.emitFrom(pc, negotiation.RemoteTrack{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     remote.Kind(),
		})
	})
}

// discardRTP keeps the receive buffers draining for tracks nobody renders.
func discardRTP(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) emitFrom(pc *webrtc.PeerConnection, ev negotiation.Event) {
	t.mu.Lock()
	sink := t.sink
	current := t.pc == pc
	t.mu.Unlock()
	if current && sink != nil {
		sink(ev)
	}
}

func (t *Transport) conn() *webrtc.PeerConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pc
}

func (t *Transport) takeHeld() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	held := t.held
	t.held = nil
	return held
}

// OnEvent registers the sink for transport events. Events may be raised on
// any pion goroutine.
func (t *Transport) OnEvent(sink func(negotiation.Event)) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.conn().CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.conn().CreateAnswer(nil)
}

// SetLocalDescription applies a local answer directly. A local offer is held
// until its answer arrives, and a rollback discards it.
func (t *Transport) SetLocalDescription(desc webrtc.SessionDescription) error {
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if st := t.conn().SignalingState(); st != webrtc.SignalingStateStable {
			return fmt.Errorf("%w: local offer in signaling state %s", ErrOfferPending, st)
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.held != nil {
			return ErrOfferPending
		}
		d := desc
		t.held = &d
		return nil

	case webrtc.SDPTypeRollback:
		return t.rollback()

	default:
		return t.conn().SetLocalDescription(desc)
	}
}

func (t *Transport) rollback() error {
	if t.takeHeld() == nil {
		return ErrNoLocalOffer
	}
	if t.conn().CurrentRemoteDescription() != nil {
		return nil
	}
	return t.rebuild()
}

// rebuild swaps in a fresh PeerConnection carrying the same tracks and
// negotiated channels.
func (t *Transport) rebuild() error {
	pc, err := t.api.NewPeerConnection(t.conf)
	if err != nil {
		return fmt.Errorf("failed to rebuild peer connection: %w", err)
	}
	t.attach(pc)

	t.mu.Lock()
	tracks := slices.Clone(t.tracks)
	channels := slices.Clone(t.channels)
	t.mu.Unlock()

	senders := make(map[string]*webrtc.RTPSender, len(tracks))
	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return fmt.Errorf("failed to re-attach track %s: %w", track.ID(), err)
		}
		senders[track.ID()] = sender
	}

	raws := make([]*webrtc.DataChannel, len(channels))
	for i, ch := range channels {
		raw, err := createNegotiated(pc, ch.Label(), ch.id)
		if err != nil {
			_ = pc.Close()
			return err
		}
		raws[i] = raw
	}

	t.mu.Lock()
	old := t.pc
	t.pc = pc
	t.senders = senders
	t.mu.Unlock()

	for i, ch := range channels {
		ch.bind(raws[i])
	}
	if err := old.Close(); err != nil {
		util.LogDebug("closing replaced peer connection: %v", err)
	}
	util.LogDebug("rolled back unanswered offer on a fresh peer connection (%d tracks, %d channels)",
		len(tracks), len(channels))
	return nil
}

// SetRemoteDescription validates and applies the remote SDP. Descriptions
// that do not parse fail with negotiation.ErrMalformedDescription. An answer
// first applies the held local offer.
func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	summary, err := inspect(desc)
	if err != nil {
		return err
	}
	pc := t.conn()

	if held := t.takeHeld(); held != nil {
		if desc.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: remote %s", ErrOfferPending, desc.Type)
		}
		if err := pc.SetLocalDescription(*held); err != nil {
			return fmt.Errorf("failed to apply local offer: %w", err)
		}
	}

	util.LogDebug("applying remote %s: %s", desc.Type, summary)
	return pc.SetRemoteDescription(desc)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.conn().AddICECandidate(candidate)
}

// AddTrack attaches a local track.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.conn().AddTrack(track)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.tracks = append(t.tracks, track)
	t.senders[track.ID()] = sender
	t.mu.Unlock()
	return nil
}

// RemoveTrack detaches a track added with AddTrack.
func (t *Transport) RemoveTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	sender, ok := t.senders[track.ID()]
	delete(t.senders, track.ID())
	t.tracks = slices.DeleteFunc(t.tracks, func(tl webrtc.TrackLocal) bool { return tl.ID() == track.ID() })
	pc := t.pc
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("track %s was not added", track.ID())
	}
	return pc.RemoveTrack(sender)
}

// CreateNegotiatedChannel creates an ordered data channel with a fixed id on
// this side. The peer must create the same channel for it to open.
func (t *Transport) CreateNegotiatedChannel(label string, id uint16) (negotiation.DataChannel, error) {
	raw, err := createNegotiated(t.conn(), label, id)
	if err != nil {
		return nil, err
	}

	ch := newChannel(raw, id)
	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()
	return ch, nil
}

func createNegotiated(pc *webrtc.PeerConnection, label string, id uint16) (*webrtc.DataChannel, error) {
	negotiated := true
	raw, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel %q: %w", label, err)
	}
	return raw, nil
}

// ConnectionState returns the current PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	return t.conn().ConnectionState()
}

// SignalingState returns the signaling state as seen by the session: a held
// local offer counts as have-local-offer.
func (t *Transport) SignalingState() webrtc.SignalingState {
	t.mu.Lock()
	held := t.held != nil
	pc := t.pc
	t.mu.Unlock()
	if held {
		return webrtc.SignalingStateHaveLocalOffer
	}
	return pc.SignalingState()
}

// Close shuts down every channel and the PeerConnection. It is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		channels := t.channels
		t.channels = nil
		t.held = nil
		pc := t.pc
		t.mu.Unlock()

		errs := make([]error, 0, len(channels)+1)
		for _, ch := range channels {
			errs = append(errs, ch.Close())
		}
		errs = append(errs, pc.Close())
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}
