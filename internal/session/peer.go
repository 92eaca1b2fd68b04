package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bep/debounce"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

// Peer is the PeerSession: one negotiation with one remote identity, the
// local tracks offered to it and the transport carrying it.
type Peer struct {
	id        string
	local     string
	transport negotiation.Transport
	machine   *negotiation.Machine
	sched     Scheduler
	sender    Sender
	dialect   signaling.Dialect

	provider    media.Provider
	constraints media.Constraints

	tracks       []*media.Track
	remoteTracks map[string]negotiation.RemoteTrack

	// gen is bumped on teardown; continuations of asynchronous work carry
	// the generation they started in and become no-ops once it changes.
	gen       uint64
	closed    bool
	opened    bool
	initiator bool
	acquiring bool

	autoNegotiate bool
	debounced     func(func())
	cleanups      []func() error

	// self is the Session handed to OnClosed; a DataPeer replaces it.
	self          Session
	onClosed      func(Session)
	onRemoteTrack func(string, negotiation.RemoteTrack)
}

var _ Session = (*Peer)(nil)

// NewPeer creates a session in Idle and subscribes to its transport's events.
func NewPeer(opts Options) (*Peer, error) {
	switch {
	case opts.Remote == "":
		return nil, errors.New("session: empty peer identity")
	case opts.Remote == opts.Local:
		return nil, ErrSelf
	case opts.Transport == nil || opts.Sender == nil || opts.Scheduler == nil:
		return nil, errors.New("session: transport, sender and scheduler are required")
	}

	p := &Peer{
		id:            opts.Remote,
		local:         opts.Local,
		transport:     opts.Transport,
		sched:         opts.Scheduler,
		sender:        opts.Sender,
		dialect:       opts.Dialect,
		provider:      opts.Media,
		constraints:   opts.Constraints,
		remoteTracks:  make(map[string]negotiation.RemoteTrack),
		autoNegotiate: true,
		onClosed:      opts.OnClosed,
		onRemoteTrack: opts.OnRemoteTrack,
	}
	p.self = p
	p.machine = negotiation.NewMachine(opts.Local, opts.Remote, opts.Transport, p.emit)
	p.machine.OnTransition(p.onTransition)

	if opts.Debounce > 0 {
		p.debounced = debounce.New(opts.Debounce)
	}

	gen := p.gen
	opts.Transport.OnEvent(func(ev negotiation.Event) {
		p.sched.Post(func() { p.onTransportEvent(gen, ev) })
	})

	util.Stats.OpenSession()
	util.LogDebug("session with %s created (polite=%t)", p.id, p.machine.Polite())
	return p, nil
}

func (p *Peer) ID() string                 { return p.id }
func (p *Peer) State() negotiation.State   { return p.machine.State() }
func (p *Peer) Polite() bool               { return p.machine.Polite() }
func (p *Peer) Closed() bool               { return p.closed }
func (p *Peer) Generation() uint64         { return p.gen }
func (p *Peer) PendingCandidates() int     { return p.machine.Pending() }
func (p *Peer) Tracks() []*media.Track     { return append([]*media.Track(nil), p.tracks...) }
func (p *Peer) stale(gen uint64) bool      { return p.closed || gen != p.gen }
func (p *Peer) addCleanup(fn func() error) { p.cleanups = append(p.cleanups, fn) }

// RemoteTracks returns the tracks announced by the peer, ordered by id.
func (p *Peer) RemoteTracks() []negotiation.RemoteTrack {
	out := make([]negotiation.RemoteTrack, 0, len(p.remoteTracks))
	for _, t := range p.remoteTracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Call starts a locally initiated call: acquire local media (if any), attach
// it and send the initial offer. Repeated calls are no-ops.
func (p *Peer) Call() error {
	if p.closed {
		return negotiation.ErrClosed
	}
	if p.opened {
		return nil
	}
	p.opened = true
	p.initiator = true

	if p.provider == nil {
		p.handle(negotiation.NegotiationNeeded{})
		return nil
	}
	p.acquire()
	return nil
}

// Prepare acquires local media for a call the peer started; the tracks are
// offered back through renegotiation once they arrive.
func (p *Peer) Prepare() {
	if p.closed || p.opened {
		return
	}
	p.opened = true
	if p.provider != nil {
		p.acquire()
	}
}

func (p *Peer) acquire() {
	if p.acquiring {
		return
	}
	p.acquiring = true

	gen := p.gen
	provider, constraints := p.provider, p.constraints
	p.sched.Go(func() {
		tracks, err := provider.Acquire(context.Background(), constraints)
		if !p.sched.Post(func() { p.onMedia(gen, tracks, err) }) {
			media.StopAll(tracks)
		}
	})
}

// onMedia is the continuation of acquire on the loop.
func (p *Peer) onMedia(gen uint64, tracks []*media.Track, err error) {
	if p.stale(gen) {
		if n := media.StopAll(tracks); n > 0 {
			util.LogDebug("released %d tracks acquired for closed session with %s", n, p.id)
		}
		return
	}
	p.acquiring = false

	if err != nil {
		util.Stats.Fail()
		f := &negotiation.Failure{Kind: negotiation.MediaAcquisition, Peer: p.id, Op: "acquire", Err: err}
		util.LogWarning("%v; continuing without local media", f)
	}

	added := 0
	for _, t := range tracks {
		if err := p.transport.AddTrack(t); err != nil {
			util.LogWarning("failed to attach %s track for %s: %v", t.Kind(), p.id, err)
			t.Stop()
			continue
		}
		p.tracks = append(p.tracks, t)
		added++
	}

	if added > 0 || (p.initiator && p.machine.State() == negotiation.Idle) {
		p.handle(negotiation.NegotiationNeeded{})
	}
}

// AddTrack attaches a local track and, for media sessions, renegotiates.
func (p *Peer) AddTrack(t *media.Track) error {
	if p.closed {
		return negotiation.ErrClosed
	}
	if err := p.transport.AddTrack(t); err != nil {
		return fmt.Errorf("failed to add track %s: %w", t.ID(), err)
	}
	p.tracks = append(p.tracks, t)
	if p.autoNegotiate {
		p.renegotiate()
	}
	return nil
}

// RemoveTrack detaches and stops a local track and, for media sessions,
// renegotiates.
func (p *Peer) RemoveTrack(t *media.Track) error {
	if p.closed {
		return negotiation.ErrClosed
	}
	idx := -1
	for i, cur := range p.tracks {
		if cur == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("track %s is not attached to session with %s", t.ID(), p.id)
	}
	if err := p.transport.RemoveTrack(t); err != nil {
		return fmt.Errorf("failed to remove track %s: %w", t.ID(), err)
	}
	p.tracks = append(p.tracks[:idx], p.tracks[idx+1:]...)
	t.Stop()
	if p.autoNegotiate {
		p.renegotiate()
	}
	return nil
}

func (p *Peer) renegotiate() {
	if p.debounced == nil {
		p.handle(negotiation.NegotiationNeeded{})
		return
	}
	gen := p.gen
	p.debounced(func() {
		p.sched.Post(func() {
			if !p.stale(gen) {
				p.handle(negotiation.NegotiationNeeded{})
			}
		})
	})
}

func (p *Peer) HandleOffer(sdp string) {
	p.deliver(negotiation.RemoteOffer{SDP: sdp})
}

func (p *Peer) HandleAnswer(sdp string) {
	p.deliver(negotiation.RemoteAnswer{SDP: sdp})
}

func (p *Peer) HandleCandidate(c webrtc.ICECandidateInit) {
	p.deliver(negotiation.RemoteCandidate{Candidate: c})
}

func (p *Peer) deliver(ev negotiation.Event) {
	if p.closed {
		util.LogDebug("dropping %T for closed session with %s", ev, p.id)
		return
	}
	p.handle(ev)
}

// HangUp notifies the peer through the relay and closes the session.
func (p *Peer) HangUp() {
	if p.closed {
		return
	}
	env := signaling.Envelope{Type: signaling.TypeHangUp, Name: p.local, Target: p.id}
	if err := p.sender.Send(env); err != nil {
		util.LogWarning("failed to send hang-up to %s: %v", p.id, err)
	}
	p.Close("hang-up")
}

// Close tears the session down without notifying the peer. It is idempotent.
func (p *Peer) Close(reason string) {
	p.handle(negotiation.Close{Reason: reason})
}

func (p *Peer) onTransportEvent(gen uint64, ev negotiation.Event) {
	if p.stale(gen) {
		return
	}
	if t, ok := ev.(negotiation.RemoteTrack); ok {
		p.remoteTracks[t.ID] = t
		util.LogDebug("remote %s track %s from %s", t.Kind, t.ID, p.id)
		if p.onRemoteTrack != nil {
			p.onRemoteTrack(p.id, t)
		}
		return
	}
	p.handle(ev)
}

// handle feeds the machine and turns its errors into log lines; nothing a
// single session does is allowed to escape to the caller.
func (p *Peer) handle(ev negotiation.Event) {
	err := p.machine.Handle(ev)
	if err == nil {
		return
	}

	var f *negotiation.Failure
	switch {
	case errors.Is(err, negotiation.ErrClosed):
		util.LogDebug("session with %s already closed, ignoring %T", p.id, ev)
	case errors.As(err, &f) && f.Kind == negotiation.TransportFailure:
		util.LogInfo("%v", f)
	case errors.As(err, &f) && f.Kind == negotiation.RelaySend:
		util.LogWarning("%v", f)
	default:
		util.LogError("%v", err)
	}
}

func (p *Peer) emit(msg negotiation.Message) error {
	env := signaling.Envelope{Name: p.local, Target: p.id}
	switch msg.Kind {
	case negotiation.KindOffer:
		env.Type = p.dialect.Offer()
		env.SDP = msg.Description
	case negotiation.KindAnswer:
		env.Type = p.dialect.Answer()
		env.SDP = msg.Description
	case negotiation.KindCandidate:
		env.Type = signaling.TypeCandidate
		env.Candidate = msg.Candidate
	}
	return p.sender.Send(env)
}

func (p *Peer) onTransition(_, to negotiation.State) {
	if to == negotiation.Closed {
		p.destroy(p.machine.CloseReason())
	}
}

// destroy releases everything the session owns, exactly once.
func (p *Peer) destroy(reason string) {
	if p.closed {
		return
	}
	p.closed = true
	p.gen++

	stopped := media.StopAll(p.tracks)
	p.tracks = nil
	remote := len(p.remoteTracks)
	p.remoteTracks = make(map[string]negotiation.RemoteTrack)

	for i := len(p.cleanups) - 1; i >= 0; i-- {
		if err := p.cleanups[i](); err != nil {
			util.LogDebug("cleanup for %s: %v", p.id, err)
		}
	}
	p.cleanups = nil

	if err := p.transport.Close(); err != nil {
		util.LogWarning("failed to close transport for %s: %v", p.id, err)
	}

	util.Stats.CloseSession()
	util.LogInfo("session with %s closed (%s); released %d local and %d remote tracks", p.id, reason, stopped, remote)

	if p.onClosed != nil {
		p.onClosed(p.self)
	}
}
