package negotiation

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

// MessageKind identifies an outbound negotiation message.
type MessageKind int

const (
	KindOffer MessageKind = iota + 1
	KindAnswer
	KindCandidate
)

// Message is produced by the machine for delivery to the peer through the
// relay. Exactly one of Description or Candidate is set.
type Message struct {
	Kind        MessageKind
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// Emitter delivers an outbound message. Errors are reported as RelaySend
// failures and are never retried by the machine.
type Emitter func(Message) error

// Machine is the negotiation state machine of one peer session.
//
// A Machine is not safe for concurrent use: every call must come from the
// single event loop that owns the session.
type Machine struct {
	peer      string
	polite    bool
	transport Transport
	emit      Emitter

	state     State
	remoteSet bool
	pending   CandidateQueue

	// renegotiate records a local trigger that arrived while an exchange was
	// in flight; it is replayed on reaching Stable.
	renegotiate bool
	// ignoringOffer is set while the impolite side is dropping a colliding
	// offer, so failures on that offer's candidates are expected.
	ignoringOffer bool

	onTransition func(from, to State)
	closeReason  string
}

// NewMachine creates a machine in Idle for the session between local and
// remote. Politeness is fixed at construction by IsPolite.
func NewMachine(local, remote string, transport Transport, emit Emitter) *Machine {
	return &Machine{
		peer:      remote,
		polite:    IsPolite(local, remote),
		transport: transport,
		emit:      emit,
		state:     Idle,
	}
}

// OnTransition registers a callback invoked after every state change.
func (m *Machine) OnTransition(fn func(from, to State)) { m.onTransition = fn }

func (m *Machine) State() State        { return m.state }
func (m *Machine) Polite() bool        { return m.polite }
func (m *Machine) Pending() int        { return m.pending.Len() }
func (m *Machine) RemoteSet() bool     { return m.remoteSet }
func (m *Machine) IgnoringOffer() bool { return m.ignoringOffer }
func (m *Machine) CloseReason() string { return m.closeReason }

// Handle applies one event. The returned error describes what went wrong for
// logging; a non-nil error does not mean the machine panicked or stalled, and
// negotiation failures have already moved it to Closed.
func (m *Machine) Handle(ev Event) error {
	if m.state == Closed {
		if _, ok := ev.(Close); ok {
			return nil
		}
		return ErrClosed
	}

	switch e := ev.(type) {
	case NegotiationNeeded:
		return m.negotiate()

	case RemoteOffer:
		return m.onOffer(e.SDP)

	case RemoteAnswer:
		return m.onAnswer(e.SDP)

	case RemoteCandidate:
		if !m.remoteSet {
			m.pending.Push(e.Candidate)
			util.Stats.QueueCandidate()
			util.LogPeer(m.peer, m.state.String(), "queued remote candidate (%d pending)", m.pending.Len())
			return nil
		}
		m.applyCandidate(e.Candidate)
		return nil

	case LocalCandidate:
		c := e.Candidate
		return m.send(Message{Kind: KindCandidate, Candidate: &c})

	case ConnectionStateChanged:
		switch e.State {
		case webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected:
			f := &Failure{Kind: TransportFailure, Peer: m.peer, Op: "connection " + e.State.String()}
			util.Stats.Fail()
			m.close(f.Error())
			return f
		}
		return nil

	case SignalingStateChanged:
		if e.State == webrtc.SignalingStateClosed {
			m.close("signaling state closed")
		}
		return nil

	case Close:
		m.close(e.Reason)
		return nil

	default:
		return nil
	}
}

// negotiate handles the local trigger: create an offer, apply it locally and
// emit it. Triggers outside Idle/Stable are deferred until Stable.
func (m *Machine) negotiate() error {
	var next State
	switch m.state {
	case Idle:
		next = Offering
	case Stable:
		next = Renegotiating
	default:
		m.renegotiate = true
		util.LogPeer(m.peer, m.state.String(), "deferring renegotiation until stable")
		return nil
	}

	if err := m.transition(next); err != nil {
		return err
	}

	offer, err := m.transport.CreateOffer()
	if err != nil {
		return m.fail(Negotiation, "create offer", err)
	}
	if err := m.transport.SetLocalDescription(offer); err != nil {
		return m.fail(Negotiation, "set local offer", err)
	}

	if next == Offering {
		if err := m.transition(AwaitingAnswer); err != nil {
			return err
		}
	}

	util.Stats.SentOffer()
	return m.send(Message{Kind: KindOffer, Description: &offer})
}

func (m *Machine) onOffer(sdp string) error {
	if m.state.HasLocalOffer() {
		if !m.polite {
			m.ignoringOffer = true
			util.Stats.IgnoreOffer()
			util.LogPeer(m.peer, m.state.String(), "glare: ignoring colliding offer, keeping ours")
			return nil
		}

		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := m.transport.SetLocalDescription(rollback); err != nil {
			return m.fail(Negotiation, "rollback", err)
		}
		util.Stats.Rollback()
		util.LogPeer(m.peer, m.state.String(), "glare: rolled back local offer")

		// Our tracks were only described by the discarded offer; offer them
		// again once the peer's offer has been answered.
		m.renegotiate = true
	}

	m.ignoringOffer = false
	if err := m.transition(ReceivedOffer); err != nil {
		return err
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := m.transport.SetRemoteDescription(offer); err != nil {
		return m.fail(Negotiation, "set remote offer", err)
	}
	m.remoteDescriptionSet()

	if err := m.transition(Answering); err != nil {
		return err
	}

	answer, err := m.transport.CreateAnswer()
	if err != nil {
		return m.fail(Negotiation, "create answer", err)
	}
	if err := m.transport.SetLocalDescription(answer); err != nil {
		return m.fail(Negotiation, "set local answer", err)
	}

	if err := m.transition(Stable); err != nil {
		return err
	}

	util.Stats.SentAnswer()
	sendErr := m.send(Message{Kind: KindAnswer, Description: &answer})
	if err := m.settled(); err != nil {
		return err
	}
	return sendErr
}

func (m *Machine) onAnswer(sdp string) error {
	if m.state != AwaitingAnswer && m.state != Renegotiating {
		util.LogWarning("unexpected answer from %s in state %s, ignoring", m.peer, m.state)
		return nil
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := m.transport.SetRemoteDescription(answer); err != nil {
		return m.fail(Negotiation, "set remote answer", err)
	}
	m.ignoringOffer = false
	m.remoteDescriptionSet()

	if err := m.transition(Stable); err != nil {
		return err
	}
	return m.settled()
}

// settled replays a deferred renegotiation after reaching Stable.
func (m *Machine) settled() error {
	if !m.renegotiate || m.state != Stable {
		return nil
	}
	m.renegotiate = false
	return m.negotiate()
}

// remoteDescriptionSet flushes queued candidates in arrival order.
func (m *Machine) remoteDescriptionSet() {
	m.remoteSet = true
	if m.pending.Len() > 0 {
		util.LogPeer(m.peer, m.state.String(), "flushing %d queued candidates", m.pending.Len())
	}
	m.pending.Drain(m.applyCandidate)
}

// applyCandidate adds a remote candidate. Failures are logged only: a bad
// candidate costs one path, not the session.
func (m *Machine) applyCandidate(c webrtc.ICECandidateInit) {
	if err := m.transport.AddICECandidate(c); err != nil {
		if m.ignoringOffer {
			util.LogPeer(m.peer, m.state.String(), "dropped candidate of ignored offer: %v", err)
			return
		}
		util.LogWarning("failed to add ICE candidate from %s: %v", m.peer, err)
		return
	}
	util.Stats.ApplyCandidate()
}

func (m *Machine) send(msg Message) error {
	if m.emit == nil {
		return nil
	}
	if err := m.emit(msg); err != nil {
		return &Failure{Kind: RelaySend, Peer: m.peer, Op: "send", Err: err}
	}
	return nil
}

func (m *Machine) transition(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	prev := m.state
	m.state = next
	util.LogPeer(m.peer, next.String(), "negotiation %s -> %s", prev, next)
	if m.onTransition != nil {
		m.onTransition(prev, next)
	}
	return nil
}

// fail records a negotiation failure and closes the machine.
func (m *Machine) fail(kind FailureKind, op string, err error) error {
	f := &Failure{Kind: kind, Peer: m.peer, Op: op, Err: err}
	util.Stats.Fail()
	m.close(f.Error())
	return f
}

func (m *Machine) close(reason string) {
	if m.state == Closed {
		return
	}
	m.closeReason = reason
	m.pending.Clear()
	m.renegotiate = false
	_ = m.transition(Closed)
}
