package negotiation

import "github.com/pion/webrtc/v4"

// Event is an input to Machine.Handle. Transport callbacks, relay envelopes
// and local triggers are all delivered as events.
type Event interface {
	event()
}

// NegotiationNeeded is the local renegotiation trigger (call start, track
// added or removed).
type NegotiationNeeded struct{}

// RemoteOffer carries an inbound offer SDP.
type RemoteOffer struct {
	SDP string
}

// RemoteAnswer carries an inbound answer SDP.
type RemoteAnswer struct {
	SDP string
}

// RemoteCandidate carries an inbound ICE candidate.
type RemoteCandidate struct {
	Candidate webrtc.ICECandidateInit
}

// LocalCandidate is a candidate gathered by the local transport that must be
// relayed to the peer.
type LocalCandidate struct {
	Candidate webrtc.ICECandidateInit
}

// ConnectionStateChanged reports a transport connection state change.
type ConnectionStateChanged struct {
	State webrtc.PeerConnectionState
}

// SignalingStateChanged reports a transport signaling state change.
type SignalingStateChanged struct {
	State webrtc.SignalingState
}

// RemoteTrack reports a media track announced by the peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
}

// Close requests teardown of the session.
type Close struct {
	Reason string
}

func (NegotiationNeeded) event()      {}
func (RemoteOffer) event()            {}
func (RemoteAnswer) event()           {}
func (RemoteCandidate) event()        {}
func (LocalCandidate) event()         {}
func (ConnectionStateChanged) event() {}
func (SignalingStateChanged) event()  {}
func (RemoteTrack) event()            {}
func (Close) event()                  {}
