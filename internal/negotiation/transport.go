package negotiation

import "github.com/pion/webrtc/v4"

// Transport is the capability a session negotiates over. The pion
// implementation lives in internal/webrtc; tests use a fake.
//
// Callbacks are not exposed individually: the transport reports everything
// (gathered candidates, state changes, remote tracks) as Events through the
// sink registered with OnEvent.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	RemoveTrack(track webrtc.TrackLocal) error
	OnEvent(sink func(Event))
	Close() error
}

// DataChannel is an application channel carried by a transport.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}

// ChannelTransport is a Transport that can carry a pre-negotiated data
// channel. Both peers create the channel with the same id, so it never
// triggers renegotiation.
type ChannelTransport interface {
	Transport
	CreateNegotiatedChannel(label string, id uint16) (DataChannel, error)
}
