// Package session owns one negotiation per remote peer: the PeerSession with
// its local tracks and transport handle, the data channel variant, and the
// registry that guarantees a single live session per identity.
//
// Every method in this package except those of Registry and Roster must be
// called from the event loop that owns the sessions.
package session

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/signaling"
)

var (
	// ErrSelf is returned when asked for a session with the local identity.
	ErrSelf = errors.New("session: cannot open a session with yourself")
	// ErrAlreadyOffered is returned by a data session asked to offer twice.
	ErrAlreadyOffered = errors.New("session: initial offer already sent")
	// ErrNotOpen is returned when sending on a data channel that is not open.
	ErrNotOpen = errors.New("session: data channel is not open")
)

// Scheduler is the event loop a session runs on.
type Scheduler interface {
	// Post queues fn on the loop.
	Post(fn func()) bool
	// Go runs blocking work off the loop.
	Go(work func())
}

// Sender delivers envelopes to the relay. *signaling.Channel implements it.
type Sender interface {
	Send(env signaling.Envelope) error
}

// Session is what the registry stores: a PeerSession or a DataChannelSession.
type Session interface {
	ID() string
	State() negotiation.State
	Polite() bool
	Closed() bool

	// Call starts a locally initiated negotiation.
	Call() error
	// Prepare readies the session for a remotely initiated negotiation.
	Prepare()

	HandleOffer(sdp string)
	HandleAnswer(sdp string)
	HandleCandidate(c webrtc.ICECandidateInit)

	// HangUp tells the peer and closes; Close closes silently.
	HangUp()
	Close(reason string)
}

// Options configure a session.
type Options struct {
	Local     string
	Remote    string
	Transport negotiation.Transport
	Sender    Sender
	Scheduler Scheduler
	Dialect   signaling.Dialect

	// Media and Constraints describe local capture; a nil Media means the
	// session carries no local tracks.
	Media       media.Provider
	Constraints media.Constraints

	// Debounce coalesces bursts of track changes into one renegotiation.
	Debounce time.Duration

	OnClosed      func(Session)
	OnRemoteTrack func(peer string, track negotiation.RemoteTrack)
}
