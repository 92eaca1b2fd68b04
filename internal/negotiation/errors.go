package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for events delivered to a closed machine.
	ErrClosed = errors.New("negotiation: session closed")
	// ErrInvalidTransition is returned when a state change is not allowed.
	ErrInvalidTransition = errors.New("negotiation: invalid state transition")
	// ErrMalformedDescription marks a session description that failed to parse.
	ErrMalformedDescription = errors.New("negotiation: malformed session description")
)

// FailureKind classifies a session failure.
type FailureKind int

const (
	MediaAcquisition FailureKind = iota + 1
	Negotiation
	TransportFailure
	RelaySend
)

func (k FailureKind) String() string {
	switch k {
	case MediaAcquisition:
		return "media-acquisition"
	case Negotiation:
		return "negotiation"
	case TransportFailure:
		return "transport"
	case RelaySend:
		return "relay-send"
	default:
		return "unknown"
	}
}

// Failure is the error produced when one session fails. It never affects
// other sessions.
type Failure struct {
	Kind FailureKind
	Peer string
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s failure with %s during %s", f.Kind, f.Peer, f.Op)
	}
	return fmt.Sprintf("%s failure with %s during %s: %v", f.Kind, f.Peer, f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }
