// Package negotiation implements the per-peer offer/answer state machine:
// glare resolution between a polite and an impolite peer, queuing of remote
// ICE candidates until a remote description exists, and deterministic
// teardown on failure.
//
// The machine is driven exclusively through Machine.Handle and talks to the
// network through the Transport capability, so it can be exercised with a fake
// transport.
package negotiation

// State is the negotiation state of one peer session.
type State int

const (
	Idle State = iota
	Offering
	AwaitingAnswer
	ReceivedOffer
	Answering
	Stable
	Renegotiating
	Closed
)

var stateNames = [...]string{
	Idle:           "idle",
	Offering:       "offering",
	AwaitingAnswer: "awaiting-answer",
	ReceivedOffer:  "received-offer",
	Answering:      "answering",
	Stable:         "stable",
	Renegotiating:  "renegotiating",
	Closed:         "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state. The only backward
// edges are the glare rollbacks into ReceivedOffer.
var transitions = map[State][]State{
	Idle:           {Offering, ReceivedOffer, Closed},
	Offering:       {AwaitingAnswer, ReceivedOffer, Closed},
	AwaitingAnswer: {Stable, ReceivedOffer, Closed},
	ReceivedOffer:  {Answering, Closed},
	Answering:      {Stable, Closed},
	Stable:         {Renegotiating, ReceivedOffer, Closed},
	Renegotiating:  {Stable, ReceivedOffer, Closed},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HasLocalOffer reports whether a local offer is outstanding in s.
func (s State) HasLocalOffer() bool {
	return s == Offering || s == AwaitingAnswer || s == Renegotiating
}
