package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Type identifies the kind of relay envelope.
type Type string

const (
	TypeID          Type = "id"
	TypeUsername    Type = "username"
	TypeUserlist    Type = "userlist"
	TypeNewUser     Type = "new-user"
	TypeMessage     Type = "message"
	TypeOffer       Type = "offer"
	TypeRTCOffer    Type = "rtc-offer"
	TypeVideoOffer  Type = "video-offer"
	TypeAnswer      Type = "answer"
	TypeRTCAnswer   Type = "rtc-answer"
	TypeVideoAnswer Type = "video-answer"
	TypeCandidate   Type = "ice-candidate"
	TypeHangUp      Type = "hang-up"
)

// OfferTypes and AnswerTypes list every accepted spelling.
var (
	OfferTypes  = []Type{TypeOffer, TypeRTCOffer, TypeVideoOffer}
	AnswerTypes = []Type{TypeAnswer, TypeRTCAnswer, TypeVideoAnswer}
)

// IsOffer reports whether t is any offer spelling.
func (t Type) IsOffer() bool {
	return t == TypeOffer || t == TypeRTCOffer || t == TypeVideoOffer
}

// IsAnswer reports whether t is any answer spelling.
func (t Type) IsAnswer() bool {
	return t == TypeAnswer || t == TypeRTCAnswer || t == TypeVideoAnswer
}

// Envelope is the JSON structure exchanged with the relay. Only the fields
// relevant to Type are set.
type Envelope struct {
	Type      Type                       `json:"type"`
	Name      string                     `json:"name,omitempty"`     // sender identity
	Username  string                     `json:"username,omitempty"` // new-user; legacy sender field
	Target    string                     `json:"target,omitempty"`
	ID        int                        `json:"id,omitempty"`
	Users     []string                   `json:"users,omitempty"`
	Text      string                     `json:"text,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Sender returns the identity the envelope came from.
func (e Envelope) Sender() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Username
}

// Dialect selects which offer/answer spelling is sent. All spellings are
// accepted on receive.
type Dialect string

const (
	DialectPlain Dialect = "plain"
	DialectRTC   Dialect = "rtc"
	DialectVideo Dialect = "video"
)

// ParseDialect validates a dialect name; empty selects DialectPlain.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case "":
		return DialectPlain, nil
	case DialectPlain, DialectRTC, DialectVideo:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unknown signaling dialect %q (want plain, rtc or video)", s)
}

// Offer returns the offer type of the dialect.
func (d Dialect) Offer() Type {
	switch d {
	case DialectRTC:
		return TypeRTCOffer
	case DialectVideo:
		return TypeVideoOffer
	default:
		return TypeOffer
	}
}

// Answer returns the answer type of the dialect.
func (d Dialect) Answer() Type {
	switch d {
	case DialectRTC:
		return TypeRTCAnswer
	case DialectVideo:
		return TypeVideoAnswer
	default:
		return TypeAnswer
	}
}
