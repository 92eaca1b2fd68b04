// Package protocol defines the application frames exchanged directly over an
// open data channel, bypassing the relay.
package protocol

// Frame type constants.
const (
	TypeMessage = "message" // chat text
	TypeHangUp  = "hang-up" // peer is leaving the channel
)

// MaxFrameSize bounds an encoded frame; larger frames are rejected on both
// encode and decode.
const MaxFrameSize = 16 * 1024

// Frame is one JSON application message on the data channel.
type Frame struct {
	Type string `json:"type"`           // TypeMessage or TypeHangUp
	Name string `json:"name,omitempty"` // sender identity
	Text string `json:"text,omitempty"` // only used for TypeMessage
}
