package webrtc

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/negotiation"
)

// inspect parses a description before it reaches the PeerConnection and
// returns a one-line summary of its media sections for logging.
func inspect(desc webrtc.SessionDescription) (string, error) {
	if desc.Type == webrtc.SDPTypeRollback {
		return "rollback", nil
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return "", fmt.Errorf("%w: %v", negotiation.ErrMalformedDescription, err)
	}
	return summarize(&parsed), nil
}

func summarize(sd *sdp.SessionDescription) string {
	if len(sd.MediaDescriptions) == 0 {
		return "no media sections"
	}
	parts := make([]string, 0, len(sd.MediaDescriptions))
	for _, md := range sd.MediaDescriptions {
		dir := "sendrecv"
		for _, a := range md.Attributes {
			switch a.Key {
			case "sendrecv", "sendonly", "recvonly", "inactive":
				dir = a.Key
			}
		}
		parts = append(parts, md.MediaName.Media+"/"+dir)
	}
	return strings.Join(parts, ", ")
}
