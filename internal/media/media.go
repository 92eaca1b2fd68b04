// Package media describes local capture: the constraints a session asks for
// and the tracks a provider hands back.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ErrNoDevices is returned by a provider that has nothing to capture.
var ErrNoDevices = errors.New("media: no capture devices available")

// Constraints mirror getUserMedia constraints.
type Constraints struct {
	Audio bool
	Video *VideoConstraints
}

// VideoConstraints hold the requested video shape.
type VideoConstraints struct {
	AspectRatio float64
}

// Provider acquires local tracks. Acquire may block; sessions call it off
// the event loop.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) ([]*Track, error)
}

// Track is a local media track. It embeds the pion sample track so it can be
// attached to a transport directly, and adds an idempotent Stop.
type Track struct {
	*webrtc.TrackLocalStaticSample
	stopped atomic.Bool
}

// NewTrack creates a local track for the given codec.
func NewTrack(mimeType, id, streamID string) (*Track, error) {
	raw, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", mimeType, err)
	}
	return &Track{TrackLocalStaticSample: raw}, nil
}

// Stop releases the track. It reports whether this call stopped it; later
// calls are no-ops.
func (t *Track) Stop() bool {
	return t.stopped.CompareAndSwap(false, true)
}

// Active reports whether the track has not been stopped.
func (t *Track) Active() bool {
	return !t.stopped.Load()
}

// StopAll stops every track and returns how many were still active.
func StopAll(tracks []*Track) int {
	n := 0
	for _, t := range tracks {
		if t.Stop() {
			n++
		}
	}
	return n
}

// SyntheticProvider produces sample tracks (Opus audio, VP8 video) without
// touching any device. Samples are written by the caller, if at all.
type SyntheticProvider struct{}

// Acquire implements Provider.
func (SyntheticProvider) Acquire(ctx context.Context, c Constraints) ([]*Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && c.Video == nil {
		return nil, ErrNoDevices
	}

	streamID := uuid.NewString()
	var tracks []*Track

	if c.Audio {
		t, err := NewTrack(webrtc.MimeTypeOpus, "audio-"+uuid.NewString(), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video != nil {
		t, err := NewTrack(webrtc.MimeTypeVP8, "video-"+uuid.NewString(), streamID)
		if err != nil {
			StopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// FailingProvider always fails with Err. It stands in for a machine without
// camera or microphone.
type FailingProvider struct {
	Err error
}

// Acquire implements Provider.
func (p FailingProvider) Acquire(context.Context, Constraints) ([]*Track, error) {
	if p.Err == nil {
		return nil, ErrNoDevices
	}
	return nil, p.Err
}
