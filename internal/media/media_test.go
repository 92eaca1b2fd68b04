package media

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestSyntheticProvider(t *testing.T) {
	tracks, err := SyntheticProvider{}.Acquire(context.Background(), Constraints{
		Audio: true,
		Video: &VideoConstraints{AspectRatio: 1.333333},
	})
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	require.Equal(t, webrtc.RTPCodecTypeAudio, tracks[0].Kind())
	require.Equal(t, webrtc.RTPCodecTypeVideo, tracks[1].Kind())
	require.Equal(t, tracks[0].StreamID(), tracks[1].StreamID())
	require.NotEqual(t, tracks[0].ID(), tracks[1].ID())
}

func TestSyntheticProviderNothingRequested(t *testing.T) {
	_, err := SyntheticProvider{}.Acquire(context.Background(), Constraints{})
	require.ErrorIs(t, err, ErrNoDevices)
}

func TestStopIsIdempotent(t *testing.T) {
	track, err := NewTrack(webrtc.MimeTypeOpus, "a", "s")
	require.NoError(t, err)

	require.True(t, track.Active())
	require.True(t, track.Stop())
	require.False(t, track.Stop())
	require.False(t, track.Active())
	require.Zero(t, StopAll([]*Track{track}))
}
