package session_test

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/negotiation/negotiationtest"
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/session"
	"github.com/1ureka/peercall/internal/signaling"
)

type chatLog struct {
	frames []*protocol.Frame
	peers  []string
}

func newDataPeer(t *testing.T, h *harness, local, remote string) (*session.DataPeer, *negotiationtest.Channel, *chatLog) {
	t.Helper()
	log := &chatLog{}
	d, err := session.NewDataPeer(h.options(local, remote, media.SyntheticProvider{}), func(peer string, f *protocol.Frame) {
		log.peers = append(log.peers, peer)
		log.frames = append(log.frames, f)
	})
	require.NoError(t, err)

	channels := h.tr.Channels()
	require.Len(t, channels, 1)
	return d, channels[0], log
}

func TestDataPeerUsesNegotiatedChannel(t *testing.T) {
	h := newHarness("alice")
	_, ch, _ := newDataPeer(t, h, "alice", "bob")

	require.Equal(t, session.ChannelLabel, ch.Label())
	require.Equal(t, session.ChannelID, ch.ID())
}

func TestDataPeerOffersOnce(t *testing.T) {
	h := newHarness("alice")
	d, _, _ := newDataPeer(t, h, "alice", "bob")

	require.NoError(t, d.Call())
	require.ErrorIs(t, d.Call(), session.ErrAlreadyOffered)
	h.loop.drain()
	require.Equal(t, []signaling.Type{signaling.TypeOffer}, h.out.types())
	require.Empty(t, d.Tracks(), "data sessions never capture media")

	d.HandleAnswer("answer-bob-1")
	track, err := media.NewTrack(webrtc.MimeTypeOpus, "mic", "stream")
	require.NoError(t, err)
	require.NoError(t, d.AddTrack(track))
	require.Len(t, h.out.types(), 1, "adding a track must not renegotiate")
}

func TestDataPeerSendRequiresOpenChannel(t *testing.T) {
	h := newHarness("alice")
	d, ch, _ := newDataPeer(t, h, "alice", "bob")

	require.ErrorIs(t, d.Send("hi"), session.ErrNotOpen)

	ch.Open()
	h.loop.drain()
	require.True(t, d.Open())
	require.NoError(t, d.Send("hi"))

	sent := ch.Sent()
	require.Len(t, sent, 1)
	f, err := protocol.Decode(sent[0])
	require.NoError(t, err)
	require.Equal(t, &protocol.Frame{Type: protocol.TypeMessage, Name: "alice", Text: "hi"}, f)

	ch.Disconnect()
	h.loop.drain()
	require.False(t, d.Open())
	require.ErrorIs(t, d.Send("again"), session.ErrNotOpen)
}

func TestDataPeerReceivesFrames(t *testing.T) {
	h := newHarness("alice")
	d, ch, log := newDataPeer(t, h, "alice", "bob")
	ch.Open()

	msg, err := protocol.Encode(&protocol.Frame{Type: protocol.TypeMessage, Text: "hello"})
	require.NoError(t, err)
	ch.Deliver(msg)
	ch.Deliver([]byte("{not json"))
	h.loop.drain()

	require.Equal(t, []string{"bob"}, log.peers)
	require.Equal(t, "hello", log.frames[0].Text)
	require.Equal(t, "bob", log.frames[0].Name)
	require.False(t, d.Closed())

	bye, err := protocol.Encode(&protocol.Frame{Type: protocol.TypeHangUp, Name: "bob"})
	require.NoError(t, err)
	ch.Deliver(bye)
	h.loop.drain()

	require.True(t, d.Closed())
	require.True(t, ch.Closed())
	require.Len(t, h.closed, 1)
	require.Same(t, d, h.closed[0])
}

func TestDataPeerHangUpSaysGoodbyeOnChannel(t *testing.T) {
	h := newHarness("alice")
	d, ch, _ := newDataPeer(t, h, "alice", "bob")
	ch.Open()
	h.loop.drain()

	d.HangUp()

	sent := ch.Sent()
	require.Len(t, sent, 1)
	f, err := protocol.Decode(sent[0])
	require.NoError(t, err)
	require.Equal(t, protocol.TypeHangUp, f.Type)
	require.Equal(t, []signaling.Type{signaling.TypeHangUp}, h.out.types())
	require.True(t, d.Closed())
}
