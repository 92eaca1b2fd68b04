package negotiation_test

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/negotiation/negotiationtest"
	"github.com/1ureka/peercall/internal/util"
)

func TestMain(m *testing.M) {
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// endpoint is one side of a negotiation with its outbox.
type endpoint struct {
	name string
	tr   *negotiationtest.Transport
	m    *negotiation.Machine
	out  []negotiation.Message
}

func newEndpoint(local, remote string) *endpoint {
	e := &endpoint{name: local, tr: negotiationtest.New(local)}
	e.m = negotiation.NewMachine(local, remote, e.tr, func(msg negotiation.Message) error {
		e.out = append(e.out, msg)
		return nil
	})
	return e
}

// take returns and clears the outbox.
func (e *endpoint) take() []negotiation.Message {
	out := e.out
	e.out = nil
	return out
}

// deliver hands msgs to e as if they came through the relay.
func (e *endpoint) deliver(t *testing.T, msgs []negotiation.Message) {
	t.Helper()
	for _, msg := range msgs {
		var ev negotiation.Event
		switch msg.Kind {
		case negotiation.KindOffer:
			ev = negotiation.RemoteOffer{SDP: msg.Description.SDP}
		case negotiation.KindAnswer:
			ev = negotiation.RemoteAnswer{SDP: msg.Description.SDP}
		case negotiation.KindCandidate:
			ev = negotiation.RemoteCandidate{Candidate: *msg.Candidate}
		}
		require.NoError(t, e.m.Handle(ev))
	}
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}

func TestOfferAnswer(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	bob := newEndpoint("bob", "alice")

	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	require.Equal(t, negotiation.AwaitingAnswer, alice.m.State())

	offers := alice.take()
	require.Len(t, offers, 1)
	require.Equal(t, negotiation.KindOffer, offers[0].Kind)

	bob.deliver(t, offers)
	require.Equal(t, negotiation.Stable, bob.m.State())

	answers := bob.take()
	require.Len(t, answers, 1)
	require.Equal(t, negotiation.KindAnswer, answers[0].Kind)

	alice.deliver(t, answers)
	require.Equal(t, negotiation.Stable, alice.m.State())
	require.Equal(t, webrtc.SignalingStateStable, alice.tr.SignalingState())
	require.Equal(t, webrtc.SignalingStateStable, bob.tr.SignalingState())
}

func TestCandidatesQueuedUntilRemoteOffer(t *testing.T) {
	bob := newEndpoint("bob", "alice")

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, bob.m.Handle(negotiation.RemoteCandidate{Candidate: candidate(c)}))
	}
	require.Equal(t, 3, bob.m.Pending())
	require.Empty(t, bob.tr.Applied())

	require.NoError(t, bob.m.Handle(negotiation.RemoteOffer{SDP: "offer-alice-1"}))
	require.Zero(t, bob.m.Pending())
	require.Equal(t, []webrtc.ICECandidateInit{candidate("c1"), candidate("c2"), candidate("c3")}, bob.tr.Applied())

	// Later candidates go straight through.
	require.NoError(t, bob.m.Handle(negotiation.RemoteCandidate{Candidate: candidate("c4")}))
	require.Len(t, bob.tr.Applied(), 4)
}

func TestCandidatesQueuedUntilRemoteAnswer(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))

	require.NoError(t, alice.m.Handle(negotiation.RemoteCandidate{Candidate: candidate("early")}))
	require.Empty(t, alice.tr.Applied())
	require.False(t, alice.m.RemoteSet())

	require.NoError(t, alice.m.Handle(negotiation.RemoteAnswer{SDP: "answer-bob-1"}))
	require.Equal(t, []webrtc.ICECandidateInit{candidate("early")}, alice.tr.Applied())
}

func TestLocalCandidateIsEmitted(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	require.NoError(t, alice.m.Handle(negotiation.LocalCandidate{Candidate: candidate("host")}))

	out := alice.take()
	require.Len(t, out, 1)
	require.Equal(t, negotiation.KindCandidate, out[0].Kind)
	require.Equal(t, "host", out[0].Candidate.Candidate)
}

func TestGlareConverges(t *testing.T) {
	alice := newEndpoint("alice", "bob") // polite
	bob := newEndpoint("bob", "alice")   // impolite
	require.True(t, alice.m.Polite())
	require.False(t, bob.m.Polite())

	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	require.NoError(t, bob.m.Handle(negotiation.NegotiationNeeded{}))
	aliceOffer, bobOffer := alice.take(), bob.take()

	// Both offers cross in the relay.
	bob.deliver(t, aliceOffer)
	require.Equal(t, negotiation.AwaitingAnswer, bob.m.State(), "impolite peer keeps its offer")
	require.Empty(t, bob.take())

	alice.deliver(t, bobOffer)
	out := alice.take()
	require.Len(t, out, 2, "polite peer answers, then re-offers its own tracks")
	require.Equal(t, negotiation.KindAnswer, out[0].Kind)
	require.Equal(t, negotiation.KindOffer, out[1].Kind)
	require.Equal(t, negotiation.Renegotiating, alice.m.State())

	bob.deliver(t, out[:1])
	require.Equal(t, negotiation.Stable, bob.m.State(), "the impolite offer wins")

	bob.deliver(t, out[1:])
	alice.deliver(t, bob.take())
	require.Equal(t, negotiation.Stable, alice.m.State())
	require.Equal(t, negotiation.Stable, bob.m.State())
	require.Equal(t, 1, alice.tr.Rollbacks())
	require.Zero(t, bob.tr.Rollbacks())
}

func TestGlareWhileRenegotiating(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	bob := newEndpoint("bob", "alice")

	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	bob.deliver(t, alice.take())
	alice.deliver(t, bob.take())
	require.Equal(t, negotiation.Stable, alice.m.State())
	require.Equal(t, negotiation.Stable, bob.m.State())

	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	require.NoError(t, bob.m.Handle(negotiation.NegotiationNeeded{}))
	require.Equal(t, negotiation.Renegotiating, alice.m.State())
	require.Equal(t, negotiation.Renegotiating, bob.m.State())
	aliceOffer, bobOffer := alice.take(), bob.take()

	bob.deliver(t, aliceOffer)
	require.True(t, bob.m.IgnoringOffer())
	alice.deliver(t, bobOffer)
	require.Equal(t, 1, alice.tr.Rollbacks())

	bob.deliver(t, alice.take())
	alice.deliver(t, bob.take())
	require.Equal(t, negotiation.Stable, alice.m.State())
	require.Equal(t, negotiation.Stable, bob.m.State())
}

func TestAnswerEndsIgnoredOffer(t *testing.T) {
	bob := newEndpoint("bob", "alice")
	require.NoError(t, bob.m.Handle(negotiation.NegotiationNeeded{}))
	bob.take()

	require.NoError(t, bob.m.Handle(negotiation.RemoteOffer{SDP: "offer-alice-1"}))
	require.True(t, bob.m.IgnoringOffer())

	require.NoError(t, bob.m.Handle(negotiation.RemoteAnswer{SDP: "answer-alice-1"}))
	require.False(t, bob.m.IgnoringOffer())
	require.Equal(t, negotiation.Stable, bob.m.State())
}

func TestGlareRollbackKeepsTracks(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "stream")
	require.NoError(t, err)
	require.NoError(t, alice.tr.AddTrack(track))

	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	require.NoError(t, alice.m.Handle(negotiation.RemoteOffer{SDP: "offer-bob-1"}))

	require.Equal(t, 1, alice.tr.TrackCount())
	require.Equal(t, 1, alice.tr.Rollbacks())
	require.Equal(t, 2, alice.tr.Offers(), "discarded offer is re-issued")
}

func TestDeferredRenegotiation(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	alice.take()

	// A track change while the first offer is outstanding.
	require.NoError(t, alice.m.Handle(negotiation.NegotiationNeeded{}))
	require.Empty(t, alice.take())

	require.NoError(t, alice.m.Handle(negotiation.RemoteAnswer{SDP: "answer-bob-1"}))
	out := alice.take()
	require.Len(t, out, 1)
	require.Equal(t, negotiation.KindOffer, out[0].Kind)
	require.Equal(t, negotiation.Renegotiating, alice.m.State())
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	bob := newEndpoint("bob", "alice")
	require.NoError(t, bob.m.Handle(negotiation.RemoteAnswer{SDP: "stray"}))
	require.Equal(t, negotiation.Idle, bob.m.State())
	require.Nil(t, bob.tr.RemoteDescription())
}

func TestTransportFailureCloses(t *testing.T) {
	for _, state := range []webrtc.PeerConnectionState{
		webrtc.PeerConnectionStateClosed,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
	} {
		t.Run(state.String(), func(t *testing.T) {
			alice := newEndpoint("alice", "bob")
			err := alice.m.Handle(negotiation.ConnectionStateChanged{State: state})

			var f *negotiation.Failure
			require.ErrorAs(t, err, &f)
			require.Equal(t, negotiation.TransportFailure, f.Kind)
			require.Equal(t, negotiation.Closed, alice.m.State())

			err = alice.m.Handle(negotiation.NegotiationNeeded{})
			require.ErrorIs(t, err, negotiation.ErrClosed)
		})
	}
}

func TestConnectedStateIsNotTeardown(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	require.NoError(t, alice.m.Handle(negotiation.ConnectionStateChanged{State: webrtc.PeerConnectionStateConnected}))
	require.Equal(t, negotiation.Idle, alice.m.State())
}

func TestSignalingClosedCloses(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	require.NoError(t, alice.m.Handle(negotiation.SignalingStateChanged{State: webrtc.SignalingStateClosed}))
	require.Equal(t, negotiation.Closed, alice.m.State())
}

func TestRemoteDescriptionFailureCloses(t *testing.T) {
	bob := newEndpoint("bob", "alice")
	bob.tr.FailSetRemote = errors.New("bad sdp")
	require.NoError(t, bob.m.Handle(negotiation.RemoteCandidate{Candidate: candidate("c1")}))

	err := bob.m.Handle(negotiation.RemoteOffer{SDP: "garbage"})
	var f *negotiation.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, negotiation.Negotiation, f.Kind)
	require.Equal(t, "alice", f.Peer)
	require.Equal(t, negotiation.Closed, bob.m.State())
	require.Zero(t, bob.m.Pending())
	require.Empty(t, bob.take())
}

func TestSendFailureIsReportedNotFatal(t *testing.T) {
	tr := negotiationtest.New("alice")
	m := negotiation.NewMachine("alice", "bob", tr, func(negotiation.Message) error {
		return errors.New("relay down")
	})

	err := m.Handle(negotiation.NegotiationNeeded{})
	var f *negotiation.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, negotiation.RelaySend, f.Kind)
	require.Equal(t, negotiation.AwaitingAnswer, m.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	alice := newEndpoint("alice", "bob")
	var closes int
	alice.m.OnTransition(func(_, to negotiation.State) {
		if to == negotiation.Closed {
			closes++
		}
	})
	require.NoError(t, alice.m.Handle(negotiation.Close{Reason: "hang-up"}))
	require.NoError(t, alice.m.Handle(negotiation.Close{Reason: "again"}))
	require.Equal(t, 1, closes)
	require.Equal(t, "hang-up", alice.m.CloseReason())
}
