package signaling_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peercall/internal/relay"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// scripted serves one websocket connection, writing frames verbatim and
// then holding the connection until the client goes away.
func scripted(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatchInRelayOrder(t *testing.T) {
	srv := scripted(t,
		`{"type":"ice-candidate","name":"bob","candidate":{"candidate":"c1"}}`,
		`not json`,
		`{"type":"unknown"}`,
		`{"type":"rtc-offer","name":"bob","sdp":{"type":"offer","sdp":"o1"}}`,
		`{"type":"ice-candidate","name":"bob","candidate":{"candidate":"c2"}}`,
	)

	ch, err := signaling.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer ch.Close()

	got := make(chan string, 8)
	ch.On(signaling.TypeCandidate, func(env signaling.Envelope) { got <- env.Candidate.Candidate })
	ch.On(signaling.TypeRTCOffer, func(env signaling.Envelope) { got <- env.SDP.SDP })
	go ch.Run()

	for _, want := range []string{"c1", "o1", "c2"} {
		select {
		case v := <-got:
			require.Equal(t, want, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestDispatcherIsUsed(t *testing.T) {
	srv := scripted(t, `{"type":"message","name":"bob","text":"hi"}`)
	ch, err := signaling.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer ch.Close()

	posted := make(chan func(), 1)
	ch.SetDispatcher(func(fn func()) { posted <- fn })

	var text string
	ch.On(signaling.TypeMessage, func(env signaling.Envelope) { text = env.Text })
	go ch.Run()

	select {
	case fn := <-posted:
		require.Empty(t, text, "handler must not run before the dispatcher runs it")
		fn()
		require.Equal(t, "hi", text)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher never called")
	}
}

func TestConnectionLossReported(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			conn.UnderlyingConn().Close()
		}
	}))
	defer srv.Close()

	ch, err := signaling.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	lost := make(chan error, 1)
	ch.OnClose(func(err error) { lost <- err })
	runErr := ch.Run()
	require.Error(t, runErr)

	select {
	case err := <-lost:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close callback not called")
	}

	require.ErrorIs(t, ch.Send(signaling.Envelope{Type: signaling.TypeMessage}), signaling.ErrClosed)
}

func TestLocalCloseIsClean(t *testing.T) {
	srv := scripted(t)
	ch, err := signaling.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	var calls int
	ch.OnClose(func(err error) {
		require.NoError(t, err)
		calls++
	})

	done := make(chan error, 1)
	go func() { done <- ch.Run() }()
	require.NoError(t, ch.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	require.Equal(t, 1, calls)
}

func TestRoundTripThroughRelay(t *testing.T) {
	srv := httptest.NewServer(relay.NewHub().Router())
	defer srv.Close()

	alice, err := signaling.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer alice.Close()
	bob, err := signaling.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer bob.Close()

	rosters := make(chan []string, 4)
	texts := make(chan signaling.Envelope, 1)
	bob.On(signaling.TypeUserlist, func(env signaling.Envelope) { rosters <- env.Users })
	bob.On(signaling.TypeHangUp, func(env signaling.Envelope) { texts <- env })
	alice.On(signaling.TypeUserlist, func(env signaling.Envelope) { rosters <- env.Users })
	go alice.Run()
	go bob.Run()

	require.NoError(t, alice.Send(signaling.Envelope{Type: signaling.TypeUsername, Name: "alice"}))
	<-rosters
	require.NoError(t, bob.Send(signaling.Envelope{Type: signaling.TypeUsername, Name: "bob"}))
	require.Equal(t, []string{"alice", "bob"}, <-rosters)

	require.NoError(t, alice.Send(signaling.Envelope{Type: signaling.TypeHangUp, Name: "alice", Target: "bob"}))
	select {
	case env := <-texts:
		require.Equal(t, "alice", env.Sender())
	case <-time.After(5 * time.Second):
		t.Fatal("hang-up not forwarded")
	}
}
