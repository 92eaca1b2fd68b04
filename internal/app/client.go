// Package app wires the relay connection, the event loop and the session
// registry into a calling client.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/eventloop"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/session"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
	"github.com/1ureka/peercall/internal/webrtc"
)

// ErrNotConnected is returned by commands issued before Connect.
var ErrNotConnected = errors.New("app: not connected to a relay")

// TransportFactory creates the transport for a new session with peer.
type TransportFactory func(peer string) (negotiation.ChannelTransport, error)

// Hooks are invoked on the event loop goroutine; they must not block.
type Hooks struct {
	// OnChat receives chat lines. direct is true for lines that arrived over
	// a data channel rather than through the relay.
	OnChat          func(from, text string, direct bool)
	OnRoster        func(users []string)
	OnSessionClosed func(peer string)
	OnRemoteTrack   func(peer string, track negotiation.RemoteTrack)
}

// Options configure a Client. Zero values select the pion transport and a
// synthetic media provider.
type Options struct {
	Config       config.Config
	Media        media.Provider
	NewTransport TransportFactory
	Hooks        Hooks
}

// Client is one user connected to a relay, able to call any user on the
// roster.
type Client struct {
	cfg          config.Config
	provider     media.Provider
	newTransport TransportFactory
	hooks        Hooks

	loop     *eventloop.Loop
	registry *session.Registry
	channel  *signaling.Channel
	connID   atomic.Int64
}

// New creates a client; Connect attaches it to the relay.
func New(opts Options) (*Client, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          opts.Config,
		provider:     opts.Media,
		newTransport: opts.NewTransport,
		hooks:        opts.Hooks,
		loop:         eventloop.New(opts.Config.Workers),
	}
	if c.provider == nil {
		c.provider = media.SyntheticProvider{}
	}
	if c.newTransport == nil {
		ice := opts.Config.ICEServers
		c.newTransport = func(string) (negotiation.ChannelTransport, error) {
			return webrtc.New(webrtc.Config{ICEServers: ice})
		}
	}

	c.registry = session.NewRegistry(c.cfg.Name, c.newSession)
	c.registry.Roster().OnChange(func(users []string) {
		util.LogInfo("online: %v", users)
		if c.hooks.OnRoster != nil {
			c.hooks.OnRoster(users)
		}
	})
	return c, nil
}

// Name returns the local identity.
func (c *Client) Name() string { return c.cfg.Name }

// ConnectionID returns the id the relay assigned to this connection, or 0
// before the relay has sent it.
func (c *Client) ConnectionID() int { return int(c.connID.Load()) }

// Roster returns the other users currently online.
func (c *Client) Roster() []string { return c.registry.Roster().Users() }

// Sessions returns the peers with a live session.
func (c *Client) Sessions() []string { return c.registry.Peers() }

// Connect dials the relay, registers the handlers and announces the local
// name. Envelopes are dispatched once Run is called.
func (c *Client) Connect(ctx context.Context) error {
	ch, err := signaling.Dial(ctx, c.cfg.RelayURL)
	if err != nil {
		return err
	}
	c.attach(ch)

	if err := ch.Send(signaling.Envelope{Type: signaling.TypeUsername, Name: c.cfg.Name}); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to register as %q: %w", c.cfg.Name, err)
	}
	util.LogSuccess("connected to %s as %q", c.cfg.RelayURL, c.cfg.Name)
	return nil
}

// Run processes relay envelopes and session events until ctx is cancelled or
// the relay connection ends. Every session is closed before it returns.
func (c *Client) Run(ctx context.Context) error {
	if c.channel == nil {
		return ErrNotConnected
	}

	go func() {
		if err := c.loop.Run(context.Background()); err != nil {
			util.LogError("event loop stopped: %v", err)
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.channel.Close()
		case <-c.channel.Done():
		}
	}()

	err := c.channel.Run()
	if err != nil {
		util.LogWarning("%v", err)
	}

	_ = c.loop.Call(context.Background(), func() {
		c.registry.CloseAll("relay connection closed")
	})
	c.loop.Stop()
	<-c.loop.Done()
	return err
}

// Close disconnects from the relay; Run returns afterwards.
func (c *Client) Close() error {
	if c.channel == nil {
		return nil
	}
	return c.channel.Close()
}

// Call starts a call with peer, creating its session if needed.
func (c *Client) Call(ctx context.Context, peer string) error {
	var callErr error
	if err := c.do(ctx, func() {
		s, _, err := c.registry.Ensure(peer)
		if err != nil {
			callErr = err
			return
		}
		callErr = s.Call()
	}); err != nil {
		return err
	}
	return callErr
}

// HangUp ends the call with peer and tells them so.
func (c *Client) HangUp(ctx context.Context, peer string) error {
	return c.do(ctx, func() {
		if s, ok := c.registry.Get(peer); ok {
			s.HangUp()
		}
	})
}

// Say sends a chat line. In data mode it goes directly over every open data
// channel; without one it is broadcast through the relay.
func (c *Client) Say(ctx context.Context, text string) error {
	var sayErr error
	if err := c.do(ctx, func() {
		direct := 0
		for _, peer := range c.registry.Peers() {
			s, ok := c.registry.Get(peer)
			if !ok {
				continue
			}
			d, ok := s.(*session.DataPeer)
			if !ok || !d.Open() {
				continue
			}
			if err := d.Send(text); err != nil {
				util.LogWarning("failed to send chat to %s: %v", peer, err)
				continue
			}
			direct++
		}
		if direct > 0 {
			return
		}
		sayErr = c.send(signaling.Envelope{Type: signaling.TypeMessage, Name: c.cfg.Name, Text: text})
	}); err != nil {
		return err
	}
	return sayErr
}

// SessionState reports the negotiation state of the session with peer.
func (c *Client) SessionState(ctx context.Context, peer string) (negotiation.State, bool, error) {
	var (
		state negotiation.State
		found bool
	)
	err := c.do(ctx, func() {
		if s, ok := c.registry.Get(peer); ok {
			state, found = s.State(), true
		}
	})
	return state, found, err
}

func (c *Client) do(ctx context.Context, fn func()) error {
	if c.channel == nil {
		return ErrNotConnected
	}
	return c.loop.Call(ctx, fn)
}

func (c *Client) send(env signaling.Envelope) error {
	if c.channel == nil {
		return ErrNotConnected
	}
	return c.channel.Send(env)
}

// newSession is the registry factory.
func (c *Client) newSession(peer string) (session.Session, error) {
	tr, err := c.newTransport(peer)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport for %s: %w", peer, err)
	}

	opts := session.Options{
		Local:         c.cfg.Name,
		Remote:        peer,
		Transport:     tr,
		Sender:        relaySender(c.send),
		Scheduler:     c.loop,
		Dialect:       c.cfg.SignalingDialect(),
		Debounce:      c.cfg.NegotiationDebounce,
		OnClosed:      c.sessionClosed,
		OnRemoteTrack: c.hooks.OnRemoteTrack,
	}

	var s session.Session
	if c.cfg.Mode == config.ModeData {
		s, err = session.NewDataPeer(opts, c.directChat)
	} else {
		opts.Media = c.provider
		opts.Constraints = c.cfg.Constraints()
		s, err = session.NewPeer(opts)
	}
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	return s, nil
}

func (c *Client) sessionClosed(s session.Session) {
	c.registry.Remove(s.ID(), s)
	if c.hooks.OnSessionClosed != nil {
		c.hooks.OnSessionClosed(s.ID())
	}
}

func (c *Client) directChat(peer string, f *protocol.Frame) {
	if c.hooks.OnChat != nil {
		c.hooks.OnChat(f.Name, f.Text, true)
	}
}

// relaySender adapts a send function to session.Sender.
type relaySender func(signaling.Envelope) error

func (f relaySender) Send(env signaling.Envelope) error { return f(env) }
