package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/peercall/internal/negotiation"
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

// The chat channel is negotiated out of band on both sides with a fixed id,
// so neither peer waits for an OnDataChannel announcement.
const (
	ChannelLabel        = "chat"
	ChannelID    uint16 = 0
)

// DataPeer is the DataChannelSession: a Peer without local media that
// carries chat frames over a pre-negotiated data channel. Adding tracks never
// triggers renegotiation, and the initial offer is sent exactly once on Call.
type DataPeer struct {
	*Peer

	channel   negotiation.DataChannel
	offered   bool
	open      bool
	onMessage func(peer string, f *protocol.Frame)
}

var _ Session = (*DataPeer)(nil)

// NewDataPeer creates the session and its negotiated channel. opts.Media is
// ignored; the transport must implement negotiation.ChannelTransport.
func NewDataPeer(opts Options, onMessage func(peer string, f *protocol.Frame)) (*DataPeer, error) {
	ct, ok := opts.Transport.(negotiation.ChannelTransport)
	if !ok {
		return nil, errors.New("session: transport does not support negotiated data channels")
	}
	opts.Media = nil

	p, err := NewPeer(opts)
	if err != nil {
		return nil, err
	}
	p.autoNegotiate = false

	ch, err := ct.CreateNegotiatedChannel(ChannelLabel, ChannelID)
	if err != nil {
		p.Close("data channel setup failed")
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	d := &DataPeer{Peer: p, channel: ch, onMessage: onMessage}
	p.self = d
	p.addCleanup(ch.Close)

	gen := p.gen
	ch.OnOpen(func() {
		p.sched.Post(func() {
			if p.stale(gen) {
				return
			}
			d.open = true
			util.LogSuccess("data channel with %s is open", p.id)
		})
	})
	ch.OnClose(func() {
		p.sched.Post(func() {
			if p.stale(gen) {
				return
			}
			d.open = false
			util.LogInfo("data channel with %s closed", p.id)
		})
	})
	ch.OnMessage(func(data []byte) {
		buf := append([]byte(nil), data...)
		p.sched.Post(func() {
			if !p.stale(gen) {
				d.receive(buf)
			}
		})
	})

	return d, nil
}

// Call sends the one initial offer. A second call returns ErrAlreadyOffered.
func (d *DataPeer) Call() error {
	if d.closed {
		return negotiation.ErrClosed
	}
	if d.offered {
		return ErrAlreadyOffered
	}
	d.offered = true
	d.opened = true
	d.initiator = true
	d.handle(negotiation.NegotiationNeeded{})
	return nil
}

// Prepare is a no-op: there is no local media to acquire.
func (d *DataPeer) Prepare() {}

// Open reports whether the channel is ready for Send.
func (d *DataPeer) Open() bool { return d.open && !d.closed }

// Send writes one chat line to the peer.
func (d *DataPeer) Send(text string) error {
	if !d.Open() {
		return ErrNotOpen
	}
	data, err := protocol.Encode(&protocol.Frame{Type: protocol.TypeMessage, Name: d.local, Text: text})
	if err != nil {
		return err
	}
	return d.channel.Send(data)
}

// HangUp says goodbye on the channel when it is open, then over the relay.
func (d *DataPeer) HangUp() {
	if d.Open() {
		if data, err := protocol.Encode(&protocol.Frame{Type: protocol.TypeHangUp, Name: d.local}); err == nil {
			if err := d.channel.Send(data); err != nil {
				util.LogDebug("failed to send hang-up frame to %s: %v", d.id, err)
			}
		}
	}
	d.Peer.HangUp()
}

func (d *DataPeer) receive(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		util.LogWarning("malformed frame from %s: %v", d.id, err)
		return
	}
	switch f.Type {
	case protocol.TypeMessage:
		if f.Name == "" {
			f.Name = d.id
		}
		if d.onMessage != nil {
			d.onMessage(d.id, f)
		}
	case protocol.TypeHangUp:
		d.Close("peer hung up")
	default:
		util.LogDebug("ignoring %q frame from %s", f.Type, d.id)
	}
}
