package app

import (
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

// attach registers one handler per envelope type. Handlers run on the event
// loop in relay order.
func (c *Client) attach(ch *signaling.Channel) {
	c.channel = ch
	ch.SetDispatcher(func(fn func()) {
		if !c.loop.Post(fn) {
			util.LogDebug("event loop stopped, dropping relay envelope")
		}
	})
	ch.OnClose(func(err error) {
		if err != nil {
			util.LogWarning("relay connection lost: %v", err)
			return
		}
		util.LogInfo("relay connection closed")
	})

	ch.On(signaling.TypeID, c.onID)
	ch.On(signaling.TypeUserlist, c.onUserlist)
	ch.On(signaling.TypeNewUser, c.onNewUser)
	ch.On(signaling.TypeMessage, c.onMessage)
	for _, t := range signaling.OfferTypes {
		ch.On(t, c.onOffer)
	}
	for _, t := range signaling.AnswerTypes {
		ch.On(t, c.onAnswer)
	}
	ch.On(signaling.TypeCandidate, c.onCandidate)
	ch.On(signaling.TypeHangUp, c.onHangUp)
}

func (c *Client) onID(env signaling.Envelope) {
	c.connID.Store(int64(env.ID))
	util.LogDebug("relay assigned connection id %d", env.ID)
}

func (c *Client) onUserlist(env signaling.Envelope) {
	c.registry.Roster().Replace(env.Users)
}

func (c *Client) onNewUser(env signaling.Envelope) {
	name := env.Username
	if name == "" {
		name = env.Name
	}
	c.registry.Roster().Add(name)
}

func (c *Client) onMessage(env signaling.Envelope) {
	if c.hooks.OnChat != nil {
		c.hooks.OnChat(env.Sender(), env.Text, false)
	}
}

// onOffer creates the session for an unknown peer and prepares its media
// before answering.
func (c *Client) onOffer(env signaling.Envelope) {
	peer := env.Sender()
	if peer == "" || env.SDP == nil {
		util.LogWarning("dropping %s without sender or description", env.Type)
		return
	}

	s, created, err := c.registry.Ensure(peer)
	if err != nil {
		util.LogWarning("cannot accept %s from %q: %v", env.Type, peer, err)
		return
	}
	if created {
		util.LogInfo("incoming call from %s", peer)
	}
	s.Prepare()
	s.HandleOffer(env.SDP.SDP)
}

func (c *Client) onAnswer(env signaling.Envelope) {
	peer := env.Sender()
	if env.SDP == nil {
		util.LogWarning("dropping %s from %q without description", env.Type, peer)
		return
	}
	s, ok := c.registry.Get(peer)
	if !ok {
		util.LogWarning("dropping %s from %q: no session", env.Type, peer)
		return
	}
	s.HandleAnswer(env.SDP.SDP)
}

// onCandidate may arrive before the offer it belongs to; the session is
// created idle so the candidate can wait in its queue. Candidates still in
// flight from a call that has ended are dropped until the next offer or call.
func (c *Client) onCandidate(env signaling.Envelope) {
	peer := env.Sender()
	if peer == "" || env.Candidate == nil {
		util.LogWarning("dropping ice-candidate without sender or candidate")
		return
	}
	if _, live := c.registry.Get(peer); !live && c.registry.Ended(peer) {
		util.LogDebug("dropping ice-candidate from %s: call already ended", peer)
		return
	}
	s, _, err := c.registry.Ensure(peer)
	if err != nil {
		util.LogWarning("cannot accept ice-candidate from %q: %v", peer, err)
		return
	}
	s.HandleCandidate(*env.Candidate)
}

func (c *Client) onHangUp(env signaling.Envelope) {
	peer := env.Sender()
	s, ok := c.registry.Get(peer)
	if !ok {
		util.LogDebug("hang-up from %q without a session", peer)
		return
	}
	util.LogInfo("%s hung up", peer)
	s.Close("peer hung up")
}
