package session

import (
	"errors"
	"sort"
	"sync"
)

// Factory builds a new session for peer.
type Factory func(peer string) (Session, error)

// Registry maps peer identities to their live session. At most one session
// per identity exists at a time, and never one for the local identity.
type Registry struct {
	local   string
	factory Factory
	roster  *Roster

	mu       sync.Mutex
	sessions map[string]Session
	// ended holds peers whose session was removed and not replaced since.
	ended map[string]struct{}
}

// NewRegistry creates an empty registry for the local identity.
func NewRegistry(local string, factory Factory) *Registry {
	return &Registry{
		local:    local,
		factory:  factory,
		roster:   NewRoster(local),
		sessions: make(map[string]Session),
		ended:    make(map[string]struct{}),
	}
}

// Roster returns the users known from the relay.
func (r *Registry) Roster() *Roster { return r.roster }

// Ensure returns the live session for peer, creating it when there is none
// or the previous one is closed. created reports whether a new one was built.
// Ensure also clears the ended mark of peer.
func (r *Registry) Ensure(peer string) (s Session, created bool, err error) {
	switch peer {
	case "":
		return nil, false, errors.New("session: empty peer identity")
	case r.local:
		return nil, false, ErrSelf
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ended, peer)
	if cur, ok := r.sessions[peer]; ok && !cur.Closed() {
		return cur, false, nil
	}
	s, err = r.factory(peer)
	if err != nil {
		return nil, false, err
	}
	r.sessions[peer] = s
	return s, true, nil
}

// Get returns the session for peer, if any.
func (r *Registry) Get(peer string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peer]
	return s, ok
}

// Remove drops the entry for peer when it still refers to s, so a stale
// close callback cannot evict a newer session.
func (r *Registry) Remove(peer string, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[peer]; ok && cur == s {
		delete(r.sessions, peer)
		r.ended[peer] = struct{}{}
		return true
	}
	return false
}

// Ended reports whether peer had a session that has ended, with no new
// session ensured since. Trickled candidates of a finished call arrive in
// this window and must not start a new session.
func (r *Registry) Ended(peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ended[peer]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Peers returns the identities with a registered session, sorted.
func (r *Registry) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseAll closes every session. Sessions remove themselves through their
// close callback, which runs without the registry lock held.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	all := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close(reason)
	}
}
