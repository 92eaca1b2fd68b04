package session

import (
	"slices"
	"sync"
)

// Roster is the list of users the relay reported, minus the local identity.
type Roster struct {
	self string

	mu       sync.RWMutex
	users    []string
	onChange func([]string)
}

func NewRoster(self string) *Roster {
	return &Roster{self: self}
}

// OnChange registers a callback invoked with the new list after each change.
func (r *Roster) OnChange(fn func(users []string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Replace sets the roster from a userlist, keeping order, dropping empty
// names, duplicates and the local identity.
func (r *Roster) Replace(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	next := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" || u == r.self {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		next = append(next, u)
	}

	r.mu.Lock()
	r.users = next
	fn := r.onChange
	r.mu.Unlock()

	out := slices.Clone(next)
	if fn != nil {
		fn(slices.Clone(next))
	}
	return out
}

// Add appends one user announced by new-user. It reports whether the roster
// changed.
func (r *Roster) Add(user string) bool {
	if user == "" || user == r.self {
		return false
	}

	r.mu.Lock()
	if slices.Contains(r.users, user) {
		r.mu.Unlock()
		return false
	}
	r.users = append(r.users, user)
	snapshot := slices.Clone(r.users)
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return true
}

func (r *Roster) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users)
}

func (r *Roster) Contains(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.users, user)
}
