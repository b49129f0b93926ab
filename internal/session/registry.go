// Package session tracks live sync connections so pushes can poke the
// user's other replicas into pulling. The registry is an explicit object
// owned by the server, handed to whatever hosts the connections.
package session

import (
	stdsync "sync"
)

// Session is one live connection. Pokes coalesce: a session that has not
// drained its channel yet receives at most one pending signal.
type Session struct {
	UserID string
	poke   chan struct{}
}

// Poke returns the channel that fires when the session should pull.
func (s *Session) Poke() <-chan struct{} {
	return s.poke
}

// Registry holds the live sessions keyed by user id.
type Registry struct {
	mu       stdsync.Mutex
	sessions map[string]map[*Session]struct{}
	disposed bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[*Session]struct{})}
}

// Register adds a live session for the user and returns it with a release
// function. Release is idempotent.
func (r *Registry) Register(userID string) (*Session, func()) {
	s := &Session{UserID: userID, poke: make(chan struct{}, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		close(s.poke)
		return s, func() {}
	}
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		r.sessions[userID] = set
	}
	set[s] = struct{}{}

	var once stdsync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if set, ok := r.sessions[userID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(r.sessions, userID)
				}
			}
		})
	}
	return s, release
}

// Poke signals every live session for the user. Never blocks.
func (r *Registry) Poke(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions[userID] {
		select {
		case s.poke <- struct{}{}:
		default:
		}
	}
}

// Lookup reports how many live sessions the user has.
func (r *Registry) Lookup(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}

// DisposeAll closes every session's poke channel and rejects future
// registrations. Called on shutdown.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	r.disposed = true
	for _, set := range r.sessions {
		for s := range set {
			close(s.poke)
		}
	}
	r.sessions = make(map[string]map[*Session]struct{})
}
