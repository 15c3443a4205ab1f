package realtime

import (
	"fmt"
	"sync"
)

// Registry tracks live sessions in both directions: user to connections and
// connection to session. Both indexes change under one lock so they never
// disagree.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]*Session
	byConn map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]*Session),
		byConn: make(map[string]*Session),
	}
}

// Admit records s. first is true when s is the user's only connection.
func (r *Registry) Admit(s *Session) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[s.ID()]; exists {
		return false, fmt.Errorf("connection %s already registered", s.ID())
	}
	conns, ok := r.byUser[s.UserID()]
	if !ok {
		conns = make(map[string]*Session)
		r.byUser[s.UserID()] = conns
	}
	conns[s.ID()] = s
	r.byConn[s.ID()] = s
	return len(conns) == 1, nil
}

// Remove drops the connection. last is true when the user has no connections
// left. Removing an unknown connection reports ok=false.
func (r *Registry) Remove(connID string) (s *Session, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok = r.byConn[connID]
	if !ok {
		return nil, false, false
	}
	delete(r.byConn, connID)
	conns := r.byUser[s.UserID()]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, s.UserID())
		last = true
	}
	return s, last, true
}

// Session returns the session for connID.
func (r *Registry) Session(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// SessionsFor returns the user's live sessions.
func (r *Registry) SessionsFor(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		out = append(out, s)
	}
	return out
}

// Sessions returns a snapshot of every live session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// OnlineUsers returns the number of distinct connected users.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
