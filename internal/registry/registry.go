// Package registry tracks every open, authenticated relay connection and the
// identity bound to it.
package registry

import (
	"sync"
	"time"
)

// Transport is the write side of a live connection.
type Transport interface {
	// Send queues one frame for the connection without blocking.
	Send(frame []byte) error
	// Writable reports whether the connection still accepts frames.
	Writable() bool
}

// Session binds one connection to an authenticated identity. The identity
// fields are a snapshot taken at handshake time.
type Session struct {
	UserID       string
	ConnectionID string
	Email        string
	DisplayName  string
	ConnectedAt  time.Time
	Conn         Transport
}

// Presence is the public view of a session.
type Presence struct {
	UserID      string
	Email       string
	DisplayName string
}

// Registry is an in-memory directory of sessions keyed by connection id.
// A user may hold several sessions at once.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Session
	byUser map[string][]*Session // insertion order per user
	order  []*Session            // insertion order overall
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byConn: make(map[string]*Session),
		byUser: make(map[string][]*Session),
	}
}

// Add inserts s. Adding a connection id that is already present replaces
// the previous session.
func (r *Registry) Add(s *Session) {
	if s == nil || s.ConnectionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConn[s.ConnectionID]; exists {
		r.removeLocked(s.ConnectionID)
	}
	r.byConn[s.ConnectionID] = s
	r.byUser[s.UserID] = append(r.byUser[s.UserID], s)
	r.order = append(r.order, s)
}

// Remove deletes the session for connectionID and reports whether one was
// present. Removing an unknown id is a no-op.
func (r *Registry) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID)
}

func (r *Registry) removeLocked(connectionID string) bool {
	s, ok := r.byConn[connectionID]
	if !ok {
		return false
	}
	delete(r.byConn, connectionID)

	if rest := without(r.byUser[s.UserID], s); len(rest) == 0 {
		delete(r.byUser, s.UserID)
	} else {
		r.byUser[s.UserID] = rest
	}
	r.order = without(r.order, s)
	return true
}

// Get returns the session bound to connectionID.
func (r *Registry) Get(connectionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connectionID]
	return s, ok
}

// FindByUser returns the oldest open session of userID. When a user holds
// several connections only the first one is returned.
func (r *Registry) FindByUser(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list := r.byUser[userID]; len(list) > 0 {
		return list[0], true
	}
	return nil, false
}

// ListOnline returns a snapshot of every session in connection order.
func (r *Registry) ListOnline() []Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Presence, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, Presence{UserID: s.UserID, Email: s.Email, DisplayName: s.DisplayName})
	}
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Users returns the number of distinct users with at least one session.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func without(list []*Session, s *Session) []*Session {
	for i, x := range list {
		if x == s {
			out := make([]*Session, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	return list
}
