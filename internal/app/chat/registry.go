/*
Package chat contains the realtime core: the presence registry, the per-connection
session state machine, the router for private messages and typing indicators, and
the websocket transport that feeds them.

This file defines the Registry, the single source of truth for which users are
reachable and through which connection.
*/
package chat

import (
	"cmp"
	"slices"
	"sync"

	"relaychat/internal/app/user"
)

// Conn is the outbound side of one live connection.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string

	// Send queues one encoded frame for writing. It must not block.
	Send(data []byte) error

	// IsOpen reports whether the connection can still accept frames.
	IsOpen() bool
}

// Session is the registry entry of an authenticated connection.
type Session struct {
	UserID   string
	Username string
	Status   user.Status
	Conn     Conn

	seq uint64
}

// Registry maps user identities to their live connection. At most one Session
// exists per identity; registering an identity again replaces the previous entry
// without closing the previous connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	seq      uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Register inserts or replaces the entry for userID. It reports the connection
// that was replaced, if any.
func (r *Registry) Register(userID, username string, conn Conn) (replaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[userID]; ok && prev.Conn != conn {
		replaced = prev.Conn
	}

	r.seq++
	r.sessions[userID] = Session{
		UserID:   userID,
		Username: username,
		Status:   user.StatusOnline,
		Conn:     conn,
		seq:      r.seq,
	}

	return replaced
}

// Deregister removes the entry for userID if it still belongs to conn.
// A connection that was replaced cannot remove its successor.
func (r *Registry) Deregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok || s.Conn != conn {
		return false
	}

	delete(r.sessions, userID)
	return true
}

// Lookup returns the Session registered for userID.
func (r *Registry) Lookup(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	return s, ok
}

// Snapshot returns every Session, in registration order.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b Session) int {
		return cmp.Compare(a.seq, b.seq)
	})

	return sessions
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// IsOnline reports whether userID has an open registered connection.
func (r *Registry) IsOnline(userID string) bool {
	s, ok := r.Lookup(userID)
	return ok && s.Conn.IsOpen()
}
