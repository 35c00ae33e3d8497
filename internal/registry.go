package internal

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidState flags a programming-level invariant violation, such as
// registering one connection under two users. These are rejected loudly
// instead of silently corrupting presence accounting.
var ErrInvalidState = errors.New("invalid state")

// Registry maps user identities to their live connections. A user is online
// iff their set is non-empty; a connection appears in at most one entry. Both
// indexes live under one mutex so register/unregister transitions are atomic
// with respect to every reader.
type Registry struct {
	mu     sync.Mutex
	byUser map[int64]map[string]*Conn
	owner  map[string]int64 // conn id -> owning user, for O(1) disconnect

	// transition hooks, set once before the registry serves traffic and
	// invoked outside the lock
	onOnline   func(userID int64, username string)
	onOffline  func(userID int64, username string)
	onVanished func(userID int64)
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]*Conn),
		owner:  make(map[string]int64),
	}
}

// Register adds conn to its user's set. Idempotent for the same connection;
// a connection already owned by a different user is an ErrInvalidState.
// The empty-to-non-empty transition fires the online hook.
func (r *Registry) Register(conn *Conn) error {
	r.mu.Lock()
	if owner, ok := r.owner[conn.id]; ok {
		r.mu.Unlock()
		if owner == conn.userID {
			return nil
		}
		return fmt.Errorf("%w: connection %s already owned by user %d", ErrInvalidState, conn.id, owner)
	}
	set := r.byUser[conn.userID]
	wasOffline := len(set) == 0
	if set == nil {
		set = make(map[string]*Conn)
		r.byUser[conn.userID] = set
	}
	set[conn.id] = conn
	r.owner[conn.id] = conn.userID
	r.mu.Unlock()

	if wasOffline && r.onOnline != nil {
		r.onOnline(conn.userID, conn.username)
	}
	return nil
}

// Unregister removes conn via the reverse index. When the owning user's set
// drains it fires the offline hook and the vanished hook consumed by call
// cleanup. Unknown connections are a no-op.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	userID, ok := r.owner[conn.id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.owner, conn.id)
	set := r.byUser[userID]
	delete(set, conn.id)
	nowOffline := len(set) == 0
	if nowOffline {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if nowOffline {
		if r.onOffline != nil {
			r.onOffline(userID, conn.username)
		}
		if r.onVanished != nil {
			r.onVanished(userID)
		}
	}
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID int64) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// AllConnections snapshots every live connection, for global broadcasts.
func (r *Registry) AllConnections() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.owner))
	for _, set := range r.byUser {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// ActiveUsers returns the number of distinct online users.
func (r *Registry) ActiveUsers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
