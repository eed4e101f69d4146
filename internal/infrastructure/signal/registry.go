package signal

import (
	"sync"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
)

// Registry is the in-memory user -> live connections map. A user key exists
// iff it has at least one connection; the empty set is never stored, so
// entry creation and removal are exactly the online/offline edges.
//
// All mutation and edge detection happen under one mutex, which rules out
// double-announced or missed presence transitions when devices of the same
// user connect and disconnect concurrently.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]map[domain.ConnID]ports.Connection
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[domain.UserID]map[domain.ConnID]ports.Connection),
	}
}

// Register adds conn to its user's set, creating the entry if absent.
// Idempotent for the same (user, conn) pair. Returns true exactly once per
// offline->online transition.
func (r *Registry) Register(conn ports.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.users[conn.UserID()]
	if !exists {
		set = make(map[domain.ConnID]ports.Connection)
		r.users[conn.UserID()] = set
	}
	set[conn.ID()] = conn
	return !exists
}

// Unregister removes conn from whichever user's set contains it. Returns
// true (with the user ID) exactly once per online->offline transition.
// Unknown connections are a no-op.
func (r *Registry) Unregister(conn ports.Connection) (bool, domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := conn.UserID()
	set, exists := r.users[userID]
	if !exists {
		return false, userID
	}
	if _, ok := set[conn.ID()]; !ok {
		return false, userID
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.users, userID)
		return true, userID
	}
	return false, userID
}

// Lookup returns the user's live connections, possibly none. Never errors;
// the caller decides how to react to an empty result.
func (r *Registry) Lookup(userID domain.UserID) []ports.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]ports.Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Snapshot returns every live connection across all users.
func (r *Registry) Snapshot() []ports.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []ports.Connection
	for _, set := range r.users {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}

// OnlineUsers returns the identities currently holding at least one
// connection.
func (r *Registry) OnlineUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.UserID, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	return users
}

// ConnectionCount reports the total number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.users {
		n += len(set)
	}
	return n
}
