package ports

import (
	"context"

	"parley/internal/core/domain"
)

// Connection is the registry's non-owning view of a live transport
// connection. The transport layer owns the socket; the registry only looks
// connections up and hands them payloads.
type Connection interface {
	ID() domain.ConnID
	UserID() domain.UserID
	// Send enqueues a payload for asynchronous delivery. It never blocks on
	// the wire; a full queue or closed connection returns an error.
	Send(event string, payload interface{}) error
}

// ConnectionRegistry maps a user identity to its set of live connections
// (multi-device). An entry exists iff the user has at least one connection.
type ConnectionRegistry interface {
	// Register adds conn to its user's set. The returned flag is true exactly
	// once per offline->online transition.
	Register(conn Connection) (becameOnline bool)
	// Unregister removes conn. The returned flag is true exactly once per
	// online->offline transition of conn's user.
	Unregister(conn Connection) (wentOffline bool, userID domain.UserID)
	Lookup(userID domain.UserID) []Connection
	Snapshot() []Connection
	OnlineUsers() []domain.UserID
}

// Dispatcher delivers an event to every live connection of a target user.
type Dispatcher interface {
	// Deliver returns domain.ErrUnreachable when the target has no
	// connections. A send failure on one connection does not prevent
	// delivery to the target's other connections.
	Deliver(ctx context.Context, target domain.UserID, event string, payload interface{}) error
}

// PresenceNotifier announces presence transitions to connected peers and,
// optionally, to sibling relay instances.
type PresenceNotifier interface {
	UserOnline(ctx context.Context, userID domain.UserID)
	UserOffline(ctx context.Context, userID domain.UserID)
}

// ConversationDirectory resolves conversation membership. Owned by the data
// layer; the relay consumes it as a black box for typing and message fan-out.
type ConversationDirectory interface {
	Members(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error)
}
