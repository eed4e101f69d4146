package domain

import "time"

// UserID is the opaque account identifier issued by the auth layer.
// It keys the connection registry.
type UserID string

// ConnID identifies a single transport connection (one device/tab of a user).
type ConnID string

type User struct {
	ID        UserID
	Username  string
	Email     string
	CreatedAt time.Time
}

// ConversationID identifies a conversation owned by the data layer. The relay
// only resolves it to a member list for typing and message fan-out.
type ConversationID string
