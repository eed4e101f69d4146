package memory

import (
	"context"
	"sync"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
)

// ConversationDirectory is an in-memory stand-in for the data layer's
// conversation store. The relay only reads membership from it.
type ConversationDirectory struct {
	mu      sync.RWMutex
	members map[domain.ConversationID][]domain.UserID
}

func NewConversationDirectory() *ConversationDirectory {
	return &ConversationDirectory{
		members: make(map[domain.ConversationID][]domain.UserID),
	}
}

var _ ports.ConversationDirectory = (*ConversationDirectory)(nil)

func (d *ConversationDirectory) Members(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.members[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	out := make([]domain.UserID, len(members))
	copy(out, members)
	return out, nil
}

// AddMember appends a user to a conversation, creating it when missing.
func (d *ConversationDirectory) AddMember(ctx context.Context, id domain.ConversationID, user domain.UserID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, member := range d.members[id] {
		if member == user {
			return nil
		}
	}
	d.members[id] = append(d.members[id], user)
	return nil
}

// Put replaces the member list of a conversation.
func (d *ConversationDirectory) Put(id domain.ConversationID, members ...domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[id] = append([]domain.UserID(nil), members...)
}

// Conversations enumerates every stored conversation.
func (d *ConversationDirectory) Conversations(ctx context.Context) ([]domain.ConversationID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.ConversationID, 0, len(d.members))
	for id := range d.members {
		out = append(out, id)
	}
	return out, nil
}

// Remove drops a conversation from the directory.
func (d *ConversationDirectory) Remove(id domain.ConversationID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, id)
}
