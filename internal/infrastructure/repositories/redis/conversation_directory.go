package redis

import (
	"context"
	"fmt"

	"parley/internal/core/domain"
	"parley/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const conversationIndexKey = "parley:conversations"

// ConversationDirectory reads conversation membership from the Redis sets
// the data layer maintains (one set of user IDs per conversation).
type ConversationDirectory struct {
	client *redis.Client
	prefix string
}

func NewConversationDirectory(client *redis.Client) *ConversationDirectory {
	return &ConversationDirectory{
		client: client,
		prefix: "parley:conversation:",
	}
}

var _ ports.ConversationDirectory = (*ConversationDirectory)(nil)

func (d *ConversationDirectory) membersKey(id domain.ConversationID) string {
	return d.prefix + string(id) + ":members"
}

func (d *ConversationDirectory) Members(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	ids, err := d.client.SMembers(ctx, d.membersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation members: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrConversationNotFound
	}

	members := make([]domain.UserID, len(ids))
	for i, id := range ids {
		members[i] = domain.UserID(id)
	}
	return members, nil
}

// AddMember is used by the demo wiring and tests; production membership is
// written by the data layer.
func (d *ConversationDirectory) AddMember(ctx context.Context, id domain.ConversationID, user domain.UserID) error {
	if err := d.client.SAdd(ctx, d.membersKey(id), string(user)).Err(); err != nil {
		return fmt.Errorf("failed to add conversation member: %w", err)
	}
	if err := d.client.SAdd(ctx, conversationIndexKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to index conversation: %w", err)
	}
	return nil
}

// Conversations enumerates every indexed conversation. The backup scheduler
// walks this to snapshot membership.
func (d *ConversationDirectory) Conversations(ctx context.Context) ([]domain.ConversationID, error) {
	ids, err := d.client.SMembers(ctx, conversationIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]domain.ConversationID, len(ids))
	for i, id := range ids {
		out[i] = domain.ConversationID(id)
	}
	return out, nil
}
