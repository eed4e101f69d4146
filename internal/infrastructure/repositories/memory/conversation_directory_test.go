package memory

import (
	"context"
	"testing"

	"parley/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationDirectory_MembersUnknownConversation(t *testing.T) {
	d := NewConversationDirectory()

	_, err := d.Members(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestConversationDirectory_AddMemberCreatesAndDeduplicates(t *testing.T) {
	d := NewConversationDirectory()
	ctx := context.Background()

	require.NoError(t, d.AddMember(ctx, "conv-1", "alice"))
	require.NoError(t, d.AddMember(ctx, "conv-1", "bob"))
	require.NoError(t, d.AddMember(ctx, "conv-1", "alice"))

	members, err := d.Members(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, members)
}

func TestConversationDirectory_MembersReturnsACopy(t *testing.T) {
	d := NewConversationDirectory()
	ctx := context.Background()

	d.Put("conv-1", "alice", "bob")

	members, err := d.Members(ctx, "conv-1")
	require.NoError(t, err)
	members[0] = "mallory"

	fresh, err := d.Members(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, fresh)
}

func TestConversationDirectory_ConversationsAndRemove(t *testing.T) {
	d := NewConversationDirectory()
	ctx := context.Background()

	d.Put("conv-1", "alice")
	d.Put("conv-2", "bob")

	ids, err := d.Conversations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.ConversationID{"conv-1", "conv-2"}, ids)

	d.Remove("conv-1")

	ids, err = d.Conversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ConversationID{"conv-2"}, ids)

	_, err = d.Members(ctx, "conv-1")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}
