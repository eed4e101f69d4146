package services

import (
	"context"
	"fmt"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/pkg/cache"
)

// CachedDirectory wraps a ConversationDirectory with caching. Membership
// changes rarely next to typing traffic, so a short TTL takes most reads
// off the backing store.
type CachedDirectory struct {
	baseDirectory ports.ConversationDirectory
	cache         *cache.CacheWithFallback
	memberTTL     time.Duration
}

// NewCachedDirectory creates a new cached conversation directory
func NewCachedDirectory(
	baseDirectory ports.ConversationDirectory,
	memberTTL time.Duration,
) ports.ConversationDirectory {
	return &CachedDirectory{
		baseDirectory: baseDirectory,
		cache:         cache.NewCacheWithFallback(memberTTL),
		memberTTL:     memberTTL,
	}
}

// Members resolves membership with caching. Misses (unknown conversation)
// are not cached so a conversation created moments later resolves cleanly.
func (s *CachedDirectory) Members(ctx context.Context, id domain.ConversationID) ([]domain.UserID, error) {
	cacheKey := fmt.Sprintf("conversation:%s:members", id)

	value, err := s.cache.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return s.baseDirectory.Members(ctx, id)
	}, s.memberTTL)
	if err != nil {
		return nil, err
	}

	return value.([]domain.UserID), nil
}

// Invalidate drops the cached member list for a conversation.
func (s *CachedDirectory) Invalidate(id domain.ConversationID) {
	s.cache.Invalidate(fmt.Sprintf("conversation:%s:", id))
}
