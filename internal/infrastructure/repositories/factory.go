package repositories

import (
	"context"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/infrastructure/repositories/memory"
	redisrepo "parley/internal/infrastructure/repositories/redis"
	"parley/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConversationStore is the full view of the conversation directory: member
// resolution for the relay plus enumeration for backups.
type ConversationStore interface {
	ports.ConversationDirectory
	Conversations(ctx context.Context) ([]domain.ConversationID, error)
	AddMember(ctx context.Context, id domain.ConversationID, user domain.UserID) error
}

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateConversationStore creates the conversation store (Redis or memory
// with fallback)
func (f *RepositoryFactory) CreateConversationStore() ConversationStore {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewConversationDirectory(f.redisClient)
	}
	return memory.NewConversationDirectory()
}

// RedisClient exposes the shared client for the presence bus, stats and
// distributed locks. Nil when running on memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
