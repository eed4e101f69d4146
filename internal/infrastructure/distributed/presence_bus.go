package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"parley/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TransitionType is the kind of presence edge replicated between instances.
type TransitionType string

const (
	TransitionOnline  TransitionType = "presence.online"
	TransitionOffline TransitionType = "presence.offline"
)

// Transition is one presence edge as published on the bus.
type Transition struct {
	Type       TransitionType `json:"type"`
	InstanceID string         `json:"instance_id"`
	UserID     domain.UserID  `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
}

// PresenceBus replicates online/offline edges across relay instances over
// Redis pub/sub. Each instance's registry stays authoritative for its own
// connections; the bus only lets clients on one instance see presence of
// users connected to another.
type PresenceBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	pubsub *redis.PubSub
}

func NewPresenceBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *PresenceBus {
	return &PresenceBus{
		client:     client,
		instanceID: instanceID,
		channel:    "parley:presence",
		logger:     logger,
	}
}

func (b *PresenceBus) PublishOnline(ctx context.Context, userID domain.UserID) error {
	return b.publish(ctx, TransitionOnline, userID)
}

func (b *PresenceBus) PublishOffline(ctx context.Context, userID domain.UserID) error {
	return b.publish(ctx, TransitionOffline, userID)
}

func (b *PresenceBus) publish(ctx context.Context, t TransitionType, userID domain.UserID) error {
	event := Transition{
		Type:       t,
		InstanceID: b.instanceID,
		UserID:     userID,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal presence transition: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish presence transition: %w", err)
	}

	b.logger.Debugw("published presence transition",
		"type", t,
		"user_id", userID,
	)
	return nil
}

// Subscribe delivers remote transitions to handler until ctx is cancelled.
// Transitions published by this instance are skipped.
func (b *PresenceBus) Subscribe(ctx context.Context, handler func(Transition)) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, b.channel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Transition
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("failed to unmarshal presence transition",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if event.InstanceID == b.instanceID {
				continue
			}
			handler(event)
		}
	}
}
