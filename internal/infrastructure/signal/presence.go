package signal

import (
	"context"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// PresencePublisher replicates presence transitions to sibling relay
// instances. Nil-able; the in-process broadcast does not depend on it.
type PresencePublisher interface {
	PublishOnline(ctx context.Context, userID domain.UserID) error
	PublishOffline(ctx context.Context, userID domain.UserID) error
}

// Presence broadcasts online/offline transitions to every live connection
// and answers new registrations with the current online set.
type Presence struct {
	registry  ports.ConnectionRegistry
	collector *monitoring.Collector
	publisher PresencePublisher
	logger    *zap.SugaredLogger
}

func NewPresence(registry ports.ConnectionRegistry, collector *monitoring.Collector, publisher PresencePublisher, logger *zap.SugaredLogger) *Presence {
	return &Presence{
		registry:  registry,
		collector: collector,
		publisher: publisher,
		logger:    logger,
	}
}

// UserOnline announces an offline->online edge to all connections, the
// subject's own other devices included so they can reconcile presence.
func (p *Presence) UserOnline(ctx context.Context, userID domain.UserID) {
	p.collector.UserOnline()
	p.broadcast(EventUserOnline, userID)
	if p.publisher != nil {
		if err := p.publisher.PublishOnline(ctx, userID); err != nil {
			p.logger.Warnw("presence replication failed", "user_id", userID, "error", err)
		}
	}
}

// UserOffline announces an online->offline edge to all remaining connections.
func (p *Presence) UserOffline(ctx context.Context, userID domain.UserID) {
	p.collector.UserOffline()
	p.broadcast(EventUserOffline, userID)
	if p.publisher != nil {
		if err := p.publisher.PublishOffline(ctx, userID); err != nil {
			p.logger.Warnw("presence replication failed", "user_id", userID, "error", err)
		}
	}
}

// Bootstrap sends the full online list to a newly registered connection so
// the client does not have to reconstruct presence from incremental events.
func (p *Presence) Bootstrap(conn ports.Connection) {
	payload := OnlineListPayload{UserIDs: p.registry.OnlineUsers()}
	if err := conn.Send(EventUsersOnline, payload); err != nil {
		p.logger.Infow("presence bootstrap failed",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"error", err,
		)
	}
}

// Relay re-broadcasts a transition learned from another instance to local
// connections only, without publishing it back.
func (p *Presence) Relay(event string, userID domain.UserID) {
	p.broadcast(event, userID)
}

func (p *Presence) broadcast(event string, userID domain.UserID) {
	payload := PresencePayload{UserID: userID}
	for _, conn := range p.registry.Snapshot() {
		if err := conn.Send(event, payload); err != nil {
			p.logger.Infow("presence broadcast failed",
				"conn_id", conn.ID(),
				"event", event,
				"error", err,
			)
		}
	}
}
