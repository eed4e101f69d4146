package signal

import (
	"context"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// Dispatcher fans an event out to every live connection of a target user.
// Delivery is fire-and-forget per connection: one failing device must not
// keep the frame from the user's other devices.
type Dispatcher struct {
	registry  ports.ConnectionRegistry
	collector *monitoring.Collector
	logger    *zap.SugaredLogger
}

func NewDispatcher(registry ports.ConnectionRegistry, collector *monitoring.Collector, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		collector: collector,
		logger:    logger,
	}
}

// Deliver sends {event, payload} to each of the target's connections.
// Returns domain.ErrUnreachable when the target has none; the call router
// relies on this to short-circuit calls to offline users.
func (d *Dispatcher) Deliver(ctx context.Context, target domain.UserID, event string, payload interface{}) error {
	conns := d.registry.Lookup(target)
	if len(conns) == 0 {
		d.collector.RecordUnreachable(event)
		return domain.ErrUnreachable
	}

	for _, conn := range conns {
		if err := conn.Send(event, payload); err != nil {
			d.logger.Infow("delivery to connection failed",
				"user_id", target,
				"conn_id", conn.ID(),
				"event", event,
				"error", err,
			)
		}
	}
	d.collector.RecordForwarded(event)
	return nil
}

// Broadcast sends {event, payload} to every live connection, optionally
// skipping one connection (the sender).
func (d *Dispatcher) Broadcast(ctx context.Context, event string, payload interface{}, skip domain.ConnID) {
	for _, conn := range d.registry.Snapshot() {
		if conn.ID() == skip {
			continue
		}
		if err := conn.Send(event, payload); err != nil {
			d.logger.Infow("broadcast to connection failed",
				"conn_id", conn.ID(),
				"event", event,
				"error", err,
			)
		}
	}
	d.collector.RecordForwarded(event)
}
