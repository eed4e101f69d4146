package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// CallRouter forwards call signaling between two identified parties. It is a
// stateless forwarder with one policy exception: call:initiate to a user with
// no live connections is answered with call:rejected{reason: offline} instead
// of being dropped. Offer/answer/ICE payloads are never inspected.
//
// The ring-time bookkeeping below is observability only (a histogram), not
// authoritative call state; both phase machines live in the clients.
type CallRouter struct {
	dispatcher ports.Dispatcher
	collector  *monitoring.Collector
	logger     *zap.SugaredLogger

	mu      sync.Mutex
	ringing map[domain.CallID]time.Time
}

func NewCallRouter(dispatcher ports.Dispatcher, collector *monitoring.Collector, logger *zap.SugaredLogger) *CallRouter {
	return &CallRouter{
		dispatcher: dispatcher,
		collector:  collector,
		logger:     logger,
		ringing:    make(map[domain.CallID]time.Time),
	}
}

// Initiate applies the offline short-circuit, otherwise rings the callee.
func (r *CallRouter) Initiate(ctx context.Context, from ports.Connection, p CallInitiatePayload) {
	incoming := CallIncomingPayload{
		CallID:     p.CallID,
		CallerID:   p.CallerID,
		CallerName: p.CallerName,
		IsVideo:    p.IsVideo,
	}

	err := r.dispatcher.Deliver(ctx, p.ReceiverID, EventCallIncoming, incoming)
	if errors.Is(err, domain.ErrUnreachable) {
		r.collector.RecordCallOutcome("offline")
		r.logger.Infow("callee offline, rejecting call",
			"call_id", p.CallID,
			"caller_id", p.CallerID,
			"receiver_id", p.ReceiverID,
		)
		rejected := CallRejectedPayload{
			CallID:     p.CallID,
			ReceiverID: p.ReceiverID,
			Reason:     domain.RejectReasonOffline,
		}
		if sendErr := from.Send(EventCallRejected, rejected); sendErr != nil {
			r.logger.Infow("offline rejection not delivered", "call_id", p.CallID, "error", sendErr)
		}
		return
	}

	r.collector.RecordCallOutcome("incoming")
	r.mu.Lock()
	r.ringing[p.CallID] = time.Now()
	// Drop attempts that never settled (both parties gone mid-ring).
	for id, started := range r.ringing {
		if time.Since(started) > 5*time.Minute {
			delete(r.ringing, id)
		}
	}
	r.mu.Unlock()
}

// Accept forwards the callee's decision back to the caller.
func (r *CallRouter) Accept(ctx context.Context, p CallDecisionPayload) {
	r.settle(p.CallID, "accepted")
	accepted := CallAcceptedPayload{CallID: p.CallID, ReceiverID: p.ReceiverID}
	if err := r.dispatcher.Deliver(ctx, p.CallerID, EventCallAccepted, accepted); err != nil {
		r.logger.Infow("accept not delivered", "call_id", p.CallID, "caller_id", p.CallerID, "error", err)
	}
}

// Reject forwards the callee's decline (or busy/timeout auto-decline) back
// to the caller.
func (r *CallRouter) Reject(ctx context.Context, p CallDecisionPayload) {
	r.settle(p.CallID, "rejected")
	rejected := CallRejectedPayload{CallID: p.CallID, ReceiverID: p.ReceiverID, Reason: p.Reason}
	if err := r.dispatcher.Deliver(ctx, p.CallerID, EventCallRejected, rejected); err != nil {
		r.logger.Infow("reject not delivered", "call_id", p.CallID, "caller_id", p.CallerID, "error", err)
	}
}

// End forwards a hangup from either party to the other. Valid in any
// non-idle phase; the receiving side treats it as idempotent teardown.
func (r *CallRouter) End(ctx context.Context, p CallEndPayload) {
	r.settle(p.CallID, "ended")
	ended := CallEndedPayload{CallID: p.CallID, UserID: p.UserID}
	if err := r.dispatcher.Deliver(ctx, p.OtherUserID, EventCallEnded, ended); err != nil {
		r.logger.Infow("hangup not delivered", "call_id", p.CallID, "other_user_id", p.OtherUserID, "error", err)
	}
}

// ForwardOffer relays a session description to the callee verbatim.
func (r *CallRouter) ForwardOffer(ctx context.Context, p SessionDescriptionPayload) {
	if err := r.dispatcher.Deliver(ctx, p.ReceiverID, EventWebRTCOffer, p); err != nil {
		r.logger.Infow("offer not delivered", "call_id", p.CallID, "receiver_id", p.ReceiverID, "error", err)
	}
}

// ForwardAnswer relays a session description back to the caller verbatim.
func (r *CallRouter) ForwardAnswer(ctx context.Context, p SessionDescriptionPayload) {
	if err := r.dispatcher.Deliver(ctx, p.CallerID, EventWebRTCAnswer, p); err != nil {
		r.logger.Infow("answer not delivered", "call_id", p.CallID, "caller_id", p.CallerID, "error", err)
	}
}

// ForwardICECandidate relays a trickle ICE candidate verbatim. Candidates
// may arrive in any phase once both sides hold a peer connection.
func (r *CallRouter) ForwardICECandidate(ctx context.Context, p ICECandidatePayload) {
	if err := r.dispatcher.Deliver(ctx, p.ReceiverID, EventWebRTCICECandidate, p); err != nil {
		r.logger.Debugw("ICE candidate not delivered", "call_id", p.CallID, "receiver_id", p.ReceiverID, "error", err)
	}
}

func (r *CallRouter) settle(callID domain.CallID, outcome string) {
	r.collector.RecordCallOutcome(outcome)

	r.mu.Lock()
	started, ok := r.ringing[callID]
	if ok {
		delete(r.ringing, callID)
	}
	r.mu.Unlock()

	if ok {
		r.collector.RecordRingDuration(time.Since(started))
	}
}
