package signal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"parley/internal/core/domain"
	"parley/internal/core/ports"
	"parley/internal/core/services"
	"parley/internal/infrastructure/monitoring"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options tune the websocket server's timeouts and limits.
type Options struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// WebSocketServer terminates the socket transport: it authenticates the
// upgrade, registers the connection, and routes inbound envelopes to the
// presence broadcaster, the dispatcher, and the call router. Events from a
// single connection are processed in arrival order.
type WebSocketServer struct {
	registry   *Registry
	presence   *Presence
	dispatcher ports.Dispatcher
	calls      *CallRouter
	directory  ports.ConversationDirectory
	auth       services.AuthService
	collector  *monitoring.Collector
	stats      *services.StatsService

	opts   Options
	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	registry *Registry,
	presence *Presence,
	dispatcher ports.Dispatcher,
	calls *CallRouter,
	directory ports.ConversationDirectory,
	auth services.AuthService,
	collector *monitoring.Collector,
	stats *services.StatsService,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		registry:   registry,
		presence:   presence,
		dispatcher: dispatcher,
		calls:      calls,
		directory:  directory,
		auth:       auth,
		collector:  collector,
		stats:      stats,
		opts:       opts,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the request and runs the connection to
// completion. Identity comes from a JWT in ?token=; ?user_id= is accepted
// as a fallback for trusted setups without the auth collaborator.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identify(r)
	if err != nil {
		s.logger.Warnw("websocket auth failed", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(domain.ConnID(uuid.New().String()), userID, ws, s.opts.WriteTimeout, s.logger)
	go conn.writePump(s.opts.PingInterval)

	s.collector.ConnectionOpened()
	becameOnline := s.registry.Register(conn)
	s.logger.Infow("connection registered",
		"conn_id", conn.ID(),
		"user_id", userID,
		"became_online", becameOnline,
	)

	ctx := r.Context()
	if becameOnline {
		s.presence.UserOnline(ctx, userID)
	}
	s.presence.Bootstrap(conn)

	s.readLoop(ctx, conn)

	// Every exit path unregisters and, on the last device, goes offline.
	wentOffline, _ := s.registry.Unregister(conn)
	conn.close()
	s.collector.ConnectionClosed()
	if wentOffline {
		s.presence.UserOffline(context.Background(), userID)
	}
	s.logger.Infow("connection closed",
		"conn_id", conn.ID(),
		"user_id", userID,
		"went_offline", wentOffline,
	)
}

func (s *WebSocketServer) identify(r *http.Request) (domain.UserID, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return domain.UserID(id), nil
	}
	return "", fmt.Errorf("missing token or user_id")
}

func (s *WebSocketServer) readLoop(ctx context.Context, conn *Conn) {
	ws := conn.ws
	if s.opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.opts.MaxMessageBytes)
	}
	ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.MessageBurst)

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "conn_id", conn.ID(), "user_id", conn.UserID(), "error", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if !limiter.Allow() {
			s.sendError(conn, "rate limit exceeded")
			continue
		}

		if err := s.handleEvent(ctx, conn, env); err != nil {
			s.logger.Infow("error handling event",
				"conn_id", conn.ID(),
				"user_id", conn.UserID(),
				"event", env.Event,
				"error", err,
			)
			s.sendError(conn, err.Error())
		}
	}
}

// handleEvent dispatches one inbound envelope. The event set is closed:
// anything outside it is an error back to the sender, never a silent drop.
func (s *WebSocketServer) handleEvent(ctx context.Context, conn *Conn, env Envelope) error {
	if s.stats != nil {
		s.stats.Record(env.Event)
	}

	switch env.Event {
	case EventUserOnline:
		// Re-announcement. Registration already happened at upgrade, so the
		// only useful answer is a fresh bootstrap for reconciliation.
		s.presence.Bootstrap(conn)
		return nil

	case EventTypingStart, EventTypingStop:
		var p TypingPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		p.UserID = conn.UserID()
		return s.relayTyping(ctx, conn, env.Event, p)

	case EventCallInitiate:
		var p CallInitiatePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		if p.CallerID != conn.UserID() {
			return fmt.Errorf("callerId mismatch: connection belongs to %s", conn.UserID())
		}
		if p.ReceiverID == "" {
			return fmt.Errorf("receiverId is required")
		}
		s.calls.Initiate(ctx, conn, p)
		return nil

	case EventCallAccept:
		var p CallDecisionPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		if p.ReceiverID == "" {
			p.ReceiverID = conn.UserID()
		}
		if p.ReceiverID != conn.UserID() {
			return fmt.Errorf("receiverId mismatch: connection belongs to %s", conn.UserID())
		}
		s.calls.Accept(ctx, p)
		return nil

	case EventCallReject:
		var p CallDecisionPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		if p.ReceiverID == "" {
			p.ReceiverID = conn.UserID()
		}
		if p.ReceiverID != conn.UserID() {
			return fmt.Errorf("receiverId mismatch: connection belongs to %s", conn.UserID())
		}
		s.calls.Reject(ctx, p)
		return nil

	case EventCallEnd:
		var p CallEndPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		if p.UserID == "" {
			p.UserID = conn.UserID()
		}
		if p.UserID != conn.UserID() {
			return fmt.Errorf("userId mismatch: connection belongs to %s", conn.UserID())
		}
		s.calls.End(ctx, p)
		return nil

	case EventWebRTCOffer:
		var p SessionDescriptionPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		s.calls.ForwardOffer(ctx, p)
		return nil

	case EventWebRTCAnswer:
		var p SessionDescriptionPayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		s.calls.ForwardAnswer(ctx, p)
		return nil

	case EventWebRTCICECandidate:
		var p ICECandidatePayload
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		s.calls.ForwardICECandidate(ctx, p)
		return nil

	default:
		return fmt.Errorf("unknown event: %s", env.Event)
	}
}

// relayTyping forwards a typing indicator to the conversation's other
// members, or to everyone else when membership is unknown.
func (s *WebSocketServer) relayTyping(ctx context.Context, conn *Conn, event string, p TypingPayload) error {
	if s.directory != nil && p.ConversationID != "" {
		members, err := s.directory.Members(ctx, p.ConversationID)
		if err == nil {
			for _, member := range members {
				if member == conn.UserID() {
					continue
				}
				// Unreachable members just miss the indicator.
				_ = s.dispatcher.Deliver(ctx, member, event, p)
			}
			return nil
		}
		s.logger.Debugw("conversation lookup failed, broadcasting typing",
			"conversation_id", p.ConversationID,
			"error", err,
		)
	}

	if d, ok := s.dispatcher.(*Dispatcher); ok {
		d.Broadcast(ctx, event, p, conn.ID())
	}
	return nil
}

func (s *WebSocketServer) sendError(conn *Conn, message string) {
	_ = conn.Send(EventError, ErrorPayload{Message: message})
}

// Shutdown drops every live connection. In-flight deliveries are not
// drained; clients are expected to reconnect to another instance.
func (s *WebSocketServer) Shutdown(ctx context.Context) {
	for _, c := range s.registry.Snapshot() {
		if conn, ok := c.(*Conn); ok {
			conn.close()
		}
	}
}

// HealthCheck reports liveness plus the live connection count.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%d,"connections":%d,"online_users":%d}`,
		time.Now().Unix(), s.registry.ConnectionCount(), len(s.registry.OnlineUsers()))
}
