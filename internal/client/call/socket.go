package call

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"parley/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Socket is the client side of the relay connection. Handlers are registered
// per event name before Listen starts; unhandled events are logged and
// dropped.
type Socket struct {
	conn *websocket.Conn

	writeMu  sync.Mutex
	handlers map[string]func(json.RawMessage)
	hmu      sync.RWMutex

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

// DialSocket connects to the relay websocket endpoint. The token is passed as
// a query parameter, matching what the server upgrade expects.
func DialSocket(ctx context.Context, rawURL, token string) (*Socket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket url: %w", err)
	}

	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	return &Socket{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		logger:   zap.NewNop().Sugar(),
	}, nil
}

// SetLogger replaces the no-op logger. Call before Listen.
func (s *Socket) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

// On registers the handler for an event name. The handler runs on the read
// loop goroutine, so it must not block.
func (s *Socket) On(event string, handler func(json.RawMessage)) {
	s.hmu.Lock()
	s.handlers[event] = handler
	s.hmu.Unlock()
}

// Emit sends one event to the relay.
func (s *Socket) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(signal.Envelope{Event: event, Payload: raw})
}

// Listen runs the read loop until the connection drops or ctx is cancelled.
func (s *Socket) Listen(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	for {
		var env signal.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return fmt.Errorf("socket read failed: %w", err)
		}

		s.hmu.RLock()
		handler, ok := s.handlers[env.Event]
		s.hmu.RUnlock()

		if !ok {
			s.logger.Debugw("unhandled event", "event", env.Event)
			continue
		}
		handler(env.Payload)
	}
}

// Close tears the connection down. Safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			writeControlDeadline())
		err = s.conn.Close()
	})
	return err
}

func writeControlDeadline() time.Time {
	return time.Now().Add(time.Second)
}
