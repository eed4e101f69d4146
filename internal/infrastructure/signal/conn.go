package signal

import (
	"encoding/json"
	"sync"
	"time"

	"parley/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendQueueSize = 32

// Conn wraps a websocket connection with an identity and a buffered outbound
// queue. Sends never block the caller: the write pump drains the queue, and a
// full queue drops the frame so a slow consumer cannot stall the relay.
type Conn struct {
	id     domain.ConnID
	userID domain.UserID

	ws           *websocket.Conn
	send         chan Envelope
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	logger *zap.SugaredLogger
}

func newConn(id domain.ConnID, userID domain.UserID, ws *websocket.Conn, writeTimeout time.Duration, logger *zap.SugaredLogger) *Conn {
	return &Conn{
		id:           id,
		userID:       userID,
		ws:           ws,
		send:         make(chan Envelope, sendQueueSize),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (c *Conn) ID() domain.ConnID     { return c.id }
func (c *Conn) UserID() domain.UserID { return c.userID }

// Send enqueues an envelope for the write pump. Dropping on a full queue is
// intentional: a slow consumer must not stall the relay, and signaling
// messages are not acknowledged or retried.
func (c *Conn) Send(event string, payload interface{}) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- Envelope{Event: event, Payload: raw}:
		return nil
	default:
		c.logger.Warnw("send queue full, dropping frame",
			"conn_id", c.id,
			"user_id", c.userID,
			"event", event,
		)
		return nil
	}
}

// close marks the connection dead and closes the socket. Safe to call more
// than once; the write pump exits when the queue is closed.
func (c *Conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.ws.Close()
}

// writePump serializes all writes to the socket: queued envelopes plus
// keepalive pings. gorilla/websocket allows one concurrent writer only.
func (c *Conn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Infow("write failed",
					"conn_id", c.id,
					"user_id", c.userID,
					"error", err,
				)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
