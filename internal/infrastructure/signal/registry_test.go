package signal

import (
	"sync"
	"testing"

	"parley/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	id     domain.ConnID
	userID domain.UserID

	mu   sync.Mutex
	sent []sentFrame
	fail bool
}

type sentFrame struct {
	event   string
	payload interface{}
}

func newFakeConn(id, userID string) *fakeConn {
	return &fakeConn{id: domain.ConnID(id), userID: domain.UserID(userID)}
}

func (c *fakeConn) ID() domain.ConnID     { return c.id }
func (c *fakeConn) UserID() domain.UserID { return c.userID }

func (c *fakeConn) Send(event string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.ErrUnreachable
	}
	c.sent = append(c.sent, sentFrame{event: event, payload: payload})
	return nil
}

func (c *fakeConn) frames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentFrame, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) events() []string {
	var events []string
	for _, f := range c.frames() {
		events = append(events, f.event)
	}
	return events
}

func TestRegistry_OnlineEdgeOnFirstConnection(t *testing.T) {
	r := NewRegistry()

	phone := newFakeConn("c1", "alice")
	laptop := newFakeConn("c2", "alice")

	assert.True(t, r.Register(phone), "first device is the offline->online edge")
	assert.False(t, r.Register(laptop), "second device must not re-announce")
	assert.Equal(t, 2, r.ConnectionCount())

	assert.Len(t, r.Lookup("alice"), 2)
	assert.Equal(t, []domain.UserID{"alice"}, r.OnlineUsers())
}

func TestRegistry_OfflineEdgeOnLastDisconnect(t *testing.T) {
	r := NewRegistry()

	phone := newFakeConn("c1", "alice")
	laptop := newFakeConn("c2", "alice")
	r.Register(phone)
	r.Register(laptop)

	offline, userID := r.Unregister(phone)
	assert.False(t, offline, "a device remains, user stays online")
	assert.Equal(t, domain.UserID("alice"), userID)

	offline, userID = r.Unregister(laptop)
	assert.True(t, offline, "last device is the online->offline edge")
	assert.Equal(t, domain.UserID("alice"), userID)

	assert.Empty(t, r.Lookup("alice"))
	assert.Empty(t, r.OnlineUsers())
}

func TestRegistry_UnregisterUnknownConnIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1", "alice"))

	offline, _ := r.Unregister(newFakeConn("never-registered", "alice"))
	assert.False(t, offline)
	assert.Equal(t, 1, r.ConnectionCount())

	offline, _ = r.Unregister(newFakeConn("c9", "stranger"))
	assert.False(t, offline)
}

func TestRegistry_RegisterIsIdempotentPerConn(t *testing.T) {
	r := NewRegistry()
	conn := newFakeConn("c1", "alice")

	r.Register(conn)
	r.Register(conn)
	assert.Equal(t, 1, r.ConnectionCount())

	offline, _ := r.Unregister(conn)
	assert.True(t, offline)
}

func TestRegistry_ConcurrentRegisterUnregisterSingleEdgePair(t *testing.T) {
	r := NewRegistry()

	const devices = 32
	conns := make([]*fakeConn, devices)
	for i := range conns {
		conns[i] = newFakeConn(string(rune('a'+i)), "alice")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	onlineEdges := 0

	for _, conn := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			if r.Register(c) {
				mu.Lock()
				onlineEdges++
				mu.Unlock()
			}
		}(conn)
	}
	wg.Wait()
	assert.Equal(t, 1, onlineEdges)

	offlineEdges := 0
	for _, conn := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			if offline, _ := r.Unregister(c); offline {
				mu.Lock()
				offlineEdges++
				mu.Unlock()
			}
		}(conn)
	}
	wg.Wait()
	assert.Equal(t, 1, offlineEdges)
	assert.Equal(t, 0, r.ConnectionCount())
}

func TestRegistry_SnapshotCoversAllUsers(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeConn("c1", "alice"))
	r.Register(newFakeConn("c2", "bob"))
	r.Register(newFakeConn("c3", "bob"))

	assert.Len(t, r.Snapshot(), 3)
	assert.ElementsMatch(t, []domain.UserID{"alice", "bob"}, r.OnlineUsers())
}
