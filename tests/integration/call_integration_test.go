package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/internal/client/call"
	"parley/internal/core/domain"
	"parley/internal/core/services"
	"parley/internal/infrastructure/monitoring"
	"parley/internal/infrastructure/repositories/memory"
	"parley/internal/infrastructure/signal"
	"parley/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) string {
	t.Helper()

	log := logger.NewNop()
	collector := monitoring.NewCollectorWith(prometheus.NewRegistry())
	registry := signal.NewRegistry()
	dispatcher := signal.NewDispatcher(registry, collector, log)
	presence := signal.NewPresence(registry, collector, nil, log)
	calls := signal.NewCallRouter(dispatcher, collector, log)
	directory := memory.NewConversationDirectory()
	auth := services.NewAuthService("integration-secret", 15*time.Minute, 24*time.Hour)

	ws := signal.NewWebSocketServer(registry, presence, dispatcher, calls, directory, auth, collector, nil, signal.DefaultOptions(), log)

	server := httptest.NewServer(http.HandlerFunc(ws.HandleWebSocket))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type endpoint struct {
	controller *call.Controller
	terminated chan string
	phases     chan domain.CallPhase
}

func startEndpoint(t *testing.T, ctx context.Context, relayURL, userID string, autoAccept bool) *endpoint {
	t.Helper()

	sock, err := call.DialSocket(ctx, relayURL+"?user_id="+userID, "")
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	controller := call.NewController(domain.UserID(userID), userID, sock, call.NewStaticDevice(), call.Config{
		RingTimeout: 5 * time.Second,
	}, logger.NewNop())

	ep := &endpoint{
		controller: controller,
		terminated: make(chan string, 4),
		phases:     make(chan domain.CallPhase, 16),
	}

	controller.OnPhaseChange(func(phase domain.CallPhase) {
		select {
		case ep.phases <- phase:
		default:
		}
		if autoAccept && phase == domain.PhaseIncoming {
			go func() {
				if err := controller.Accept(ctx); err != nil {
					t.Logf("accept failed: %v", err)
				}
			}()
		}
	})
	controller.OnTerminated(func(id domain.CallID, reason string) {
		select {
		case ep.terminated <- reason:
		default:
		}
	})

	go sock.Listen(ctx)

	return ep
}

func waitPhase(t *testing.T, ep *endpoint, want domain.CallPhase) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case phase := <-ep.phases:
			if phase == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %s, currently %s", want, ep.controller.Phase())
		}
	}
}

func waitTerminated(t *testing.T, ep *endpoint) string {
	t.Helper()

	select {
	case reason := <-ep.terminated:
		return reason
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for call termination")
		return ""
	}
}

func TestCallLifecycleThroughRelay(t *testing.T) {
	relayURL := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := startEndpoint(t, ctx, relayURL, "alice", false)
	callee := startEndpoint(t, ctx, relayURL, "bob", true)

	callID, err := caller.controller.Dial(ctx, "bob", true)
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	waitPhase(t, caller, domain.PhaseConnected)
	waitPhase(t, callee, domain.PhaseConnected)

	assert.Equal(t, callID, caller.controller.CallID())
	assert.Equal(t, callID, callee.controller.CallID())

	require.NoError(t, caller.controller.HangUp())

	assert.Equal(t, "ended", waitTerminated(t, callee))
	waitPhase(t, callee, domain.PhaseIdle)
	assert.Equal(t, domain.PhaseIdle, caller.controller.Phase())
}

func TestCameraFlipKeepsCallAlive(t *testing.T) {
	relayURL := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := startEndpoint(t, ctx, relayURL, "alice", false)
	callee := startEndpoint(t, ctx, relayURL, "bob", true)

	callID, err := caller.controller.Dial(ctx, "bob", true)
	require.NoError(t, err)

	waitPhase(t, caller, domain.PhaseConnected)
	waitPhase(t, callee, domain.PhaseConnected)

	require.NoError(t, caller.controller.FlipCamera(ctx))

	// No renegotiation happens, so the attempt and both phases are intact.
	assert.Equal(t, domain.PhaseConnected, caller.controller.Phase())
	assert.Equal(t, domain.PhaseConnected, callee.controller.Phase())
	assert.Equal(t, callID, caller.controller.CallID())

	require.NoError(t, caller.controller.HangUp())
	assert.Equal(t, "ended", waitTerminated(t, callee))
}

func TestCallToOfflineUserTerminates(t *testing.T) {
	relayURL := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := startEndpoint(t, ctx, relayURL, "alice", false)

	callID, err := caller.controller.Dial(ctx, "ghost", false)
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	assert.Equal(t, domain.RejectReasonOffline, waitTerminated(t, caller))
	assert.Equal(t, domain.PhaseIdle, caller.controller.Phase())
}

func TestSecondCallerGetsBusy(t *testing.T) {
	relayURL := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := startEndpoint(t, ctx, relayURL, "alice", false)
	callee := startEndpoint(t, ctx, relayURL, "bob", true)
	rival := startEndpoint(t, ctx, relayURL, "carol", false)

	_, err := caller.controller.Dial(ctx, "bob", false)
	require.NoError(t, err)
	waitPhase(t, caller, domain.PhaseConnected)
	waitPhase(t, callee, domain.PhaseConnected)

	_, err = rival.controller.Dial(ctx, "bob", false)
	require.NoError(t, err)

	assert.Equal(t, domain.RejectReasonBusy, waitTerminated(t, rival))
	assert.Equal(t, domain.PhaseConnected, callee.controller.Phase())
}

func TestCalleeRejectionReachesCaller(t *testing.T) {
	relayURL := startRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := startEndpoint(t, ctx, relayURL, "alice", false)
	callee := startEndpoint(t, ctx, relayURL, "bob", false)

	_, err := caller.controller.Dial(ctx, "bob", false)
	require.NoError(t, err)

	waitPhase(t, callee, domain.PhaseIncoming)
	require.NoError(t, callee.controller.Reject())

	assert.Equal(t, "declined", waitTerminated(t, caller))
	assert.Equal(t, domain.PhaseIdle, caller.controller.Phase())
	assert.Equal(t, domain.PhaseIdle, callee.controller.Phase())
}
