package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"parley/internal/core/domain"
	"parley/internal/infrastructure/signal"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// DefaultRingTimeout bounds how long a call attempt may sit unanswered on
// either side.
const DefaultRingTimeout = 30 * time.Second

// Config carries the per-client call settings.
type Config struct {
	ICEServers  []string
	RingTimeout time.Duration
}

// Controller drives one user's call state against the relay. It mirrors the
// remote party through the signaling protocol: idle, calling, incoming,
// connected. At most one call attempt is live at a time; a second incoming
// invite is auto-rejected as busy and a second Dial returns ErrBusy.
type Controller struct {
	self     domain.UserID
	selfName string
	sock     *Socket
	device   MediaDevice
	cfg      Config
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	phase      domain.CallPhase
	callID     domain.CallID
	remote     domain.UserID
	remoteName string
	isVideo    bool
	peer       *peerSession
	audio      Track
	video      Track
	ringTimer  *time.Timer

	onPhase       func(domain.CallPhase)
	onTerminated  func(domain.CallID, string)
	onRemoteTrack func(*webrtc.TrackRemote)
}

// NewController wires a controller onto the socket. Handler registration
// happens here, so construct the controller before Listen starts.
func NewController(self domain.UserID, selfName string, sock *Socket, device MediaDevice, cfg Config, logger *zap.SugaredLogger) *Controller {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}

	c := &Controller{
		self:     self,
		selfName: selfName,
		sock:     sock,
		device:   device,
		cfg:      cfg,
		logger:   logger,
		phase:    domain.PhaseIdle,
	}

	sock.On(signal.EventCallIncoming, c.handleIncoming)
	sock.On(signal.EventCallAccepted, c.handleAccepted)
	sock.On(signal.EventCallRejected, c.handleRejected)
	sock.On(signal.EventCallEnded, c.handleEnded)
	sock.On(signal.EventWebRTCOffer, c.handleOffer)
	sock.On(signal.EventWebRTCAnswer, c.handleAnswer)
	sock.On(signal.EventWebRTCICECandidate, c.handleCandidate)

	return c
}

// OnPhaseChange registers the phase observer. Runs off the caller's goroutine
// and the socket read loop; keep it fast.
func (c *Controller) OnPhaseChange(fn func(domain.CallPhase)) {
	c.mu.Lock()
	c.onPhase = fn
	c.mu.Unlock()
}

// OnTerminated registers the observer for call endings, with the reason the
// call died: the remote reject reason, "ended", "timeout" or
// "connection-lost".
func (c *Controller) OnTerminated(fn func(domain.CallID, string)) {
	c.mu.Lock()
	c.onTerminated = fn
	c.mu.Unlock()
}

// OnRemoteTrack registers the consumer for remote media.
func (c *Controller) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onRemoteTrack = fn
	c.mu.Unlock()
}

// Phase returns the current call phase.
func (c *Controller) Phase() domain.CallPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CallID returns the live attempt's id, empty when idle.
func (c *Controller) CallID() domain.CallID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Dial starts an outgoing call. Media comes up first; if the device fails
// nothing reaches the network.
func (c *Controller) Dial(ctx context.Context, receiver domain.UserID, video bool) (domain.CallID, error) {
	c.mu.Lock()
	if c.phase != domain.PhaseIdle {
		c.mu.Unlock()
		return "", domain.ErrBusy
	}
	c.mu.Unlock()

	audio, videoTrack, err := c.openMedia(ctx, video)
	if err != nil {
		return "", err
	}

	callID := domain.CallID(uuid.NewString())

	c.mu.Lock()
	if c.phase != domain.PhaseIdle {
		c.mu.Unlock()
		stopTracks(audio, videoTrack)
		return "", domain.ErrBusy
	}
	c.phase = domain.PhaseCalling
	c.callID = callID
	c.remote = receiver
	c.isVideo = video
	c.audio = audio
	c.video = videoTrack
	c.startRingTimerLocked(callID)
	c.mu.Unlock()

	err = c.sock.Emit(signal.EventCallInitiate, signal.CallInitiatePayload{
		CallID:     callID,
		CallerID:   c.self,
		CallerName: c.selfName,
		ReceiverID: receiver,
		IsVideo:    video,
	})
	if err != nil {
		c.teardown(callID)
		return "", fmt.Errorf("failed to send call invite: %w", err)
	}

	c.notifyPhase(domain.PhaseCalling)
	return callID, nil
}

// Accept answers the pending incoming call: media up, peer connection built
// with local tracks attached, then call:accept on the wire. The caller's
// offer arrives afterwards and is answered in handleOffer.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != domain.PhaseIncoming {
		c.mu.Unlock()
		return fmt.Errorf("no incoming call to accept")
	}
	callID := c.callID
	caller := c.remote
	wantVideo := c.isVideo
	c.mu.Unlock()

	audio, video, err := c.openMedia(ctx, wantVideo)
	if err != nil {
		return err
	}

	peer, err := c.buildPeer(callID, caller, collectTracks(audio, video))
	if err != nil {
		stopTracks(audio, video)
		return err
	}

	c.mu.Lock()
	if c.phase != domain.PhaseIncoming || c.callID != callID {
		c.mu.Unlock()
		peer.Close()
		stopTracks(audio, video)
		return domain.ErrCallSuperseded
	}
	c.audio = audio
	c.video = video
	c.peer = peer
	c.stopRingTimerLocked()
	c.phase = domain.PhaseConnected
	c.mu.Unlock()

	err = c.sock.Emit(signal.EventCallAccept, signal.CallDecisionPayload{
		CallID:     callID,
		CallerID:   caller,
		ReceiverID: c.self,
	})
	if err != nil {
		c.teardown(callID)
		return fmt.Errorf("failed to send accept: %w", err)
	}

	c.notifyPhase(domain.PhaseConnected)
	return nil
}

// Reject declines the pending incoming call.
func (c *Controller) Reject() error {
	c.mu.Lock()
	if c.phase != domain.PhaseIncoming {
		c.mu.Unlock()
		return fmt.Errorf("no incoming call to reject")
	}
	callID := c.callID
	caller := c.remote
	c.mu.Unlock()

	err := c.sock.Emit(signal.EventCallReject, signal.CallDecisionPayload{
		CallID:     callID,
		CallerID:   caller,
		ReceiverID: c.self,
	})
	c.teardown(callID)
	return err
}

// HangUp ends the live call, if any. Safe to call when idle.
func (c *Controller) HangUp() error {
	c.mu.Lock()
	if c.phase == domain.PhaseIdle {
		c.mu.Unlock()
		return nil
	}
	callID := c.callID
	remote := c.remote
	c.mu.Unlock()

	err := c.sock.Emit(signal.EventCallEnd, signal.CallEndPayload{
		CallID:      callID,
		UserID:      c.self,
		OtherUserID: remote,
	})
	c.teardown(callID)
	return err
}

// FlipCamera swaps the outgoing video source in place. The new track goes
// out through RTPSender.ReplaceTrack, so there is no renegotiation and the
// audio track is untouched.
func (c *Controller) FlipCamera(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != domain.PhaseConnected || c.peer == nil || c.video == nil {
		c.mu.Unlock()
		return fmt.Errorf("no active video call")
	}
	callID := c.callID
	peer := c.peer
	old := c.video
	c.mu.Unlock()

	fresh, err := c.device.OpenVideo(ctx)
	if err != nil {
		return err
	}
	if err := peer.ReplaceVideoTrack(fresh); err != nil {
		fresh.Stop()
		return err
	}

	c.mu.Lock()
	if c.callID == callID {
		c.video = fresh
	}
	c.mu.Unlock()
	old.Stop()
	return nil
}

func (c *Controller) handleIncoming(raw json.RawMessage) {
	var p signal.CallIncomingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed call:incoming", "error", err)
		return
	}

	c.mu.Lock()
	if c.phase != domain.PhaseIdle {
		current := c.callID
		c.mu.Unlock()
		if p.CallID == current {
			return
		}
		c.logger.Infow("auto-rejecting invite while busy",
			"call_id", p.CallID,
			"caller_id", p.CallerID,
		)
		c.sock.Emit(signal.EventCallReject, signal.CallDecisionPayload{
			CallID:     p.CallID,
			CallerID:   p.CallerID,
			ReceiverID: c.self,
			Reason:     domain.RejectReasonBusy,
		})
		return
	}
	c.phase = domain.PhaseIncoming
	c.callID = p.CallID
	c.remote = p.CallerID
	c.remoteName = p.CallerName
	c.isVideo = p.IsVideo
	c.startRingTimerLocked(p.CallID)
	c.mu.Unlock()

	c.logger.Infow("incoming call",
		"call_id", p.CallID,
		"caller_id", p.CallerID,
		"is_video", p.IsVideo,
	)
	c.notifyPhase(domain.PhaseIncoming)
}

func (c *Controller) handleAccepted(raw json.RawMessage) {
	var p signal.CallAcceptedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed call:accepted", "error", err)
		return
	}

	c.mu.Lock()
	if c.phase != domain.PhaseCalling || c.callID != p.CallID {
		c.mu.Unlock()
		c.logger.Debugw("dropping stale call:accepted", "call_id", p.CallID)
		return
	}
	callID := c.callID
	remote := c.remote
	tracks := collectTracks(c.audio, c.video)
	c.mu.Unlock()

	peer, err := c.buildPeer(callID, remote, tracks)
	if err != nil {
		c.logger.Errorw("failed to build peer connection", "call_id", callID, "error", err)
		c.connectionLost(callID)
		return
	}

	c.mu.Lock()
	if c.phase != domain.PhaseCalling || c.callID != callID {
		c.mu.Unlock()
		peer.Close()
		return
	}
	c.peer = peer
	c.stopRingTimerLocked()
	c.phase = domain.PhaseConnected
	c.mu.Unlock()

	offer, err := peer.CreateOffer()
	if err != nil {
		c.logger.Errorw("failed to create offer", "call_id", callID, "error", err)
		c.connectionLost(callID)
		return
	}

	desc, err := json.Marshal(offer)
	if err != nil {
		c.connectionLost(callID)
		return
	}
	err = c.sock.Emit(signal.EventWebRTCOffer, signal.SessionDescriptionPayload{
		CallID:      callID,
		CallerID:    c.self,
		ReceiverID:  remote,
		Description: desc,
	})
	if err != nil {
		c.logger.Errorw("failed to send offer", "call_id", callID, "error", err)
		c.connectionLost(callID)
		return
	}

	c.notifyPhase(domain.PhaseConnected)
}

func (c *Controller) handleRejected(raw json.RawMessage) {
	var p signal.CallRejectedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed call:rejected", "error", err)
		return
	}

	reason := p.Reason
	if reason == "" {
		reason = "declined"
	}
	c.logger.Infow("call rejected", "call_id", p.CallID, "reason", reason)
	c.terminate(p.CallID, reason)
}

func (c *Controller) handleEnded(raw json.RawMessage) {
	var p signal.CallEndedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed call:ended", "error", err)
		return
	}
	c.terminate(p.CallID, "ended")
}

func (c *Controller) handleOffer(raw json.RawMessage) {
	var p signal.SessionDescriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed webrtc:offer", "error", err)
		return
	}

	c.mu.Lock()
	peer := c.peer
	match := c.callID == p.CallID && peer != nil
	c.mu.Unlock()

	if !match {
		c.logger.Debugw("dropping offer for unknown call", "call_id", p.CallID)
		return
	}
	if peer.RemoteSet() {
		c.logger.Debugw("dropping duplicate offer", "call_id", p.CallID)
		return
	}

	answer, err := peer.HandleOffer(p.Description)
	if err != nil {
		c.logger.Errorw("failed to answer offer", "call_id", p.CallID, "error", err)
		c.connectionLost(p.CallID)
		return
	}

	desc, err := json.Marshal(answer)
	if err != nil {
		return
	}
	err = c.sock.Emit(signal.EventWebRTCAnswer, signal.SessionDescriptionPayload{
		CallID:      p.CallID,
		CallerID:    p.CallerID,
		ReceiverID:  c.self,
		Description: desc,
	})
	if err != nil {
		c.logger.Errorw("failed to send answer", "call_id", p.CallID, "error", err)
	}
}

func (c *Controller) handleAnswer(raw json.RawMessage) {
	var p signal.SessionDescriptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed webrtc:answer", "error", err)
		return
	}

	c.mu.Lock()
	peer := c.peer
	match := c.callID == p.CallID && peer != nil
	c.mu.Unlock()

	if !match {
		c.logger.Debugw("dropping answer for unknown call", "call_id", p.CallID)
		return
	}
	if peer.RemoteSet() {
		c.logger.Debugw("dropping duplicate answer", "call_id", p.CallID)
		return
	}

	if err := peer.HandleAnswer(p.Description); err != nil {
		c.logger.Errorw("failed to apply answer", "call_id", p.CallID, "error", err)
		c.connectionLost(p.CallID)
	}
}

func (c *Controller) handleCandidate(raw json.RawMessage) {
	var p signal.ICECandidatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.logger.Warnw("malformed webrtc:ice-candidate", "error", err)
		return
	}

	c.mu.Lock()
	peer := c.peer
	match := c.callID == p.CallID && peer != nil
	c.mu.Unlock()

	if !match {
		c.logger.Debugw("dropping candidate for unknown call", "call_id", p.CallID)
		return
	}
	if err := peer.AddICECandidate(p.Candidate); err != nil {
		c.logger.Warnw("failed to add candidate", "call_id", p.CallID, "error", err)
	}
}

// buildPeer wires a fresh peer session for one attempt. The state and ICE
// callbacks carry the attempt's id so events from a torn-down call fall on
// the floor.
func (c *Controller) buildPeer(callID domain.CallID, remote domain.UserID, tracks []Track) (*peerSession, error) {
	onCandidate := func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		err = c.sock.Emit(signal.EventWebRTCICECandidate, signal.ICECandidatePayload{
			CallID:     callID,
			SenderID:   c.self,
			ReceiverID: remote,
			Candidate:  raw,
		})
		if err != nil {
			c.logger.Warnw("failed to send candidate", "call_id", callID, "error", err)
		}
	}

	onState := func(state webrtc.PeerConnectionState) {
		c.logger.Infow("peer connection state changed",
			"call_id", callID,
			"connection_state", state,
		)
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.connectionLost(callID)
		}
	}

	onTrack := func(track *webrtc.TrackRemote) {
		c.mu.Lock()
		fn := c.onRemoteTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	}

	return newPeerSession(c.cfg.ICEServers, tracks, onCandidate, onState, onTrack, c.logger)
}

func (c *Controller) openMedia(ctx context.Context, video bool) (Track, Track, error) {
	audio, err := c.device.OpenAudio(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open microphone: %w", err)
	}
	if !video {
		return audio, nil, nil
	}
	videoTrack, err := c.device.OpenVideo(ctx)
	if err != nil {
		audio.Stop()
		return nil, nil, fmt.Errorf("failed to open camera: %w", err)
	}
	return audio, videoTrack, nil
}

func (c *Controller) startRingTimerLocked(callID domain.CallID) {
	c.stopRingTimerLocked()
	c.ringTimer = time.AfterFunc(c.cfg.RingTimeout, func() {
		c.ringExpired(callID)
	})
}

func (c *Controller) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

func (c *Controller) ringExpired(callID domain.CallID) {
	c.mu.Lock()
	ringing := c.callID == callID &&
		(c.phase == domain.PhaseCalling || c.phase == domain.PhaseIncoming)
	remote := c.remote
	c.mu.Unlock()

	if !ringing {
		return
	}

	c.logger.Infow("call timed out ringing", "call_id", callID)
	c.sock.Emit(signal.EventCallEnd, signal.CallEndPayload{
		CallID:      callID,
		UserID:      c.self,
		OtherUserID: remote,
	})
	c.terminate(callID, domain.RejectReasonTimeout)
}

// connectionLost handles a dead peer connection: tear down locally and let
// the other party know with a best-effort call:end, since they may still
// see a live connection. The liveness check keeps the teardown path from
// emitting for its own Close.
func (c *Controller) connectionLost(callID domain.CallID) {
	c.mu.Lock()
	live := c.callID == callID && c.phase != domain.PhaseIdle
	remote := c.remote
	c.mu.Unlock()

	if !live {
		return
	}

	c.sock.Emit(signal.EventCallEnd, signal.CallEndPayload{
		CallID:      callID,
		UserID:      c.self,
		OtherUserID: remote,
	})
	c.terminate(callID, "connection-lost")
}

// terminate tears down one attempt and reports the reason. Idempotent: a
// second call for the same id is a no-op.
func (c *Controller) terminate(callID domain.CallID, reason string) {
	if !c.teardown(callID) {
		return
	}
	c.mu.Lock()
	fn := c.onTerminated
	c.mu.Unlock()
	if fn != nil {
		fn(callID, reason)
	}
}

// teardown releases everything held for the attempt: peer connection closed,
// local tracks stopped, state back to idle. Returns false when the attempt
// was already gone.
func (c *Controller) teardown(callID domain.CallID) bool {
	c.mu.Lock()
	if c.phase == domain.PhaseIdle || c.callID != callID {
		c.mu.Unlock()
		return false
	}
	peer := c.peer
	audio := c.audio
	video := c.video
	c.peer = nil
	c.audio = nil
	c.video = nil
	c.stopRingTimerLocked()
	c.phase = domain.PhaseIdle
	c.callID = ""
	c.remote = ""
	c.remoteName = ""
	c.isVideo = false
	c.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	stopTracks(audio, video)

	c.notifyPhase(domain.PhaseIdle)
	return true
}

func (c *Controller) notifyPhase(phase domain.CallPhase) {
	c.mu.Lock()
	fn := c.onPhase
	c.mu.Unlock()
	if fn != nil {
		fn(phase)
	}
}

func collectTracks(tracks ...Track) []Track {
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func stopTracks(tracks ...Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
