package call

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const keyframeInterval = 3 * time.Second

// peerSession wraps one webrtc.PeerConnection for the lifetime of a single
// call attempt. It owns nothing but the connection; track lifecycle stays
// with the controller.
type peerSession struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	hasRemote bool
	closed    bool

	logger *zap.SugaredLogger
}

func newPeerSession(
	iceServers []string,
	tracks []Track,
	onICECandidate func(*webrtc.ICECandidate),
	onStateChange func(webrtc.PeerConnectionState),
	onRemoteTrack func(*webrtc.TrackRemote),
	logger *zap.SugaredLogger,
) (*peerSession, error) {
	config := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peerSession{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		logger:  logger,
	}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track.Local())
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		p.senders[track.Kind()] = sender
		go p.drainSenderRTCP(sender)
	}

	pc.OnICECandidate(onICECandidate)
	pc.OnConnectionStateChange(onStateChange)
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Infow("remote track arrived",
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go p.requestKeyframes(track.SSRC())
		}
		if onRemoteTrack != nil {
			onRemoteTrack(track)
		}
	})

	return p, nil
}

// CreateOffer produces the local offer. SetLocalDescription completes before
// the description is returned, so the caller can put it on the wire directly.
func (p *peerSession) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

// HandleOffer applies the remote offer and produces the local answer.
func (p *peerSession) HandleOffer(raw json.RawMessage) (webrtc.SessionDescription, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("malformed offer: %w", err)
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote offer: %w", err)
	}
	p.markRemoteSet()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local answer: %w", err)
	}
	return answer, nil
}

// HandleAnswer applies the remote answer on the offering side.
func (p *peerSession) HandleAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("malformed answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	p.markRemoteSet()
	return nil
}

// AddICECandidate applies one trickled candidate.
func (p *peerSession) AddICECandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("malformed ice candidate: %w", err)
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ice candidate: %w", err)
	}
	return nil
}

// ReplaceVideoTrack swaps the outgoing video track in place. No
// renegotiation happens and the audio sender is untouched.
func (p *peerSession) ReplaceVideoTrack(track Track) error {
	p.mu.Lock()
	sender, ok := p.senders[webrtc.RTPCodecTypeVideo]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("no video sender on this call")
	}
	if err := sender.ReplaceTrack(track.Local()); err != nil {
		return fmt.Errorf("failed to replace video track: %w", err)
	}
	return nil
}

func (p *peerSession) markRemoteSet() {
	p.mu.Lock()
	p.hasRemote = true
	p.mu.Unlock()
}

// RemoteSet reports whether a remote description was already applied. Used
// to drop duplicate offers on an established call.
func (p *peerSession) RemoteSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasRemote
}

func (p *peerSession) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.pc.Close(); err != nil {
		p.logger.Warnw("error closing peer connection", "error", err)
	}
}

// requestKeyframes asks the remote sender for a fresh keyframe periodically
// so late-started decoders can sync onto the stream.
func (p *peerSession) requestKeyframes(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
		})
		if err != nil {
			return
		}
	}
}

// drainSenderRTCP reads sender reports so the interceptor pipeline keeps
// flowing. pion stalls the sender if nobody reads.
func (p *peerSession) drainSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
