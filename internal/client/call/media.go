package call

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"parley/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Track is one open local capture (microphone or camera). Stop releases the
// underlying source; the webrtc sender keeps its own reference until replaced
// or the peer connection closes.
type Track interface {
	Local() webrtc.TrackLocal
	Kind() webrtc.RTPCodecType
	Stop()
}

// MediaDevice acquires local tracks. Acquisition happens before any
// signaling is sent, so a failing device aborts a call attempt without
// touching the network.
type MediaDevice interface {
	OpenAudio(ctx context.Context) (Track, error)
	OpenVideo(ctx context.Context) (Track, error)
}

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// StaticDevice synthesizes silent Opus and blank VP8 RTP streams. It stands
// in for real capture hardware in headless peers and tests.
type StaticDevice struct {
	ssrcSeed uint32
}

func NewStaticDevice() *StaticDevice {
	return &StaticDevice{ssrcSeed: rand.Uint32()}
}

func (d *StaticDevice) OpenAudio(ctx context.Context) (Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"parley-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	return newPumpedTrack(local, webrtc.RTPCodecTypeAudio, audioFrameInterval, 960, d.ssrcSeed), nil
}

func (d *StaticDevice) OpenVideo(ctx context.Context) (Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		fmt.Sprintf("video-%d", time.Now().UnixNano()),
		"parley-video",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}
	return newPumpedTrack(local, webrtc.RTPCodecTypeVideo, videoFrameInterval, 3000, d.ssrcSeed+1), nil
}

// pumpedTrack writes synthetic RTP frames to its local track until stopped.
type pumpedTrack struct {
	local *webrtc.TrackLocalStaticRTP
	kind  webrtc.RTPCodecType

	stopOnce sync.Once
	stop     chan struct{}
}

func newPumpedTrack(local *webrtc.TrackLocalStaticRTP, kind webrtc.RTPCodecType, interval time.Duration, tsStep uint32, ssrc uint32) *pumpedTrack {
	t := &pumpedTrack{
		local: local,
		kind:  kind,
		stop:  make(chan struct{}),
	}
	go t.pump(interval, tsStep, ssrc)
	return t
}

func (t *pumpedTrack) Local() webrtc.TrackLocal  { return t.local }
func (t *pumpedTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *pumpedTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *pumpedTrack) pump(interval time.Duration, tsStep uint32, ssrc uint32) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := uint16(rand.Intn(1 << 16))
	timestamp := rand.Uint32()
	payloadType := uint8(111) // Opus
	if t.kind == webrtc.RTPCodecTypeVideo {
		payloadType = 96 // VP8
	}

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			packet := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         t.kind == webrtc.RTPCodecTypeVideo,
					PayloadType:    payloadType,
					SequenceNumber: seq,
					Timestamp:      timestamp,
					SSRC:           ssrc,
				},
				Payload: silentFrame(t.kind),
			}
			if err := t.local.WriteRTP(packet); err != nil {
				// No subscriber yet or the sender went away. Keep pumping
				// so a reattached sender picks the stream back up.
				continue
			}
			seq++
			timestamp += tsStep
		}
	}
}

func silentFrame(kind webrtc.RTPCodecType) []byte {
	if kind == webrtc.RTPCodecTypeAudio {
		// Minimal Opus silence frame.
		return []byte{0xf8, 0xff, 0xfe}
	}
	// VP8 payload descriptor followed by an empty frame.
	return []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}
}
