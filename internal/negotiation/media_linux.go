//go:build linux

package negotiation

import (
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// localMedia owns the captured tracks and their RTP senders. Toggling swaps
// the sender's track out and back in; no renegotiation, no signaling.
type localMedia struct {
	sessionID string
	tracks    []mediadevices.Track

	videoTrack  webrtc.TrackLocal
	videoSender *webrtc.RTPSender
	audioTrack  webrtc.TrackLocal
	audioSender *webrtc.RTPSender
}

func (m *localMedia) SetVideoEnabled(enabled bool) bool {
	return m.toggle(m.videoSender, m.videoTrack, enabled)
}

func (m *localMedia) SetAudioEnabled(enabled bool) bool {
	return m.toggle(m.audioSender, m.audioTrack, enabled)
}

func (m *localMedia) toggle(sender *webrtc.RTPSender, track webrtc.TrackLocal, enabled bool) bool {
	if sender == nil || track == nil {
		return false
	}
	var next webrtc.TrackLocal
	if enabled {
		next = track
	}
	if err := sender.ReplaceTrack(next); err != nil {
		log.Printf("NEGOTIATE [%s]: toggle track: %v", m.sessionID, err)
		return !enabled
	}
	return enabled
}

func (m *localMedia) Stop() {
	for _, t := range m.tracks {
		t.Close()
	}
	log.Printf("NEGOTIATE [%s]: capture released", m.sessionID)
}

// newMediaPeerConnection creates the peer connection with VP8+Opus codecs
// and captures camera/mic via pion/mediadevices (V4L2 + malgo). Capture is
// attempted as video+audio, then video-only, then audio-only; if every
// attempt fails the connection degrades to receive-only so the session can
// still show the remote side.
func newMediaPeerConnection(cfg Config) (*webrtc.PeerConnection, Media, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = cfg.VideoBitrate
	if vpxParams.BitRate <= 0 {
		vpxParams.BitRate = 1_500_000
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts so a brief NAT/relay hiccup does not end the
	// conversation. The 5 s default disconnectedTimeout is too short.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(iceConfiguration(cfg.ICEServers))
	if err != nil {
		return nil, nil, err
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw formats only, MJPEG camera nodes can emit malformed
				// frames that poison the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				if cfg.MaxWidth > 0 {
					c.Width = prop.IntRanged{Max: cfg.MaxWidth}
				}
				if cfg.MaxHeight > 0 {
					c.Height = prop.IntRanged{Max: cfg.MaxHeight}
				}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("NEGOTIATE [%s]: GetUserMedia (%s) failed: %v", cfg.SessionID, a.label, err)
			continue
		}

		m := &localMedia{sessionID: cfg.SessionID, tracks: stream.GetTracks()}
		ok := true
		for _, track := range m.tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Printf("NEGOTIATE [%s]: local track ended: %v", cfg.SessionID, err)
				}
			})
			sender, err := pc.AddTrack(track)
			if err != nil {
				log.Printf("NEGOTIATE [%s]: AddTrack: %v", cfg.SessionID, err)
				ok = false
				break
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeVideo:
				m.videoTrack, m.videoSender = track, sender
			case webrtc.RTPCodecTypeAudio:
				m.audioTrack, m.audioSender = track, sender
			}
		}
		if !ok {
			m.Stop()
			continue
		}

		log.Printf("NEGOTIATE [%s]: local media captured (%s), %d tracks",
			cfg.SessionID, a.label, len(m.tracks))
		return pc, m, nil
	}

	// Permission denied or no devices: text chat stays available, video
	// becomes receive-only.
	log.Printf("NEGOTIATE [%s]: all capture attempts failed, receive-only", cfg.SessionID)
	addRecvOnlyTransceivers(cfg.SessionID, pc)
	return pc, noMedia{}, nil
}
