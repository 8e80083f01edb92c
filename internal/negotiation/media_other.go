//go:build !linux

package negotiation

import (
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// newMediaPeerConnection creates a receive-only peer connection on
// non-Linux platforms. Camera/mic capture via pion/mediadevices needs
// platform drivers (V4L2/malgo) that are only wired up for Linux here.
func newMediaPeerConnection(cfg Config) (*webrtc.PeerConnection, Media, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(iceConfiguration(cfg.ICEServers))
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(cfg.SessionID, pc)
	log.Printf("NEGOTIATE [%s]: peer connection ready (receive-only on this platform)", cfg.SessionID)
	return pc, noMedia{}, nil
}
