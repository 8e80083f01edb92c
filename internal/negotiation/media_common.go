package negotiation

import (
	"log"

	"github.com/pion/webrtc/v4"
)

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produce valid m-lines with ICE credentials
// even when no local capture is available.
func addRecvOnlyTransceivers(sessionID string, pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("NEGOTIATE [%s]: AddTransceiver(video): %v", sessionID, err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("NEGOTIATE [%s]: AddTransceiver(audio): %v", sessionID, err)
	}
}

// iceConfiguration builds the peer-connection config from the URL list.
func iceConfiguration(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		urls = []string{"stun:stun.l.google.com:19302"}
	}
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// noMedia is the Media for a receive-only connection: nothing to toggle,
// nothing to release.
type noMedia struct{}

func (noMedia) SetVideoEnabled(bool) bool { return false }
func (noMedia) SetAudioEnabled(bool) bool { return false }
func (noMedia) Stop()                     {}
