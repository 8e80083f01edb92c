package negotiation

import "github.com/pion/webrtc/v4"

// Signaling message types on the /ws/signaling/{sessionId}/ topic.
const (
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// offerMessage carries an SDP offer. The embedded SessionDescription
// marshals to the standard {type, sdp} shape.
type offerMessage struct {
	Type  string                    `json:"type"` // TypeOffer
	Offer webrtc.SessionDescription `json:"offer"`
}

// answerMessage carries the SDP answer back.
type answerMessage struct {
	Type   string                    `json:"type"` // TypeAnswer
	Answer webrtc.SessionDescription `json:"answer"`
}

// candidateMessage carries one trickle ICE candidate.
type candidateMessage struct {
	Type      string                  `json:"type"` // TypeICECandidate
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}
