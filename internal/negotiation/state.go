package negotiation

// State mirrors the standard offer/answer signaling states and drives
// collision resolution.
type State int

const (
	// StateIdle: no offer in flight on either side.
	StateIdle State = iota
	// StateHaveLocalOffer: we sent an offer and await the answer.
	StateHaveLocalOffer
	// StateHaveRemoteOffer: a remote offer was applied and the answer is
	// being produced.
	StateHaveRemoteOffer
	// StateStable: one offer/answer exchange completed.
	StateStable
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateStable:
		return "stable"
	default:
		return "unknown"
	}
}
