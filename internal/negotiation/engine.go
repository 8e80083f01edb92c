// Package negotiation establishes the peer-to-peer media path for a session.
//
// Two independently-initiating endpoints exchange offer/answer/ICE over a
// signaling channel. Because both are capable of offering first, the engine
// applies the perfect-negotiation collision rule: roles are derived from a
// total order on the peer identities, the impolite peer's offer wins a
// collision and the polite peer always yields.
package negotiation

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/fusetalk/fuselink/internal/channel"
)

// peerConnector is the slice of *webrtc.PeerConnection the state machine
// drives. Narrowing it to an interface lets tests inject signaling events
// without a live transport or media stack.
type peerConnector interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	RemoteDescription() *webrtc.SessionDescription
	Close() error
}

// signaler is the outbound half of the signaling channel.
type signaler interface {
	Send(v any) error
	Close()
}

// Media is the engine's handle on local capture: enable/disable without
// renegotiation, and release on teardown.
type Media interface {
	// SetVideoEnabled/SetAudioEnabled flip the outgoing track. They are
	// local-only operations with no signaling side effect. The return value
	// is the effective state (false when no such track was captured).
	SetVideoEnabled(enabled bool) bool
	SetAudioEnabled(enabled bool) bool
	// Stop releases the capture devices.
	Stop()
}

// Callbacks surface engine events. Any field may be nil.
type Callbacks struct {
	// OnRemoteTrack fires when a remote media track arrives.
	OnRemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	// OnConnectionChange reports the peer connection going (un)available.
	OnConnectionChange func(connected bool)
	// OnError reports non-fatal signaling/transport problems.
	OnError func(err error)
}

// Engine runs one session's negotiation. All state transitions are
// serialized: signaling events arrive on the channel's single reader
// goroutine and the kickoff timer takes the same lock.
type Engine struct {
	sessionID string
	role      Role
	cb        Callbacks

	sigMu sync.Mutex
	sig   signaler

	mu         sync.Mutex
	state      State
	pc         peerConnector
	media      Media
	pending    []webrtc.ICECandidateInit // candidates buffered until a remote description exists
	offerTimer *time.Timer
	closed     bool

	videoOn bool
	audioOn bool
}

// Config for Start.
type Config struct {
	SessionID string
	// LocalID and RemoteID are the two peer identities the role derives
	// from. They must be the unique user ids from the match event, not
	// nicknames: nicknames can collide, and equal identities order nothing.
	LocalID  string
	RemoteID string
	// SignalingURL is the full websocket URL including the token query.
	SignalingURL string
	ChannelOpts  channel.Options
	// OfferDelay is the settle time before the impolite peer's initial
	// offer. Zero defaults to 1 s.
	OfferDelay time.Duration

	ICEServers   []string
	VideoBitrate int
	MaxWidth     int
	MaxHeight    int

	Callbacks Callbacks
}

// Start acquires local media, creates the peer connection and opens the
// signaling channel. Capture failure degrades to receive-only; only a
// failure to build the peer connection itself is fatal.
func Start(cfg Config) (*Engine, error) {
	if cfg.LocalID == cfg.RemoteID {
		// Equal identities cannot be ordered, so neither side would ever
		// offer. The match payload carries unique user ids; refuse anything
		// else up front instead of hanging in idle.
		return nil, fmt.Errorf("peer identities must differ, both are %q", cfg.LocalID)
	}
	if cfg.OfferDelay <= 0 {
		cfg.OfferDelay = time.Second
	}

	role := RoleBetween(cfg.LocalID, cfg.RemoteID)
	log.Printf("NEGOTIATE [%s]: role %s (%s vs %s)", cfg.SessionID, role, cfg.LocalID, cfg.RemoteID)

	pc, media, err := newMediaPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	e := newEngine(cfg.SessionID, role, pc, nil, media, cfg.Callbacks)

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("NEGOTIATE [%s]: remote %s track", cfg.SessionID, track.Kind())
		if e.cb.OnRemoteTrack != nil {
			e.cb.OnRemoteTrack(track, receiver)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("NEGOTIATE [%s]: connection state %s", cfg.SessionID, s)
		if e.cb.OnConnectionChange != nil {
			e.cb.OnConnectionChange(s == webrtc.PeerConnectionStateConnected)
		}
	})
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		e.sendSignal(candidateMessage{Type: TypeICECandidate, Candidate: cand.ToJSON()})
	})

	var kickoffOnce sync.Once
	e.setSignaler(channel.Dial("signaling "+cfg.SessionID, cfg.SignalingURL, cfg.ChannelOpts,
		e.HandleSignal,
		func(connected bool, err error) {
			if err != nil && e.cb.OnError != nil {
				e.cb.OnError(err)
			}
			// Role-based kickoff, once, after signaling first connects.
			if connected {
				kickoffOnce.Do(func() { e.kickoff(cfg.OfferDelay) })
			}
		}))

	return e, nil
}

// newEngine wires the state machine over its collaborators. Start supplies
// the real stack; tests inject fakes and drive HandleSignal directly.
func newEngine(sessionID string, role Role, pc peerConnector, sig signaler, media Media, cb Callbacks) *Engine {
	return &Engine{
		sessionID: sessionID,
		role:      role,
		cb:        cb,
		state:     StateIdle,
		pc:        pc,
		sig:       sig,
		media:     media,
		videoOn:   true,
		audioOn:   true,
	}
}

func (e *Engine) setSignaler(sig signaler) {
	e.sigMu.Lock()
	e.sig = sig
	e.sigMu.Unlock()
}

// kickoff arms the initial-offer timer on the impolite side. The polite
// peer sends nothing and waits for an offer.
func (e *Engine) kickoff(delay time.Duration) {
	if e.role != Impolite {
		log.Printf("NEGOTIATE [%s]: polite, waiting for offer", e.sessionID)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.offerTimer = time.AfterFunc(delay, e.sendInitialOffer)
}

func (e *Engine) sendInitialOffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != StateIdle {
		return
	}
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		e.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		e.fail(fmt.Errorf("set local offer: %w", err))
		return
	}
	e.state = StateHaveLocalOffer
	log.Printf("NEGOTIATE [%s]: sent initial offer", e.sessionID)
	e.sendSignal(offerMessage{Type: TypeOffer, Offer: offer})
}

// HandleSignal processes one inbound signaling frame. Exported so tests can
// drive the state machine by direct event injection. Invalid-state messages
// are named branches: logged and dropped, never fatal to the session.
func (e *Engine) HandleSignal(raw json.RawMessage) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Printf("NEGOTIATE [%s]: dropping malformed signal: %v", e.sessionID, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		log.Printf("NEGOTIATE [%s]: dropping %s after close", e.sessionID, probe.Type)
		return
	}

	switch probe.Type {
	case TypeOffer:
		var msg offerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("NEGOTIATE [%s]: dropping malformed offer: %v", e.sessionID, err)
			return
		}
		e.handleOffer(msg.Offer)

	case TypeAnswer:
		var msg answerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("NEGOTIATE [%s]: dropping malformed answer: %v", e.sessionID, err)
			return
		}
		e.handleAnswer(msg.Answer)

	case TypeICECandidate:
		var msg candidateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("NEGOTIATE [%s]: dropping malformed candidate: %v", e.sessionID, err)
			return
		}
		e.handleCandidate(msg.Candidate)

	default:
		log.Printf("NEGOTIATE [%s]: ignoring signal type %q", e.sessionID, probe.Type)
	}
}

// handleOffer applies the collision policy. Called with e.mu held.
func (e *Engine) handleOffer(offer webrtc.SessionDescription) {
	collision := e.state != StateIdle
	if collision && e.role == Impolite {
		// Our own offer wins. No state change, no response.
		log.Printf("NEGOTIATE [%s]: offer collision, impolite, ignoring remote offer", e.sessionID)
		return
	}
	if collision {
		// Polite: the local offer is abandoned in favor of the remote one.
		log.Printf("NEGOTIATE [%s]: offer collision, polite, yielding", e.sessionID)
	}

	if err := e.pc.SetRemoteDescription(offer); err != nil {
		e.fail(fmt.Errorf("set remote offer: %w", err))
		return
	}
	e.state = StateHaveRemoteOffer
	e.flushCandidates()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		e.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		e.fail(fmt.Errorf("set local answer: %w", err))
		return
	}
	e.state = StateStable
	log.Printf("NEGOTIATE [%s]: answered offer, stable", e.sessionID)
	e.sendSignal(answerMessage{Type: TypeAnswer, Answer: answer})
}

// handleAnswer is only valid from have-local-offer. Called with e.mu held.
func (e *Engine) handleAnswer(answer webrtc.SessionDescription) {
	if e.state != StateHaveLocalOffer {
		log.Printf("NEGOTIATE [%s]: stale answer in state %s, dropping", e.sessionID, e.state)
		return
	}
	if err := e.pc.SetRemoteDescription(answer); err != nil {
		e.fail(fmt.Errorf("set remote answer: %w", err))
		return
	}
	e.state = StateStable
	e.flushCandidates()
	log.Printf("NEGOTIATE [%s]: answer applied, stable", e.sessionID)
}

// handleCandidate buffers candidates that outran the offer; they are
// flushed as soon as a remote description exists. Called with e.mu held.
func (e *Engine) handleCandidate(cand webrtc.ICECandidateInit) {
	if e.pc.RemoteDescription() == nil {
		e.pending = append(e.pending, cand)
		log.Printf("NEGOTIATE [%s]: buffering early candidate (%d pending)", e.sessionID, len(e.pending))
		return
	}
	if err := e.pc.AddICECandidate(cand); err != nil {
		log.Printf("NEGOTIATE [%s]: add candidate: %v", e.sessionID, err)
	}
}

// flushCandidates applies everything buffered before the remote description
// arrived. Called with e.mu held, after SetRemoteDescription succeeded.
func (e *Engine) flushCandidates() {
	for _, cand := range e.pending {
		if err := e.pc.AddICECandidate(cand); err != nil {
			log.Printf("NEGOTIATE [%s]: flush candidate: %v", e.sessionID, err)
		}
	}
	if n := len(e.pending); n > 0 {
		log.Printf("NEGOTIATE [%s]: flushed %d buffered candidates", e.sessionID, n)
	}
	e.pending = nil
}

// ToggleVideo flips the outgoing video track. Local-only: no renegotiation,
// no signaling. Returns the new enabled state.
func (e *Engine) ToggleVideo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.media == nil {
		return false
	}
	e.videoOn = e.media.SetVideoEnabled(!e.videoOn)
	log.Printf("NEGOTIATE [%s]: video enabled=%v", e.sessionID, e.videoOn)
	return e.videoOn
}

// ToggleAudio flips the outgoing audio track. Returns the new enabled state.
func (e *Engine) ToggleAudio() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.media == nil {
		return false
	}
	e.audioOn = e.media.SetAudioEnabled(!e.audioOn)
	log.Printf("NEGOTIATE [%s]: audio enabled=%v", e.sessionID, e.audioOn)
	return e.audioOn
}

// State returns the current negotiation state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Role returns the role computed for this session.
func (e *Engine) Role() Role { return e.role }

// Close tears the engine down in release order: capture devices first, then
// the peer connection, then the signaling channel, so no late signal can
// revive a half-closed connection. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.offerTimer != nil {
		e.offerTimer.Stop()
		e.offerTimer = nil
	}
	media, pc := e.media, e.pc
	e.pending = nil
	e.mu.Unlock()

	e.sigMu.Lock()
	sig := e.sig
	e.sig = nil
	e.sigMu.Unlock()

	if media != nil {
		media.Stop()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Printf("NEGOTIATE [%s]: close peer connection: %v", e.sessionID, err)
		}
	}
	if sig != nil {
		sig.Close()
	}
	log.Printf("NEGOTIATE [%s]: closed", e.sessionID)
}

// sendSignal writes to the signaling channel. Safe from both the locked
// state machine and pion's callback goroutines.
func (e *Engine) sendSignal(v any) {
	e.sigMu.Lock()
	sig := e.sig
	e.sigMu.Unlock()
	if sig == nil {
		return
	}
	if err := sig.Send(v); err != nil {
		log.Printf("NEGOTIATE [%s]: send signal: %v", e.sessionID, err)
	}
}

// fail logs a protocol error and reports it without tearing the session
// down. Called with e.mu held; the callback runs off the lock.
func (e *Engine) fail(err error) {
	log.Printf("NEGOTIATE [%s]: %v", e.sessionID, err)
	if e.cb.OnError != nil {
		go e.cb.OnError(err)
	}
}
