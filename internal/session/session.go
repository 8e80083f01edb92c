// Package session defines the pairing handle shared by the matching,
// negotiation, chat and fuse layers, and the registry that enforces the
// one-active-session invariant.
package session

import (
	"fmt"
	"log"
	"sync"
)

// Session is one pairing between the local identity and a counterpart. It is
// created the instant a pairing event arrives and destroyed when the user
// ends the chat or the remote peer disconnects.
type Session struct {
	// ID is the server-issued session identifier. All session-scoped wire
	// topics (signaling, chat) embed it.
	ID string
	// CounterpartID is the matched user's unique identity, the value the
	// negotiation role is ordered against.
	CounterpartID string
	// Counterpart is the matched user's display name.
	Counterpart string
}

// Registry tracks the single active session for a local identity. Events
// scoped to a session that is no longer active must be discarded; Active
// gives owners the check.
type Registry struct {
	mu     sync.Mutex
	active *Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Begin activates a session. It fails while another session is active;
// at most one session may exist per local identity.
func (r *Registry) Begin(s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		if r.active.ID == s.ID {
			// Duplicate pairing event for the session we already hold.
			return nil
		}
		return fmt.Errorf("session %s already active", r.active.ID)
	}
	r.active = s
	log.Printf("SESSION: %s active (with %s)", s.ID, s.Counterpart)
	return nil
}

// Active reports whether id names the currently active session. Stale
// asynchronous events (a late match push, a delayed offer) check here and
// drop themselves.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil && r.active.ID == id
}

// Current returns the active session, or nil.
func (r *Registry) Current() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// End deactivates the session with the given id. Ending an inactive or
// unknown id is a no-op, so teardown paths may race harmlessly.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.ID != id {
		return
	}
	log.Printf("SESSION: %s ended", id)
	r.active = nil
}
