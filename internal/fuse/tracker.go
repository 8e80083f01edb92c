package fuse

import (
	"context"
	"log"
	"sync"
)

// api is the slice of Client the tracker drives; tests inject a fake.
type api interface {
	Like(ctx context.Context, sessionID string) (*LikeOutcome, error)
	ShareContact(ctx context.Context, fuseMomentID string, card ContactCard) error
}

// Tracker remembers which sessions the local user already liked and which
// fuse moments have had contact shared. Repeating a like is answered from
// the cache without touching the server; failed likes are not cached so a
// retry goes out again.
type Tracker struct {
	api api

	mu        sync.Mutex
	liked     map[string]*LikeOutcome
	exchanged map[string]bool
}

// NewTracker wraps the fuse API client with local idempotence.
func NewTracker(client *Client) *Tracker {
	return newTracker(client)
}

func newTracker(a api) *Tracker {
	return &Tracker{
		api:       a,
		liked:     make(map[string]*LikeOutcome),
		exchanged: make(map[string]bool),
	}
}

// Like likes the session, at most once. A repeat returns the cached outcome.
// The server's get-or-create keeps a racing duplicate harmless.
func (t *Tracker) Like(ctx context.Context, sessionID string) (*LikeOutcome, error) {
	t.mu.Lock()
	if outcome, ok := t.liked[sessionID]; ok {
		t.mu.Unlock()
		log.Printf("FUSE: session %s already liked", sessionID)
		return outcome, nil
	}
	t.mu.Unlock()

	outcome, err := t.api.Like(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.liked[sessionID] = outcome
	t.mu.Unlock()

	if outcome.FuseMoment {
		log.Printf("FUSE: mutual like on session %s, fuse moment %s", sessionID, outcome.FuseMomentID)
	} else {
		log.Printf("FUSE: liked session %s", sessionID)
	}
	return outcome, nil
}

// Liked reports whether the local user already liked the session.
func (t *Tracker) Liked(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.liked[sessionID]
	return ok
}

// ShareContact sends the contact card for a fuse moment. The first success
// marks the moment exchanged; later calls are updates and go through
// unchanged.
func (t *Tracker) ShareContact(ctx context.Context, fuseMomentID string, card ContactCard) error {
	if err := t.api.ShareContact(ctx, fuseMomentID, card); err != nil {
		return err
	}

	t.mu.Lock()
	first := !t.exchanged[fuseMomentID]
	t.exchanged[fuseMomentID] = true
	t.mu.Unlock()

	if first {
		log.Printf("FUSE: contact shared for moment %s", fuseMomentID)
	} else {
		log.Printf("FUSE: contact updated for moment %s", fuseMomentID)
	}
	return nil
}

// ContactExchanged reports whether the local user shared contact for the
// moment at least once.
func (t *Tracker) ContactExchanged(fuseMomentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exchanged[fuseMomentID]
}
