// Package queue implements the matching-queue client: a request/response
// join/leave API plus a push channel that turns asynchronous pairing events
// into a session handle exactly once per ticket.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/fusetalk/fuselink/internal/channel"
	"github.com/fusetalk/fuselink/internal/session"
)

// Ticket is the client-held record of one matching request. Transitions are
// server-driven; the only local mutation is discarding it on Leave.
type Ticket struct {
	Status   string
	Position int
	Session  *session.Session
}

// Callbacks surface coordinator events to the presentation layer. Any field
// may be nil.
type Callbacks struct {
	// OnSession fires exactly once per ticket with the new session handle.
	OnSession func(*session.Session)
	// OnQueueUpdate reports position changes while waiting.
	OnQueueUpdate func(position int)
	// OnError reports push-channel transport errors. Request errors are
	// returned from Join/Leave directly.
	OnError func(err error)
}

// Coordinator owns the matching push channel and the current ticket.
type Coordinator struct {
	api      *Client
	registry *session.Registry
	cb       Callbacks

	mu     sync.Mutex
	ticket *Ticket
	ch     *channel.Channel
}

// New creates a coordinator and opens the matching push channel.
// wsURL is the full /ws/matching/ URL including the token query.
func New(api *Client, wsURL string, opts channel.Options, registry *session.Registry, cb Callbacks) *Coordinator {
	c := &Coordinator{api: api, registry: registry, cb: cb}
	c.ch = channel.Dial("matching", wsURL, opts, c.handleMessage, func(connected bool, err error) {
		if err != nil && c.cb.OnError != nil {
			c.cb.OnError(err)
		}
	})
	return c
}

// Join enters the queue with the given preferences. A synchronous match
// resolves the session immediately; otherwise the ticket stays queued until
// a match_found push arrives. On request failure no ticket is retained and
// the caller may retry.
func (c *Coordinator) Join(ctx context.Context, prefs Preferences) (*Ticket, error) {
	c.mu.Lock()
	if c.ticket != nil && c.ticket.Status == StatusQueued {
		c.mu.Unlock()
		return nil, fmt.Errorf("already queued")
	}
	// Reserve the ticket before the request so a push racing the response
	// has something to resolve against.
	t := &Ticket{Status: StatusQueued}
	c.ticket = t
	c.mu.Unlock()

	resp, err := c.api.Join(ctx, prefs)
	if err != nil {
		c.mu.Lock()
		if c.ticket == t && t.Status == StatusQueued {
			c.ticket = nil
		}
		c.mu.Unlock()
		return nil, err
	}

	switch resp.Status {
	case StatusMatched:
		c.resolve(resp.SessionID, resp.MatchedUserID, resp.MatchedUser)
	case StatusQueued:
		c.mu.Lock()
		if c.ticket == t && t.Status == StatusQueued {
			t.Position = resp.QueuePosition
		}
		c.mu.Unlock()
		log.Printf("QUEUE: queued at position %d", resp.QueuePosition)
	default:
		c.mu.Lock()
		if c.ticket == t {
			c.ticket = nil
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("join queue: unknown status %q", resp.Status)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ticket == nil {
		// resolve reverted the ticket because the session could not be
		// activated; the caller may retry once the active session ends.
		return nil, fmt.Errorf("join queue: session %s could not be activated", resp.SessionID)
	}
	return c.ticket, nil
}

// Leave exits the queue. It is only meaningful while queued; after a match
// it is a no-op.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.Lock()
	t := c.ticket
	if t == nil || t.Status != StatusQueued {
		c.mu.Unlock()
		return nil
	}
	c.ticket = nil
	c.mu.Unlock()

	return c.api.Leave(ctx)
}

// Ticket returns the current ticket, or nil.
func (c *Coordinator) Ticket() *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticket
}

// Discard forgets a matched ticket so the user can queue again after the
// session ends.
func (c *Coordinator) Discard() {
	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()
}

// Close shuts the push channel down. Any pending reconnect dies with it.
func (c *Coordinator) Close() {
	c.ch.Close()
}

// handleMessage dispatches one push frame. Runs on the channel's reader
// goroutine, so events for a ticket are processed in receipt order.
func (c *Coordinator) handleMessage(raw json.RawMessage) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Printf("QUEUE: dropping malformed push: %v", err)
		return
	}

	switch probe.Type {
	case EventMatchFound:
		var evt MatchFoundEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Printf("QUEUE: dropping malformed match_found: %v", err)
			return
		}
		c.resolve(evt.SessionID, evt.MatchedUserID, evt.MatchedUser)

	case EventQueueUpdate:
		var evt QueueUpdateEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			log.Printf("QUEUE: dropping malformed queue_update: %v", err)
			return
		}
		c.mu.Lock()
		if c.ticket != nil && c.ticket.Status == StatusQueued {
			c.ticket.Position = evt.Position
		}
		c.mu.Unlock()
		if c.cb.OnQueueUpdate != nil {
			c.cb.OnQueueUpdate(evt.Position)
		}

	default:
		log.Printf("QUEUE: ignoring push type %q", probe.Type)
	}
}

// resolve converts a pairing event into a session, exactly once per ticket.
// Both the synchronous matched response and the push event land here, so a
// duplicate (sync response followed by a late push, or a repeated push) is
// absorbed without creating a second session.
func (c *Coordinator) resolve(sessionID, counterpartID, counterpart string) {
	c.mu.Lock()
	t := c.ticket
	if t == nil {
		c.mu.Unlock()
		log.Printf("QUEUE: match_found for %s with no active ticket, dropping", sessionID)
		return
	}
	if t.Status == StatusMatched {
		if t.Session != nil && t.Session.ID != sessionID {
			log.Printf("QUEUE: match_found for %s but ticket already matched to %s, dropping",
				sessionID, t.Session.ID)
		}
		c.mu.Unlock()
		return
	}
	s := &session.Session{ID: sessionID, CounterpartID: counterpartID, Counterpart: counterpart}
	t.Status = StatusMatched
	t.Session = s
	c.mu.Unlock()

	if err := c.registry.Begin(s); err != nil {
		log.Printf("QUEUE: cannot activate session %s: %v", sessionID, err)
		// Revert so the user is matchable again; a ticket stuck on matched
		// with no running session would wedge the client.
		c.mu.Lock()
		if c.ticket == t {
			c.ticket = nil
		}
		c.mu.Unlock()
		return
	}
	log.Printf("QUEUE: matched with %s (session %s)", counterpart, sessionID)
	if c.cb.OnSession != nil {
		c.cb.OnSession(s)
	}
}
