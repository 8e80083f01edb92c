// Package channel implements the reconnecting websocket channel every
// realtime surface (matching, signaling, chat) runs on.
//
// The channel is fire-and-forget: sends while disconnected are dropped
// silently and no outbound queue exists. Abnormal closures redial after a
// fixed backoff until the owner calls Close. A heartbeat frame goes out on a
// fixed interval to keep intermediary proxies from idling the connection;
// heartbeat traffic in either direction never reaches the message callback.
package channel

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Options tune a channel's keepalive and redial behavior.
type Options struct {
	// Heartbeat is the keepalive interval. Zero defaults to 30 s.
	Heartbeat time.Duration
	// Reconnect is the fixed backoff before redialing after an abnormal
	// closure. Zero defaults to 3 s.
	Reconnect time.Duration
}

func (o Options) withDefaults() Options {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
	if o.Reconnect <= 0 {
		o.Reconnect = 3 * time.Second
	}
	return o
}

// MessageFunc receives each inbound non-heartbeat frame, in receipt order,
// from a single goroutine.
type MessageFunc func(raw json.RawMessage)

// StateFunc is notified on connect (connected=true, err=nil) and on
// disconnect. A non-nil err describes the transport failure; errors are
// reported here, never raised into caller code paths.
type StateFunc func(connected bool, err error)

// Channel is a duplex message channel with automatic reconnect.
type Channel struct {
	name string // log label, e.g. "matching", "signaling s1"
	url  string
	opts Options

	onMessage MessageFunc
	onState   StateFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	pending *time.Timer // scheduled reconnect, cancelled by Close
	gen     int         // bumped per connection; stale goroutines check it

	writeMu sync.Mutex
}

// Dial creates the channel and starts connecting in the background. The
// auth token is expected to already be part of url (?token=...). Either
// callback may be nil.
func Dial(name, url string, opts Options, onMessage MessageFunc, onState StateFunc) *Channel {
	c := &Channel{
		name:      name,
		url:       url,
		opts:      opts.withDefaults(),
		onMessage: onMessage,
		onState:   onState,
	}
	go c.connect()
	return c
}

// connect performs one dial attempt and, on success, starts the read and
// heartbeat loops for the new connection.
func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		log.Printf("CHANNEL [%s]: dial failed: %v", c.name, err)
		c.notifyState(false, err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		// Closed while dialing, do not resurrect.
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	log.Printf("CHANNEL [%s]: connected", c.name)
	c.notifyState(true, nil)

	go c.heartbeatLoop(conn, gen)
	go c.readLoop(conn, gen)
}

// readLoop delivers inbound frames until the connection dies. Running it on
// one goroutine per connection preserves receipt order for the callback.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, gen, err)
			return
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			log.Printf("CHANNEL [%s]: dropping malformed frame: %v", c.name, err)
			continue
		}
		if probe.Type == "heartbeat" || probe.Type == "heartbeat_response" {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(json.RawMessage(data))
		}
	}
}

// handleDisconnect tears down a dead connection and decides whether to
// redial. Owner-initiated closes and a server-sent normal closure stop the
// channel; everything else reconnects after the backoff.
func (c *Channel) handleDisconnect(conn *websocket.Conn, gen int, err error) {
	conn.Close()

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		log.Printf("CHANNEL [%s]: closed by server", c.name)
		c.notifyState(false, nil)
		return
	}

	log.Printf("CHANNEL [%s]: connection lost: %v", c.name, err)
	c.notifyState(false, err)
	c.scheduleReconnect()
}

// scheduleReconnect arms a single redial timer unless the owner has closed
// the channel. Close cancels the timer, so a closed channel can never come
// back to life.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.pending != nil {
		return
	}
	c.pending = time.AfterFunc(c.opts.Reconnect, func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		c.connect()
	})
}

// heartbeatLoop sends a keepalive frame on the heartbeat interval for as
// long as conn is the channel's live connection.
func (c *Channel) heartbeatLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		live := !c.closed && gen == c.gen && c.conn == conn
		c.mu.Unlock()
		if !live {
			return
		}
		if err := c.write(conn, map[string]string{"type": "heartbeat"}); err != nil {
			log.Printf("CHANNEL [%s]: heartbeat failed: %v", c.name, err)
			return
		}
	}
}

// Send marshals v and writes it to the current connection. While
// disconnected (or after Close) the message is dropped silently; the
// channel makes no delivery guarantees.
func (c *Channel) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed || conn == nil {
		return nil
	}
	if err := c.write(conn, v); err != nil {
		// The read loop will observe the dead connection and redial.
		log.Printf("CHANNEL [%s]: send failed: %v", c.name, err)
	}
	return nil
}

func (c *Channel) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// Connected reports whether the channel currently has a live connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close permanently shuts the channel down: it cancels any pending redial,
// sends a normal-closure frame, and invalidates the handle. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"))
		c.writeMu.Unlock()
		conn.Close()
	}
	log.Printf("CHANNEL [%s]: closed", c.name)
}

func (c *Channel) notifyState(connected bool, err error) {
	if c.onState != nil {
		c.onState(connected, err)
	}
}
