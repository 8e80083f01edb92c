// Package chat runs the text-chat side of a session over its own websocket
// channel. Messages are kept in a bounded in-memory history and fanned out
// to subscribers; typing state is surfaced through a handler.
package chat

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/fusetalk/fuselink/internal/channel"
	"github.com/fusetalk/fuselink/internal/util"
)

// DefaultHistorySize is the default number of messages kept in memory.
const DefaultHistorySize = 100

// TypingHandler receives the counterpart's typing state changes.
type TypingHandler func(user string, isTyping bool)

// sender abstracts the channel for tests.
type sender interface {
	Send(v any) error
	Close()
}

// Manager handles one session's chat traffic.
type Manager struct {
	sessionID string
	nickname  string

	mu        sync.RWMutex
	ch        sender
	history   *util.History[*Message]
	listeners []chan *Message
	onTyping  TypingHandler
	closed    bool
}

// New opens the chat channel for a session. nickname is the local display
// name used as the sender on outbound messages. historySize <= 0 uses
// DefaultHistorySize.
func New(sessionID, wsURL, nickname string, opts channel.Options, historySize int) *Manager {
	m := newManager(sessionID, nickname, historySize)
	ch := channel.Dial("chat "+sessionID, wsURL, opts, m.handleFrame, nil)
	m.mu.Lock()
	m.ch = ch
	m.mu.Unlock()
	return m
}

func newManager(sessionID, nickname string, historySize int) *Manager {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Manager{
		sessionID: sessionID,
		nickname:  nickname,
		history:   util.NewHistory[*Message](historySize),
	}
}

// Send queues a chat message. The message is not stored locally; the server
// echoes it back through the group and it lands in history like any other.
func (m *Manager) Send(content string) error {
	m.mu.RLock()
	ch, closed := m.ch, m.closed
	m.mu.RUnlock()
	if closed || ch == nil {
		return nil
	}
	return ch.Send(NewMessage(m.nickname, content))
}

// SetTyping reports the local user's typing state to the session.
func (m *Manager) SetTyping(isTyping bool) error {
	m.mu.RLock()
	ch, closed := m.ch, m.closed
	m.mu.RUnlock()
	if closed || ch == nil {
		return nil
	}
	return ch.Send(typingFrame{Type: TypeTyping, IsTyping: isTyping})
}

// History returns the stored messages, oldest first.
func (m *Manager) History() []*Message {
	return m.history.All()
}

// IsOwn reports whether msg originated from the local user.
func (m *Manager) IsOwn(msg *Message) bool {
	return msg.Sender == m.nickname
}

// Subscribe returns a channel that receives new messages. A slow subscriber
// misses messages rather than blocking the read loop.
func (m *Manager) Subscribe() <-chan *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Message, 10)
	m.listeners = append(m.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (m *Manager) Unsubscribe(ch <-chan *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			close(listener)
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// SetTypingHandler registers the typing-indicator handler.
func (m *Manager) SetTypingHandler(fn TypingHandler) {
	m.mu.Lock()
	m.onTyping = fn
	m.mu.Unlock()
}

// handleFrame dispatches one inbound frame from the channel's read loop.
func (m *Manager) handleFrame(raw json.RawMessage) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		log.Printf("CHAT [%s]: dropping malformed frame: %v", m.sessionID, err)
		return
	}

	switch probe.Type {
	case TypeChatMessage:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("CHAT [%s]: dropping malformed message: %v", m.sessionID, err)
			return
		}
		m.addMessage(&msg)

	case TypeTypingIndicator:
		var ind typingIndicator
		if err := json.Unmarshal(raw, &ind); err != nil {
			log.Printf("CHAT [%s]: dropping malformed typing indicator: %v", m.sessionID, err)
			return
		}
		// Our own typing comes back through the group too; not interesting.
		if ind.User == m.nickname {
			return
		}
		m.mu.RLock()
		fn := m.onTyping
		m.mu.RUnlock()
		if fn != nil {
			fn(ind.User, ind.IsTyping)
		}

	default:
		log.Printf("CHAT [%s]: ignoring frame type %q", m.sessionID, probe.Type)
	}
}

// addMessage stores a message and notifies listeners.
func (m *Manager) addMessage(msg *Message) {
	m.history.Append(msg)
	log.Printf("CHAT [%s]: message from %s: %.50s", m.sessionID, msg.Sender, msg.Content)

	m.mu.RLock()
	for _, listener := range m.listeners {
		select {
		case listener <- msg:
		default:
		}
	}
	m.mu.RUnlock()
}

// Close shuts the chat channel down and closes all listener channels.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ch := m.ch
	m.ch = nil
	for _, listener := range m.listeners {
		close(listener)
	}
	m.listeners = nil
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	log.Printf("CHAT [%s]: closed", m.sessionID)
}
