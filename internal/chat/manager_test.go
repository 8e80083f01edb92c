package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fusetalk/fuselink/internal/channel"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeSender) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) Close() {}

func (f *fakeSender) all() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

func unitManager(nickname string, historySize int) (*Manager, *fakeSender) {
	m := newManager("s1", nickname, historySize)
	sender := &fakeSender{}
	m.ch = sender
	return m, sender
}

func frame(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestInboundMessageStoredAndFannedOut(t *testing.T) {
	m, _ := unitManager("ana", 10)
	sub := m.Subscribe()

	m.handleFrame(frame(t, NewMessage("ben", "hey there")))

	select {
	case msg := <-sub:
		if msg.Sender != "ben" || msg.Content != "hey there" {
			t.Fatalf("got %+v", msg)
		}
		if m.IsOwn(msg) {
			t.Fatal("counterpart message reported as own")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the message")
	}

	if got := m.History(); len(got) != 1 || got[0].Content != "hey there" {
		t.Fatalf("history %+v", got)
	}
}

func TestOwnEchoIsStoredAndMarkedOwn(t *testing.T) {
	m, sender := unitManager("ana", 10)

	if err := m.Send("hello"); err != nil {
		t.Fatal(err)
	}
	// Nothing in history yet: storage happens on the server echo.
	if m.history.Len() != 0 {
		t.Fatal("message stored before echo")
	}

	sent := sender.all()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	out, ok := sent[0].(*Message)
	if !ok || out.Type != TypeChatMessage || out.Sender != "ana" {
		t.Fatalf("outbound frame %+v", sent[0])
	}

	// Echo it back the way the session group would.
	m.handleFrame(frame(t, out))
	got := m.History()
	if len(got) != 1 || !m.IsOwn(got[0]) {
		t.Fatalf("echo not stored as own: %+v", got)
	}
}

func TestTypingIndicatorDispatch(t *testing.T) {
	m, sender := unitManager("ana", 10)

	var mu sync.Mutex
	var events []string
	m.SetTypingHandler(func(user string, isTyping bool) {
		mu.Lock()
		events = append(events, user)
		mu.Unlock()
		if !isTyping {
			t.Errorf("isTyping=false, want true")
		}
	})

	m.handleFrame(frame(t, typingIndicator{Type: TypeTypingIndicator, User: "ben", IsTyping: true}))
	// Our own typing comes back through the group and must be ignored.
	m.handleFrame(frame(t, typingIndicator{Type: TypeTypingIndicator, User: "ana", IsTyping: true}))

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "ben" {
		t.Fatalf("typing events %v, want [ben]", events)
	}

	if err := m.SetTyping(true); err != nil {
		t.Fatal(err)
	}
	sent := sender.all()
	tf, ok := sent[len(sent)-1].(typingFrame)
	if !ok || tf.Type != TypeTyping || !tf.IsTyping {
		t.Fatalf("outbound typing frame %+v", sent[len(sent)-1])
	}
}

func TestHistoryWindowEvictsOldest(t *testing.T) {
	m, _ := unitManager("ana", 3)

	for _, content := range []string{"one", "two", "three", "four"} {
		m.handleFrame(frame(t, NewMessage("ben", content)))
	}

	got := m.History()
	if len(got) != 3 {
		t.Fatalf("history length %d, want 3", len(got))
	}
	if got[0].Content != "two" || got[2].Content != "four" {
		t.Fatalf("window contents wrong: %+v", got)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	m, _ := unitManager("ana", 10)

	m.handleFrame(json.RawMessage(`{broken`))
	m.handleFrame(json.RawMessage(`{"type":"mystery"}`))

	if m.history.Len() != 0 {
		t.Fatal("malformed frame reached history")
	}
}

func TestUnsubscribeClosesListener(t *testing.T) {
	m, _ := unitManager("ana", 10)
	sub := m.Subscribe()
	m.Unsubscribe(sub)

	if _, open := <-sub; open {
		t.Fatal("unsubscribed channel still open")
	}
	// Messages after unsubscribe must not panic.
	m.handleFrame(frame(t, NewMessage("ben", "still here")))
}

func TestCloseIsIdempotentAndDropsSends(t *testing.T) {
	m, sender := unitManager("ana", 10)
	sub := m.Subscribe()

	m.Close()
	m.Close()

	if _, open := <-sub; open {
		t.Fatal("listener not closed on Close")
	}
	if err := m.Send("too late"); err != nil {
		t.Fatal(err)
	}
	if len(sender.all()) != 0 {
		t.Fatal("send after Close reached the channel")
	}
}

// TestEchoOverWebsocket runs the manager over a real websocket that echoes
// every frame back, the way the session group includes the sender.
func TestEchoOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"heartbeat"`) {
				continue
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := New("s1", wsURL, "ana", channel.Options{Heartbeat: time.Minute}, 10)
	defer m.Close()
	sub := m.Subscribe()

	deadline := time.After(5 * time.Second)
	for {
		if err := m.Send("ping"); err != nil {
			t.Fatal(err)
		}
		select {
		case msg := <-sub:
			if msg.Content != "ping" || !m.IsOwn(msg) {
				t.Fatalf("echo %+v", msg)
			}
			return
		case <-time.After(50 * time.Millisecond):
			// Channel may not be connected yet; resend.
		case <-deadline:
			t.Fatal("echo never arrived")
		}
	}
}
