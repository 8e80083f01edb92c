package channel

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsServer upgrades every request and hands the connection to accept.
func wsServer(t *testing.T, accept func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		accept(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastOpts() Options {
	return Options{Heartbeat: 25 * time.Millisecond, Reconnect: 50 * time.Millisecond}
}

func TestDeliversMessagesInOrder(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	_, url := wsServer(t, func(c *websocket.Conn) { conns <- c })

	var mu sync.Mutex
	var got []string
	ch := Dial("test", url, fastOpts(), func(raw json.RawMessage) {
		var m struct {
			Type string `json:"type"`
			N    int    `json:"n"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Errorf("unmarshal: %v", err)
			return
		}
		mu.Lock()
		got = append(got, m.Type)
		mu.Unlock()
	}, nil)
	defer ch.Close()

	conn := <-conns
	for _, typ := range []string{"queue_update", "heartbeat", "match_found", "heartbeat_response", "chat_message"} {
		if err := conn.WriteJSON(map[string]any{"type": typ}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for messages, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"queue_update", "match_found", "chat_message"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v (heartbeats must be swallowed)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReconnectsAfterAbnormalClose(t *testing.T) {
	var dials atomic.Int32
	conns := make(chan *websocket.Conn, 4)
	_, url := wsServer(t, func(c *websocket.Conn) {
		dials.Add(1)
		conns <- c
	})

	states := make(chan bool, 8)
	ch := Dial("test", url, fastOpts(), nil, func(connected bool, _ error) {
		states <- connected
	})
	defer ch.Close()

	first := waitConn(t, conns)
	waitState(t, states, true)

	// Kill the connection without a close handshake: abnormal closure.
	first.Close()
	waitState(t, states, false)
	waitState(t, states, true)

	if n := dials.Load(); n != 2 {
		t.Fatalf("expected 2 dials, got %d", n)
	}
}

func TestServerNormalCloseStopsChannel(t *testing.T) {
	var dials atomic.Int32
	conns := make(chan *websocket.Conn, 2)
	_, url := wsServer(t, func(c *websocket.Conn) {
		dials.Add(1)
		conns <- c
	})

	states := make(chan bool, 8)
	ch := Dial("test", url, fastOpts(), nil, func(connected bool, _ error) {
		states <- connected
	})
	defer ch.Close()

	conn := waitConn(t, conns)
	waitState(t, states, true)

	// Server-initiated normal closure must not trigger a redial.
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
	waitState(t, states, false)

	time.Sleep(200 * time.Millisecond)
	if n := dials.Load(); n != 1 {
		t.Fatalf("expected no redial after normal close, got %d dials", n)
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	var dials atomic.Int32
	conns := make(chan *websocket.Conn, 2)
	_, url := wsServer(t, func(c *websocket.Conn) {
		dials.Add(1)
		conns <- c
	})

	ch := Dial("test", url, Options{Heartbeat: time.Second, Reconnect: 100 * time.Millisecond}, nil, nil)

	conn := waitConn(t, conns)
	conn.Close() // abnormal close, arms the reconnect timer

	time.Sleep(20 * time.Millisecond)
	ch.Close() // must disarm it

	time.Sleep(300 * time.Millisecond)
	if n := dials.Load(); n != 1 {
		t.Fatalf("closed channel resurrected itself: %d dials", n)
	}
	if ch.Connected() {
		t.Fatal("closed channel reports connected")
	}
}

func TestSendWhileDisconnectedDropsSilently(t *testing.T) {
	// Point at a server that immediately goes away.
	srv, url := wsServer(t, func(c *websocket.Conn) { c.Close() })
	srv.Close()

	ch := Dial("test", url, fastOpts(), nil, nil)
	defer ch.Close()

	if err := ch.Send(map[string]string{"type": "chat_message"}); err != nil {
		t.Fatalf("fire-and-forget send returned error: %v", err)
	}
}

func TestHeartbeatSentWhileConnected(t *testing.T) {
	beats := make(chan struct{}, 16)
	_, url := wsServer(t, func(c *websocket.Conn) {
		for {
			var m struct {
				Type string `json:"type"`
			}
			if err := c.ReadJSON(&m); err != nil {
				return
			}
			if m.Type == "heartbeat" {
				beats <- struct{}{}
			}
		}
	})

	ch := Dial("test", url, fastOpts(), nil, nil)
	defer ch.Close()

	select {
	case <-beats:
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat within 2s")
	}
}

func waitConn(t *testing.T, conns chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func waitState(t *testing.T, states chan bool, want bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
