package stub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const hubWriteTimeout = 10 * time.Second

// wsConn serializes writes to one websocket connection.
type wsConn struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *wsConn) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("STUB: marshal push: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("STUB: push to %s: %v", c.userID, err)
	}
}

// hub tracks live websocket connections: per-user matching sockets and
// per-session groups for signaling and chat.
type hub struct {
	mu      sync.Mutex
	byUser  map[string][]*wsConn
	byGroup map[string][]*wsConn
}

func newHub() *hub {
	return &hub{
		byUser:  make(map[string][]*wsConn),
		byGroup: make(map[string][]*wsConn),
	}
}

func (h *hub) addUserConn(c *wsConn) {
	h.mu.Lock()
	h.byUser[c.userID] = append(h.byUser[c.userID], c)
	h.mu.Unlock()
}

func (h *hub) removeUserConn(c *wsConn) {
	h.mu.Lock()
	h.byUser[c.userID] = remove(h.byUser[c.userID], c)
	if len(h.byUser[c.userID]) == 0 {
		delete(h.byUser, c.userID)
	}
	h.mu.Unlock()
}

func (h *hub) addGroupConn(group string, c *wsConn) {
	h.mu.Lock()
	h.byGroup[group] = append(h.byGroup[group], c)
	h.mu.Unlock()
}

func (h *hub) removeGroupConn(group string, c *wsConn) {
	h.mu.Lock()
	h.byGroup[group] = remove(h.byGroup[group], c)
	if len(h.byGroup[group]) == 0 {
		delete(h.byGroup, group)
	}
	h.mu.Unlock()
}

func remove(conns []*wsConn, c *wsConn) []*wsConn {
	for i, other := range conns {
		if other == c {
			return append(conns[:i], conns[i+1:]...)
		}
	}
	return conns
}

// notifyUser pushes v to every matching socket the user has open.
func (h *hub) notifyUser(userID string, v any) {
	h.mu.Lock()
	conns := append([]*wsConn(nil), h.byUser[userID]...)
	h.mu.Unlock()
	for _, c := range conns {
		c.send(v)
	}
}

// broadcast pushes v to a session group. exclude skips one connection
// (signaling never echoes to the sender; chat passes nil and echoes).
func (h *hub) broadcast(group string, v any, exclude *wsConn) {
	h.mu.Lock()
	conns := append([]*wsConn(nil), h.byGroup[group]...)
	h.mu.Unlock()
	for _, c := range conns {
		if c != exclude {
			c.send(v)
		}
	}
}
