// Package stub is an in-process coordination server: guest auth, the
// matching queue, and the matching/signaling/chat websocket topics. It
// exists so the client can run (and be integration-tested) without the
// production backend; state lives in memory and dies with the process.
package stub

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the stub coordination server.
type Server struct {
	secret string
	state  *state
	hub    *hub
	engine *gin.Engine
	http   *http.Server
	addr   string
}

// New builds the server with all routes registered.
func New(secret string) *Server {
	s := &Server{
		secret: secret,
		state:  newState(),
		hub:    newHub(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/auth/guest/", s.registerGuest)

	authed := r.Group("/", s.tokenAuth())
	authed.GET("/api/auth/profile/", s.profile)
	authed.POST("/api/match/join/", s.joinQueue)
	authed.POST("/api/match/leave/", s.leaveQueue)
	authed.GET("/api/match/stats/", s.queueStats)
	authed.POST("/api/chat/sessions/:sessionId/like/", s.likeSession)
	authed.POST("/api/chat/fuse-moments/:momentId/share-contact/", s.shareContact)
	authed.GET("/api/chat/fuse-moments/", s.listMoments)

	r.GET("/ws/matching/", s.matchingSocket)
	r.GET("/ws/signaling/:sessionId/", s.groupSocket("signaling"))
	r.GET("/ws/chat/:sessionId/", s.groupSocket("chat"))

	s.engine = r
	return s
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() http.Handler { return s.engine }

// Start binds the listener and serves in the background. The bound address
// is available via Addr as soon as Start returns, so ":0" binds work.
func (s *Server) Start(bind string) error {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("stub listen on %s: %w", bind, err)
	}
	s.addr = ln.Addr().String()
	s.http = &http.Server{Handler: s.engine}
	go func() {
		log.Printf("STUB: listening on %s", s.addr)
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("STUB: server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the listener address after Start.
func (s *Server) Addr() string { return s.addr }

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (s *Server) mintToken(u User) (string, error) {
	claims := tokenClaims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
}

func (s *Server) parseToken(tokenString string) (User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return User{}, err
	}
	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return User{}, fmt.Errorf("invalid token claims")
	}
	u, ok := s.state.user(claims.UserID)
	if !ok {
		return User{}, fmt.Errorf("unknown user")
	}
	return u, nil
}

// tokenAuth validates the "Token <jwt>" Authorization header and stores the
// user on the context.
func (s *Server) tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Token" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		u, err := s.parseToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set("user", u)
		c.Next()
	}
}

func currentUser(c *gin.Context) User {
	return c.MustGet("user").(User)
}

func (s *Server) registerGuest(c *gin.Context) {
	var req struct {
		Nickname  string `json:"nickname" binding:"required"`
		IsVisitor bool   `json:"is_visitor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	u := s.state.addUser(req.Nickname, req.IsVisitor)
	token, err := s.mintToken(u)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	log.Printf("STUB: registered guest %q (id %s)", u.Nickname, u.ID)
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": u})
}

func (s *Server) profile(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) joinQueue(c *gin.Context) {
	var req struct {
		VibeTag   string `json:"vibe_tag"`
		Language  string `json:"language"`
		IsVisitor bool   `json:"is_visitor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.VibeTag == "" {
		req.VibeTag = "random"
	}
	if req.Language == "" {
		req.Language = "mixed"
	}

	u := currentUser(c)
	res := s.state.join(u, req.VibeTag, req.Language, req.IsVisitor)

	if res.matched {
		log.Printf("STUB: match %s <-> %s (session %s)", u.Nickname, res.counterpart.Nickname, res.session.ID)
		// The counterpart is still waiting on their matching socket.
		s.hub.notifyUser(res.counterpart.ID, gin.H{
			"type":            "match_found",
			"session_id":      res.session.ID,
			"matched_user":    u.Nickname,
			"matched_user_id": u.ID,
			"message":         fmt.Sprintf("Great! You're matched with %s", u.Nickname),
		})
		s.pushQueuePositions()
		c.JSON(http.StatusOK, gin.H{
			"status":          "matched",
			"session_id":      res.session.ID,
			"matched_user":    res.counterpart.Nickname,
			"matched_user_id": res.counterpart.ID,
		})
		return
	}

	log.Printf("STUB: %s queued at position %d", u.Nickname, res.position)
	c.JSON(http.StatusOK, gin.H{
		"status":         "queued",
		"queue_position": res.position,
	})
}

func (s *Server) leaveQueue(c *gin.Context) {
	u := currentUser(c)
	if s.state.leave(u.ID) {
		log.Printf("STUB: %s left the queue", u.Nickname)
		s.pushQueuePositions()
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left queue"})
}

// pushQueuePositions tells everyone still waiting where they stand.
func (s *Server) pushQueuePositions() {
	for userID, pos := range s.state.positions() {
		s.hub.notifyUser(userID, gin.H{
			"type":     "queue_update",
			"position": pos,
		})
	}
}

func (s *Server) queueStats(c *gin.Context) {
	total, byVibe, visitors := s.state.stats()
	c.JSON(http.StatusOK, gin.H{
		"total_waiting":    total,
		"by_vibe_tag":      byVibe,
		"visitors_waiting": visitors,
	})
}

func (s *Server) likeSession(c *gin.Context) {
	u := currentUser(c)
	sess, ok := s.state.session(c.Param("sessionId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if !sess.member(u.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}

	already, moment := s.state.like(sess, u.ID)
	if already {
		c.JSON(http.StatusOK, gin.H{"message": "Already liked"})
		return
	}
	if moment != nil {
		log.Printf("STUB: fuse moment %s for session %s", moment.ID, sess.ID)
		c.JSON(http.StatusCreated, gin.H{
			"message":        "Fuse Moment created!",
			"fuse_moment":    true,
			"fuse_moment_id": moment.ID,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":     "Session liked",
		"fuse_moment": false,
	})
}

func (s *Server) shareContact(c *gin.Context) {
	u := currentUser(c)
	moment, ok := s.state.moment(c.Param("momentId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Fuse moment not found"})
		return
	}
	if moment.UserA.ID != u.ID && moment.UserB.ID != u.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
		return
	}

	var card contactCard
	if err := c.ShouldBindJSON(&card); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	s.state.shareContact(moment.ID, u.ID, card)
	c.JSON(http.StatusCreated, gin.H{"message": "Contact shared successfully"})
}

func (s *Server) listMoments(c *gin.Context) {
	u := currentUser(c)
	moments := s.state.momentsFor(u.ID)

	results := make([]gin.H, 0, len(moments))
	for _, m := range moments {
		sess, _ := s.state.session(m.SessionID)
		topic := ""
		if sess != nil {
			topic = sess.TopicTag
		}
		results = append(results, gin.H{
			"id":                m.ID,
			"user_a":            gin.H{"nickname": m.UserA.Nickname},
			"user_b":            gin.H{"nickname": m.UserB.Nickname},
			"summary_text":      m.SummaryText,
			"contact_exchanged": m.ContactExchanged,
			"created_at":        m.CreatedAt.UTC().Format(time.RFC3339),
			"session":           gin.H{"id": m.SessionID, "topic_tag": topic},
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// wsAuth authenticates a websocket upgrade via the ?token= query.
func (s *Server) wsAuth(c *gin.Context) (User, bool) {
	u, err := s.parseToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return User{}, false
	}
	return u, true
}

// matchingSocket is the per-user notification topic: match_found and
// queue_update pushes, plus heartbeat echo.
func (s *Server) matchingSocket(c *gin.Context) {
	u, ok := s.wsAuth(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("STUB: upgrade failed: %v", err)
		return
	}

	wc := &wsConn{userID: u.ID, conn: conn}
	s.hub.addUserConn(wc)
	log.Printf("STUB: %s connected to matching", u.Nickname)

	defer func() {
		s.hub.removeUserConn(wc)
		conn.Close()
		log.Printf("STUB: %s disconnected from matching", u.Nickname)
	}()

	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame["type"] == "heartbeat" {
			wc.send(gin.H{"type": "heartbeat_response", "status": "alive"})
		}
	}
}

// groupSocket serves the per-session signaling and chat topics. Signaling
// frames are forwarded to the other members only; chat messages echo to the
// whole group, sender included, and typing becomes a typing_indicator.
func (s *Server) groupSocket(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := s.wsAuth(c)
		if !ok {
			return
		}
		sess, found := s.state.session(c.Param("sessionId"))
		if !found || !sess.member(u.ID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not authorized"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("STUB: upgrade failed: %v", err)
			return
		}

		group := kind + ":" + sess.ID
		wc := &wsConn{userID: u.ID, conn: conn}
		s.hub.addGroupConn(group, wc)
		log.Printf("STUB: %s joined %s", u.Nickname, group)

		defer func() {
			s.hub.removeGroupConn(group, wc)
			conn.Close()
			log.Printf("STUB: %s left %s", u.Nickname, group)
		}()

		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}

			switch frame["type"] {
			case "heartbeat":
				wc.send(gin.H{"type": "heartbeat_response", "status": "alive"})
			case "typing":
				isTyping, _ := frame["is_typing"].(bool)
				s.hub.broadcast(group, gin.H{
					"type":      "typing_indicator",
					"user":      u.Nickname,
					"is_typing": isTyping,
				}, nil)
			default:
				if kind == "chat" {
					s.hub.broadcast(group, frame, nil)
				} else {
					s.hub.broadcast(group, frame, wc)
				}
			}
		}
	}
}
