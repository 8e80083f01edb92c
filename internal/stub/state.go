package stub

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// User is a registered guest identity.
type User struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	IsVisitor bool   `json:"is_visitor"`
}

// Session is an active pairing between two users.
type Session struct {
	ID       string
	UserA    User
	UserB    User
	TopicTag string
	Language string
}

type queueEntry struct {
	user       User
	vibeTag    string
	language   string
	isVisitor  bool
	enqueuedAt time.Time
}

type fuseMoment struct {
	ID               string
	SessionID        string
	UserA            User
	UserB            User
	SummaryText      string
	ContactExchanged bool
	CreatedAt        time.Time
}

type contactCard struct {
	Whatsapp  string `json:"whatsapp"`
	Instagram string `json:"instagram"`
	Telegram  string `json:"telegram"`
	Note      string `json:"note"`
}

// matchResult is the outcome of a join: matched with a session, or queued
// at a position.
type matchResult struct {
	matched     bool
	session     *Session
	counterpart User
	position    int
}

// state is the in-memory world of the stub: users, the waiting queue,
// sessions and the fuse bookkeeping. One mutex over everything; this server
// exists for single-process development and tests.
type state struct {
	mu       sync.Mutex
	users    map[string]User
	queue    []*queueEntry
	sessions map[string]*Session
	// likes[sessionID][userID]
	likes           map[string]map[string]bool
	moments         map[string]*fuseMoment
	momentBySession map[string]string
	// contacts[momentID][senderID]
	contacts map[string]map[string]contactCard
}

func newState() *state {
	return &state{
		users:           make(map[string]User),
		sessions:        make(map[string]*Session),
		likes:           make(map[string]map[string]bool),
		moments:         make(map[string]*fuseMoment),
		momentBySession: make(map[string]string),
		contacts:        make(map[string]map[string]contactCard),
	}
}

func (s *state) addUser(nickname string, isVisitor bool) User {
	u := User{ID: uuid.New().String(), Nickname: nickname, IsVisitor: isVisitor}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return u
}

func (s *state) user(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func languageCompatible(a, b string) bool {
	if a == "mixed" || b == "mixed" {
		return true
	}
	return a == b
}

// findMatchLocked picks the best waiting counterpart: same vibe tag first,
// then anyone waiting on "random", then any language-compatible entry.
// Returns the queue index or -1.
func (s *state) findMatchLocked(vibeTag, language string) int {
	if vibeTag != "random" {
		for i, e := range s.queue {
			if e.vibeTag == vibeTag && languageCompatible(language, e.language) {
				return i
			}
		}
	}
	for i, e := range s.queue {
		if e.vibeTag == "random" && languageCompatible(language, e.language) {
			return i
		}
	}
	for i, e := range s.queue {
		if languageCompatible(language, e.language) {
			return i
		}
	}
	return -1
}

// join removes any stale entry for the user, then either pairs them with a
// waiting counterpart or appends them to the queue.
func (s *state) join(u User, vibeTag, language string, isVisitor bool) matchResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(u.ID)

	if i := s.findMatchLocked(vibeTag, language); i >= 0 {
		entry := s.queue[i]
		s.queue = append(s.queue[:i], s.queue[i+1:]...)

		session := &Session{
			ID:       uuid.New().String(),
			UserA:    u,
			UserB:    entry.user,
			TopicTag: vibeTag,
			Language: language,
		}
		s.sessions[session.ID] = session
		return matchResult{matched: true, session: session, counterpart: entry.user}
	}

	s.queue = append(s.queue, &queueEntry{
		user:       u,
		vibeTag:    vibeTag,
		language:   language,
		isVisitor:  isVisitor,
		enqueuedAt: time.Now(),
	})
	return matchResult{position: len(s.queue)}
}

// leave removes the user's queue entry; reports whether one existed.
func (s *state) leave(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(userID)
}

func (s *state) removeLocked(userID string) bool {
	for i, e := range s.queue {
		if e.user.ID == userID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// positions returns userID -> 1-based queue position for everyone waiting.
func (s *state) positions() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.queue))
	for i, e := range s.queue {
		out[e.user.ID] = i + 1
	}
	return out
}

func (s *state) stats() (total int, byVibe map[string]int, visitors int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVibe = make(map[string]int)
	for _, e := range s.queue {
		byVibe[e.vibeTag]++
		if e.isVisitor {
			visitors++
		}
	}
	return len(s.queue), byVibe, visitors
}

func (s *state) session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (sess *Session) member(userID string) bool {
	return sess.UserA.ID == userID || sess.UserB.ID == userID
}

// like records a like; get-or-create on both the like and, on mutuality,
// the fuse moment. Returns (alreadyLiked, moment).
func (s *state) like(sess *Session, userID string) (bool, *fuseMoment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	likes := s.likes[sess.ID]
	if likes == nil {
		likes = make(map[string]bool)
		s.likes[sess.ID] = likes
	}
	if likes[userID] {
		return true, nil
	}
	likes[userID] = true

	other := sess.UserA
	if userID == sess.UserA.ID {
		other = sess.UserB
	}
	if !likes[other.ID] {
		return false, nil
	}

	if id, ok := s.momentBySession[sess.ID]; ok {
		return false, s.moments[id]
	}
	moment := &fuseMoment{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		UserA:     sess.UserA,
		UserB:     sess.UserB,
		SummaryText: fmt.Sprintf("Great conversation between %s and %s!",
			sess.UserA.Nickname, sess.UserB.Nickname),
		CreatedAt: time.Now(),
	}
	s.moments[moment.ID] = moment
	s.momentBySession[sess.ID] = moment.ID
	return false, moment
}

func (s *state) moment(id string) (*fuseMoment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	return m, ok
}

// shareContact upserts the sender's card and marks the moment exchanged.
func (s *state) shareContact(momentID, senderID string, card contactCard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := s.contacts[momentID]
	if cards == nil {
		cards = make(map[string]contactCard)
		s.contacts[momentID] = cards
	}
	cards[senderID] = card
	if m, ok := s.moments[momentID]; ok {
		m.ContactExchanged = true
	}
}

// momentsFor lists the user's fuse moments, newest first.
func (s *state) momentsFor(userID string) []*fuseMoment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fuseMoment
	for _, m := range s.moments {
		if m.UserA.ID == userID || m.UserB.ID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
