package queue

// Ticket status values, mirrored from the join response "status" field.
const (
	StatusQueued  = "queued"
	StatusMatched = "matched"
)

// Push event types on the /ws/matching/ channel.
const (
	EventMatchFound  = "match_found"
	EventQueueUpdate = "queue_update"
)

// Preferences select who the queue may pair the local user with.
type Preferences struct {
	VibeTag   string `json:"vibe_tag"`
	Language  string `json:"language"`
	IsVisitor bool   `json:"is_visitor"`
}

// JoinResponse is the synchronous answer to a queue join. Status "matched"
// carries the session immediately; "queued" means the pairing arrives later
// as a MatchFoundEvent.
type JoinResponse struct {
	Status        string `json:"status"`
	SessionID     string `json:"session_id,omitempty"`
	MatchedUser   string `json:"matched_user,omitempty"`
	MatchedUserID string `json:"matched_user_id,omitempty"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Message       string `json:"message,omitempty"`
}

// MatchFoundEvent is pushed when a queued user gets paired. MatchedUserID
// is the counterpart's unique identity; negotiation roles are derived from
// it (nicknames are display-only and may collide).
type MatchFoundEvent struct {
	Type          string `json:"type"` // EventMatchFound
	SessionID     string `json:"session_id"`
	MatchedUser   string `json:"matched_user"`
	MatchedUserID string `json:"matched_user_id"`
	Message       string `json:"message,omitempty"`
}

// QueueUpdateEvent reports the user's current position while waiting.
type QueueUpdateEvent struct {
	Type     string `json:"type"` // EventQueueUpdate
	Position int    `json:"position"`
	Message  string `json:"message,omitempty"`
}

// Stats is the monitoring view of the queue.
type Stats struct {
	TotalWaiting    int            `json:"total_waiting"`
	ByVibeTag       map[string]int `json:"by_vibe_tag"`
	VisitorsWaiting int            `json:"visitors_waiting"`
}
