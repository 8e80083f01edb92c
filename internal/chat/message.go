package chat

import "time"

const (
	// TypeChatMessage is a text message within the session.
	TypeChatMessage = "chat_message"
	// TypeTyping is the outbound typing notification.
	TypeTyping = "typing"
	// TypeTypingIndicator is the inbound typing notification for the
	// counterpart.
	TypeTypingIndicator = "typing_indicator"
)

// Message is one chat frame as it travels over the session channel. The
// server fans it out to the whole session group including the sender, so
// our own messages come back as an echo and are stored on receipt.
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
}

// NewMessage builds an outbound chat message from sender.
func NewMessage(sender, content string) *Message {
	return &Message{
		Type:      TypeChatMessage,
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// typingFrame is what we send when the local user starts or stops typing.
type typingFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// typingIndicator is the server's fan-out of a peer's typing state.
type typingIndicator struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	IsTyping bool   `json:"is_typing"`
}
